package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv overrides the base directory when set.
const HomeEnv = "MAILCTL_HOME"

// BaseDir returns ~/.mailctl, or $MAILCTL_HOME when set.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mailctl")
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// DBPath returns the local message store path.
func DBPath() string {
	return filepath.Join(BaseDir(), "mail.db")
}

// IdentityPath returns the identity record path.
func IdentityPath() string {
	return filepath.Join(BaseDir(), "identity.toml")
}

// KeyringDir returns the directory used by the file keyring backend.
func KeyringDir() string {
	return filepath.Join(BaseDir(), "keyring")
}

// AttachmentsDir returns the default attachment content root.
func AttachmentsDir() string {
	return filepath.Join(BaseDir(), "attachments")
}

// LockDir returns the directory holding the credential lock file.
func LockDir() string {
	return filepath.Join(BaseDir(), "run")
}

// LogDir returns the log directory.
func LogDir() string {
	return filepath.Join(BaseDir(), "logs")
}

// LogPath returns the CLI log file path.
func LogPath() string {
	return filepath.Join(LogDir(), "mailctl.log")
}

// Expand replaces a leading ~ with the user's home directory.
func Expand(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}

// EnsureDir creates the base directory tree with owner-only permissions.
func EnsureDir() error {
	for _, d := range []string{BaseDir(), LogDir(), LockDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

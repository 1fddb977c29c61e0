package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

const keyringService = "mailctl"

// ErrTokenNotFound is returned when no token is stored under a session ref.
var ErrTokenNotFound = errors.New("cached token not found")

// TokenCache holds the secret half of a session, keyed by Identity.SessionRef.
type TokenCache interface {
	Load(ref string) (*oauth2.Token, error)
	Save(ref string, tok *oauth2.Token) error
	Delete(ref string) error
}

// KeyringCache stores tokens as JSON items in a keyring.
type KeyringCache struct {
	ring keyring.Keyring
}

// NewKeyringCache wraps ring.
func NewKeyringCache(ring keyring.Keyring) *KeyringCache {
	return &KeyringCache{ring: ring}
}

// OpenKeyring opens the keyring selected by backend: "auto" tries the OS
// stores first and falls back to an encrypted file under fileDir.
func OpenKeyring(backend, fileDir string) (keyring.Keyring, error) {
	cfg := keyring.Config{
		ServiceName:              keyringService,
		FileDir:                  fileDir,
		FilePasswordFunc:         filePassword,
		KeychainTrustApplication: true,
	}
	switch backend {
	case "", "auto":
		cfg.AllowedBackends = []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		}
	case "file":
		cfg.AllowedBackends = []keyring.BackendType{keyring.FileBackend}
	case "keychain":
		cfg.AllowedBackends = []keyring.BackendType{keyring.KeychainBackend}
	case "secret-service":
		cfg.AllowedBackends = []keyring.BackendType{keyring.SecretServiceBackend}
	case "wincred":
		cfg.AllowedBackends = []keyring.BackendType{keyring.WinCredBackend}
	case "pass":
		cfg.AllowedBackends = []keyring.BackendType{keyring.PassBackend}
	default:
		return nil, fmt.Errorf("unknown keyring backend %q", backend)
	}
	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

func filePassword(string) (string, error) {
	if p := os.Getenv("MAILCTL_KEYRING_PASSWORD"); p != "" {
		return p, nil
	}
	return keyring.FixedStringPrompt("mailctl-file-key")("")
}

// Load returns the token stored under ref, or ErrTokenNotFound.
func (c *KeyringCache) Load(ref string) (*oauth2.Token, error) {
	item, err := c.ring.Get(ref)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting token %q: %w", ref, err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(item.Data, &tok); err != nil {
		return nil, fmt.Errorf("decoding token %q: %w", ref, err)
	}
	return &tok, nil
}

// Save stores tok under ref, replacing any previous value.
func (c *KeyringCache) Save(ref string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	err = c.ring.Set(keyring.Item{
		Key:         ref,
		Data:        data,
		Label:       "mailctl session " + ref,
		Description: "Microsoft Graph OAuth token",
	})
	if err != nil {
		return fmt.Errorf("setting token %q: %w", ref, err)
	}
	return nil
}

// Delete removes ref. A missing entry is not an error.
func (c *KeyringCache) Delete(ref string) error {
	err := c.ring.Remove(ref)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting token %q: %w", ref, err)
	}
	return nil
}

// Package credential persists the non-secret identity of the signed-in account.
package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrNoIdentity is returned by Load when no identity has been saved.
var ErrNoIdentity = errors.New("no identity record")

// Identity is the durable record of who is signed in. Token material lives in
// the token cache under SessionRef, never in this file.
type Identity struct {
	Account         string    `toml:"account"`
	SessionRef      string    `toml:"session_ref"`
	AccessExpiresAt time.Time `toml:"access_expires_at"`
	Scopes          []string  `toml:"scopes"`
	LastRefreshedAt time.Time `toml:"last_refreshed_at"`
}

// Store reads and writes the identity file.
type Store struct {
	path string
}

// NewStore returns a Store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the identity file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the saved identity, or ErrNoIdentity.
func (s *Store) Load() (*Identity, error) {
	var id Identity
	_, err := toml.DecodeFile(s.path, &id)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("decode identity %s: %w", s.path, err)
	}
	if id.Account == "" || id.SessionRef == "" {
		return nil, fmt.Errorf("identity %s: missing account or session_ref", s.path)
	}
	return &id, nil
}

// Save replaces the identity file. The write goes to a temp file that is
// synced and renamed, so readers see the old or the new record, never a mix.
func (s *Store) Save(id *Identity) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".identity-*.toml")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if err := f.Chmod(0600); err != nil {
		_ = f.Close()
		return err
	}
	if err := toml.NewEncoder(f).Encode(id); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Delete removes the identity file. Deleting a missing file is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

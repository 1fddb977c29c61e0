package credential

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissing(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "identity.toml"))
	if _, err := s.Load(); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("Load() err = %v, want ErrNoIdentity", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nested", "identity.toml"))
	expires := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	want := &Identity{
		Account:         "user@contoso.com",
		SessionRef:      "session-1",
		AccessExpiresAt: expires,
		Scopes:          []string{"Mail.Read", "offline_access"},
		LastRefreshedAt: expires.Add(-time.Hour),
	}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Account != want.Account || got.SessionRef != want.SessionRef {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !got.AccessExpiresAt.Equal(expires) {
		t.Errorf("AccessExpiresAt = %v, want %v", got.AccessExpiresAt, expires)
	}
	if len(got.Scopes) != 2 {
		t.Errorf("Scopes = %v", got.Scopes)
	}
}

func TestSaveOverwrites(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "identity.toml"))
	if err := s.Save(&Identity{Account: "a", SessionRef: "r1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(&Identity{Account: "a", SessionRef: "r2"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionRef != "r2" {
		t.Errorf("SessionRef = %q, want r2", got.SessionRef)
	}

	entries, _ := os.ReadDir(filepath.Dir(s.Path()))
	if len(entries) != 1 {
		t.Errorf("got %d files in dir, want only the identity file", len(entries))
	}
}

func TestSavePermissions(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "identity.toml"))
	if err := s.Save(&Identity{Account: "a", SessionRef: "r"}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestLoadRejectsIncompleteRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.toml")
	if err := os.WriteFile(path, []byte(`account = "a"`+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(path).Load(); err == nil || errors.Is(err, ErrNoIdentity) {
		t.Errorf("Load() err = %v, want decode error", err)
	}
}

func TestDelete(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "identity.toml"))
	if err := s.Delete(); err != nil {
		t.Errorf("Delete() on missing file error = %v", err)
	}
	if err := s.Save(&Identity{Account: "a", SessionRef: "r"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("Load() after Delete err = %v, want ErrNoIdentity", err)
	}
}

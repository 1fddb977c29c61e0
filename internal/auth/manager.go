package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/mailctl/internal/bus"
	"github.com/matheus3301/mailctl/internal/credential"
	"github.com/matheus3301/mailctl/internal/lock"
	"github.com/matheus3301/mailctl/internal/logging"
	"github.com/matheus3301/mailctl/internal/metrics"
	"go.uber.org/zap"
)

// lockTimeout bounds how long a refresh, login or logout waits for another
// mailctl process to finish mutating credentials.
const lockTimeout = 30 * time.Second

// IdentityStore persists the identity record.
type IdentityStore interface {
	Load() (*credential.Identity, error)
	Save(*credential.Identity) error
	Delete() error
}

// Options configures a Manager. Zero values are usable.
type Options struct {
	Scopes   []string
	LockPath string // inter-process lock file; empty disables locking
	Bus      *bus.Bus
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Manager owns the credential state machine. It decides whether the cached
// identity can be used as is, must be refreshed, or needs a new login.
type Manager struct {
	mu    sync.Mutex
	state State // "" until the identity file has been read once

	identities IdentityStore
	tokens     TokenCache
	auth       Authenticator

	scopes   []string
	lockPath string
	bus      *bus.Bus
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewManager creates a Manager.
func NewManager(identities IdentityStore, tokens TokenCache, authenticator Authenticator, opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		identities: identities,
		tokens:     tokens,
		auth:       authenticator,
		scopes:     opts.Scopes,
		lockPath:   opts.LockPath,
		bus:        opts.Bus,
		logger:     logging.OrNop(opts.Logger).Named("auth"),
		metrics:    opts.Metrics,
		now:        now,
	}
}

// Status is a network-free snapshot of the credential state.
type Status struct {
	State    State
	Identity *credential.Identity // nil unless an identity is stored
}

// Status reads the identity record and reports the current state.
func (m *Manager) Status() (*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.loadIdentity()
	if err != nil {
		return nil, err
	}
	return &Status{State: m.observe(id), Identity: id}, nil
}

// ActiveSession returns a session whose access token is valid for at least
// ExpiryBuffer, refreshing it silently when needed. It never prompts: without
// a usable identity it fails with ErrAuthenticationRequired, and a rejected
// refresh fails with ErrAuthRefreshFailed after discarding the identity.
func (m *Manager) ActiveSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.loadIdentity()
	if err != nil {
		return nil, err
	}
	switch m.observe(id) {
	case NoIdentity, IdentityInvalid:
		return nil, ErrAuthenticationRequired
	case IdentityCachedValid:
		return m.cachedSession(id)
	default:
		return m.refresh(ctx)
	}
}

// Login runs the interactive sign-in and replaces any stored identity.
func (m *Manager) Login(ctx context.Context, prompt DevicePrompt) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	grant, err := m.auth.AcquireInteractive(ctx, m.scopes, prompt)
	if err != nil {
		return nil, fmt.Errorf("interactive login: %w", err)
	}

	unlock, err := m.lockCredentials(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	old, err := m.loadIdentity()
	if err != nil {
		return nil, err
	}
	switch m.observe(old) {
	case IdentityCachedValid, IdentityCachedExpiring:
		if err := m.invalidate(old, "replaced by login"); err != nil {
			return nil, err
		}
		fallthrough
	case IdentityInvalid:
		if err := m.transition(NoIdentity, "login"); err != nil {
			return nil, err
		}
	}

	account := grant.Account
	if account == "" {
		account = "unknown"
	}
	ref := "session-" + uuid.NewString()
	if err := m.tokens.Save(ref, grant.Token); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	id := &credential.Identity{
		Account:         account,
		SessionRef:      ref,
		AccessExpiresAt: grant.Token.Expiry,
		Scopes:          grant.Scopes,
		LastRefreshedAt: m.now(),
	}
	if err := m.identities.Save(id); err != nil {
		_ = m.tokens.Delete(ref)
		return nil, fmt.Errorf("save identity: %w", err)
	}
	if err := m.transition(IdentityCachedValid, "login"); err != nil {
		return nil, err
	}
	return &Session{Account: id.Account, Scopes: id.Scopes, token: grant.Token}, nil
}

// Logout deletes the stored identity and its token, leaving the manager in
// IdentityInvalid until Acknowledge. It reports whether anything was removed.
func (m *Manager) Logout(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	unlock, err := m.lockCredentials(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	id, err := m.loadIdentity()
	if err != nil {
		// An unreadable record is still removed.
		m.logger.Warn("removing unreadable identity", zap.Error(err))
		if err := m.identities.Delete(); err != nil {
			return false, fmt.Errorf("delete identity: %w", err)
		}
		m.state = NoIdentity
		return true, nil
	}
	if m.observe(id) == NoIdentity {
		return false, nil
	}
	if err := m.invalidate(id, "logout"); err != nil {
		return false, err
	}
	return true, nil
}

// Acknowledge moves IdentityInvalid to NoIdentity. It is a no-op in any
// other state.
func (m *Manager) Acknowledge() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != IdentityInvalid {
		return nil
	}
	return m.transition(NoIdentity, "acknowledged")
}

// State returns the last observed state without reading the identity file.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// refresh runs with m.mu held and the identity in IdentityCachedExpiring.
func (m *Manager) refresh(ctx context.Context) (*Session, error) {
	unlock, err := m.lockCredentials(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another process may have refreshed or logged out while we waited.
	id, err := m.loadIdentity()
	if err != nil {
		return nil, err
	}
	switch m.observe(id) {
	case NoIdentity, IdentityInvalid:
		return nil, ErrAuthenticationRequired
	case IdentityCachedValid:
		return m.cachedSession(id)
	}

	cached, err := m.tokens.Load(id.SessionRef)
	if errors.Is(err, ErrTokenNotFound) {
		if err := m.invalidate(id, "cached token missing"); err != nil {
			return nil, err
		}
		return nil, ErrAuthenticationRequired
	}
	if err != nil {
		return nil, err
	}

	grant, err := m.auth.AcquireSilent(ctx, cached, m.scopes)
	if errors.Is(err, ErrRefreshRejected) {
		m.metrics.ObserveRefresh(metrics.RefreshRejected)
		m.logger.Warn("silent refresh rejected", zap.String("account", id.Account), zap.Error(err))
		if ierr := m.invalidate(id, "refresh rejected"); ierr != nil {
			return nil, ierr
		}
		return nil, fmt.Errorf("%w (%v)", ErrAuthRefreshFailed, err)
	}
	if err != nil {
		m.metrics.ObserveRefresh(metrics.RefreshError)
		return nil, fmt.Errorf("refresh credentials: %w", err)
	}
	m.metrics.ObserveRefresh(metrics.RefreshOK)

	if err := m.tokens.Save(id.SessionRef, grant.Token); err != nil {
		return nil, fmt.Errorf("save refreshed token: %w", err)
	}
	now := m.now()
	next := *id
	next.AccessExpiresAt = grant.Token.Expiry
	next.Scopes = grant.Scopes
	next.LastRefreshedAt = now
	if grant.Account != "" {
		next.Account = grant.Account
	}
	if err := m.identities.Save(&next); err != nil {
		return nil, fmt.Errorf("save identity: %w", err)
	}
	m.logger.Info("credentials refreshed", zap.String("account", next.Account), zap.Time("expires_at", next.AccessExpiresAt))

	if Evaluate(&next, now) == IdentityCachedValid {
		if err := m.transition(IdentityCachedValid, "refreshed"); err != nil {
			return nil, err
		}
	}
	return &Session{Account: next.Account, Scopes: next.Scopes, token: grant.Token}, nil
}

func (m *Manager) cachedSession(id *credential.Identity) (*Session, error) {
	tok, err := m.tokens.Load(id.SessionRef)
	if errors.Is(err, ErrTokenNotFound) {
		if err := m.invalidate(id, "cached token missing"); err != nil {
			return nil, err
		}
		return nil, ErrAuthenticationRequired
	}
	if err != nil {
		return nil, err
	}
	return &Session{Account: id.Account, Scopes: id.Scopes, token: tok}, nil
}

// invalidate deletes the identity and its token and enters IdentityInvalid.
func (m *Manager) invalidate(id *credential.Identity, reason string) error {
	if err := m.tokens.Delete(id.SessionRef); err != nil {
		m.logger.Warn("could not delete cached token", zap.String("ref", id.SessionRef), zap.Error(err))
	}
	if err := m.identities.Delete(); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return m.transition(IdentityInvalid, reason)
}

func (m *Manager) loadIdentity() (*credential.Identity, error) {
	id, err := m.identities.Load()
	if errors.Is(err, credential.ErrNoIdentity) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}
	return id, nil
}

// observe reconciles the in-memory state with the stored identity. Changes
// made by another process that the transition table does not allow are
// adopted as is.
func (m *Manager) observe(id *credential.Identity) State {
	if m.state == IdentityInvalid {
		return m.state
	}
	next := Evaluate(id, m.now())
	if m.state == "" {
		m.state = next
		return next
	}
	if next != m.state {
		if err := m.transition(next, "observed"); err != nil {
			m.logger.Debug("adopting external credential change",
				zap.String("from", string(m.state)), zap.String("to", string(next)))
			m.state = next
		}
	}
	return m.state
}

func (m *Manager) transition(to State, reason string) error {
	if !slices.Contains(validTransitions[m.state], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.state, to)
	}
	from := m.state
	m.state = to
	m.logger.Info("auth state changed",
		zap.String("from", string(from)), zap.String("to", string(to)), zap.String("reason", reason))
	m.bus.Publish(bus.Event{
		Kind:    bus.KindAuthStateChanged,
		Payload: StateChange{From: from, To: to, Reason: reason},
	})
	return nil
}

func (m *Manager) lockCredentials(ctx context.Context) (func(), error) {
	if m.lockPath == "" {
		return func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	l, err := lock.Wait(ctx, m.lockPath, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock credentials: %w", err)
	}
	return func() { _ = l.Release() }, nil
}

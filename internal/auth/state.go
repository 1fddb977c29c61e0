package auth

import (
	"time"

	"github.com/matheus3301/mailctl/internal/credential"
)

// State describes how far a cached identity can be trusted.
type State string

const (
	NoIdentity             State = "NO_IDENTITY"
	IdentityCachedValid    State = "IDENTITY_CACHED_VALID"
	IdentityCachedExpiring State = "IDENTITY_CACHED_EXPIRING"
	IdentityInvalid        State = "IDENTITY_INVALID"
)

// ExpiryBuffer is how long before the access token's expiry a refresh is due.
const ExpiryBuffer = 5 * time.Minute

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	NoIdentity:             {IdentityCachedValid},
	IdentityCachedValid:    {IdentityCachedExpiring, IdentityInvalid},
	IdentityCachedExpiring: {IdentityCachedValid, IdentityInvalid},
	IdentityInvalid:        {NoIdentity},
}

// Evaluate derives the state implied by a stored identity at time now.
// It never reports IdentityInvalid; that state only follows a rejected
// refresh or a logout.
func Evaluate(id *credential.Identity, now time.Time) State {
	if id == nil {
		return NoIdentity
	}
	if !now.Before(id.AccessExpiresAt.Add(-ExpiryBuffer)) {
		return IdentityCachedExpiring
	}
	return IdentityCachedValid
}

// StateChange is the payload for auth.state_changed events.
type StateChange struct {
	From   State
	To     State
	Reason string
}

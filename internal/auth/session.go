package auth

import (
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Session is a ready-to-use credential for the mail API.
type Session struct {
	Account string
	Scopes  []string
	token   *oauth2.Token
}

// NewSession builds a session around tok. Exposed for collaborators' tests.
func NewSession(account string, tok *oauth2.Token, scopes []string) *Session {
	return &Session{Account: account, Scopes: scopes, token: tok}
}

// Authorize sets the bearer Authorization header on req.
func (s *Session) Authorize(req *http.Request) {
	s.token.SetAuthHeader(req)
}

// ExpiresAt returns the access token expiry.
func (s *Session) ExpiresAt() time.Time {
	return s.token.Expiry
}

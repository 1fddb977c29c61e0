package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// DeviceCode is what the user needs to complete a device-code sign-in.
type DeviceCode struct {
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresAt               time.Time
}

// DevicePrompt shows a DeviceCode to the user. It must not block.
type DevicePrompt func(DeviceCode)

// Grant is the result of a successful token acquisition.
type Grant struct {
	Account string // empty when the provider did not return an id_token
	Token   *oauth2.Token
	Scopes  []string
}

// Authenticator obtains tokens from the identity provider.
type Authenticator interface {
	// AcquireInteractive runs a user-facing sign-in.
	AcquireInteractive(ctx context.Context, scopes []string, prompt DevicePrompt) (*Grant, error)
	// AcquireSilent exchanges the refresh token in cached for a new token.
	// A rejected grant is reported as ErrRefreshRejected.
	AcquireSilent(ctx context.Context, cached *oauth2.Token, scopes []string) (*Grant, error)
}

// OAuthAuthenticator implements the device-code flow against the Microsoft
// identity platform v2.0 endpoints as a public client.
type OAuthAuthenticator struct {
	clientID   string
	authority  string
	tenant     string
	httpClient *http.Client
}

// NewOAuthAuthenticator creates an authenticator. authority is the login host,
// e.g. https://login.microsoftonline.com. httpClient may be nil.
func NewOAuthAuthenticator(clientID, authority, tenant string, httpClient *http.Client) *OAuthAuthenticator {
	if tenant == "" {
		tenant = "common"
	}
	return &OAuthAuthenticator{
		clientID:   clientID,
		authority:  strings.TrimRight(authority, "/"),
		tenant:     tenant,
		httpClient: httpClient,
	}
}

func (a *OAuthAuthenticator) config(scopes []string) (*oauth2.Config, error) {
	if a.clientID == "" {
		return nil, ErrMissingClientID
	}
	base := a.authority + "/" + url.PathEscape(a.tenant) + "/oauth2/v2.0"
	return &oauth2.Config{
		ClientID: a.clientID,
		Scopes:   scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:       base + "/authorize",
			TokenURL:      base + "/token",
			DeviceAuthURL: base + "/devicecode",
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}, nil
}

func (a *OAuthAuthenticator) withClient(ctx context.Context) context.Context {
	if a.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

// AcquireInteractive requests a device code, hands it to prompt, and polls the
// token endpoint until the user finishes or the code expires.
func (a *OAuthAuthenticator) AcquireInteractive(ctx context.Context, scopes []string, prompt DevicePrompt) (*Grant, error) {
	conf, err := a.config(scopes)
	if err != nil {
		return nil, err
	}
	ctx = a.withClient(ctx)

	da, err := conf.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("request device code: %w", err)
	}
	if prompt != nil {
		prompt(DeviceCode{
			UserCode:                da.UserCode,
			VerificationURI:         da.VerificationURI,
			VerificationURIComplete: da.VerificationURIComplete,
			ExpiresAt:               da.Expiry,
		})
	}

	tok, err := conf.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("device code exchange: %w", err)
	}
	return grantFromToken(tok, scopes), nil
}

// AcquireSilent redeems the cached refresh token.
func (a *OAuthAuthenticator) AcquireSilent(ctx context.Context, cached *oauth2.Token, scopes []string) (*Grant, error) {
	if cached == nil || cached.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token cached", ErrRefreshRejected)
	}
	conf, err := a.config(scopes)
	if err != nil {
		return nil, err
	}

	// An empty access token forces the source to refresh immediately.
	src := conf.TokenSource(a.withClient(ctx), &oauth2.Token{RefreshToken: cached.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && grantRejected(re.ErrorCode) {
			return nil, fmt.Errorf("%w: %v", ErrRefreshRejected, err)
		}
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = cached.RefreshToken
	}
	return grantFromToken(tok, scopes), nil
}

// grantRejected reports whether a token endpoint error code means the cached
// grant can never be redeemed again. Throttling and timeouts are not.
func grantRejected(code string) bool {
	switch code {
	case "invalid_grant", "interaction_required", "consent_required", "invalid_client", "unauthorized_client":
		return true
	}
	return false
}

func grantFromToken(tok *oauth2.Token, requested []string) *Grant {
	g := &Grant{Token: tok, Scopes: requested}
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		g.Scopes = strings.Fields(s)
	}
	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
		g.Account = accountFromIDToken(raw)
	}
	return g
}

// accountFromIDToken reads the sign-in name from an id_token. The signature
// is not verified; the value is only used as a display label.
func accountFromIDToken(raw string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return ""
	}
	for _, k := range []string{"preferred_username", "email", "upn"} {
		if v, ok := claims[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

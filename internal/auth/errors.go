package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationRequired means there is no usable identity; the user
	// must run an interactive login.
	ErrAuthenticationRequired = errors.New("authentication required: run `mailctl login`")

	// ErrAuthRefreshFailed means the identity provider rejected a silent
	// refresh and the cached identity was discarded. It matches
	// ErrAuthenticationRequired under errors.Is.
	ErrAuthRefreshFailed = fmt.Errorf("credential refresh rejected: %w", ErrAuthenticationRequired)

	// ErrRefreshRejected is returned by an Authenticator when the refresh
	// grant is no longer accepted (revoked, expired, consent withdrawn).
	// Any other AcquireSilent error is treated as transient.
	ErrRefreshRejected = errors.New("refresh grant rejected")

	// ErrMissingClientID is returned when no app registration is configured.
	ErrMissingClientID = errors.New("oauth client id is not configured")
)

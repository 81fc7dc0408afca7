package identity

import "errors"

// Public, stable errors for callers.
var (
	// ErrNoCredentials means no token is stored. Connecting without one
	// is a fatal precondition failure, not a retryable transport error.
	ErrNoCredentials = errors.New("identity: no stored credential")
	// ErrTokenMalformed means the stored token is not a readable JWT.
	ErrTokenMalformed = errors.New("identity: malformed token")
	// ErrTokenExpired means the stored token is past its exp claim.
	ErrTokenExpired = errors.New("identity: token expired")
)

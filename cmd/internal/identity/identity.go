// Package identity manages the locally authenticated user: the bearer
// token issued by the platform and the profile derived from it. Ownership
// classification and the connect handshake both hang off this package.
package identity

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the locally authenticated user.
type Identity struct {
	UserID string
	Name   string
	Token  string
	// ExpiresAt is zero when the token carries no exp claim.
	ExpiresAt time.Time
}

// Expired reports whether the credential is past its expiry.
func (id Identity) Expired(now time.Time) bool {
	return !id.ExpiresAt.IsZero() && now.After(id.ExpiresAt)
}

// FromToken derives an Identity from a bearer token. The signature is NOT
// verified: the client holds no signing key, the backend is the verifier.
// We only read claims to know who we are and when the token dies.
func FromToken(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, ErrNoCredentials
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	id := Identity{Token: token}
	if sub, err := claims.GetSubject(); err == nil {
		id.UserID = sub
	}
	// Some backend revisions carry the user id in a dedicated claim.
	if uid, ok := claims["userId"].(string); ok && uid != "" {
		id.UserID = uid
	}
	if name, ok := claims["name"].(string); ok {
		id.Name = name
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	if id.UserID == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}
	return id, nil
}

// Package token implements the Token Manager: it ensures that
// callers can always obtain an access token valid at least until now
// plus an expiry buffer, refreshing via the stored refresh token when
// necessary.
package token

import (
	"time"

	"github.com/sigilforge/sigilforge/internal/secret"
)

// DefaultExpiryBuffer is the default staleness window: a token whose
// expires_at is earlier than now+buffer is treated as stale.
const DefaultExpiryBuffer = 5 * time.Minute

// Token is a single bearer credential.
type Token struct {
	Value     secret.Secret
	TokenType string
	ExpiresAt *time.Time
	Scopes    []string
}

// Expired reports whether t's expires_at lies in the past. A token
// with no expires_at is never expired.
func (t Token) Expired() bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(time.Now())
}

// Stale reports whether t's expires_at lies within buffer of now. A
// token with no expires_at is never stale.
func (t Token) Stale(buffer time.Duration) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return t.ExpiresAt.Before(time.Now().Add(buffer))
}

// TokenSet is the full persisted state for one account's OAuth
// credential: the access token plus an optional refresh token.
type TokenSet struct {
	Access      Token
	Refresh     *secret.Secret
	RefreshedAt time.Time
}

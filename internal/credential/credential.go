// Package credential defines the CredentialType/CredentialRef types
// shared by the secret store, the token manager, and the reference
// resolver, along with the canonical storage key grammar
// sigilforge/{service}/{account}/{credential_type}.
package credential

import (
	"fmt"
	"strings"
)

// Type is a credential kind. The closed set below covers every value
// the token manager and CLI need; Custom carries any other name
// verbatim, exactly as written by the caller.
type Type struct {
	name string
}

var (
	AccessToken  = Type{"access_token"}
	RefreshToken = Type{"refresh_token"}
	TokenExpiry  = Type{"token_expiry"}
	TokenScopes  = Type{"token_scopes"}
	APIKey       = Type{"api_key"}
	ClientID     = Type{"client_id"}
	ClientSecret = Type{"client_secret"}
)

// Custom returns the open-ended credential type variant for name.
func Custom(name string) Type { return Type{name} }

// String returns the snake_case wire form used both in canonical
// storage keys and auth:// URIs.
func (t Type) String() string { return t.name }

// ParseType resolves the snake_case name to a Type. "token" is
// accepted as an input alias for "access_token" (the canonical
// serialization is always "access_token").
func ParseType(name string) (Type, error) {
	if name == "token" {
		return AccessToken, nil
	}
	for _, known := range []Type{AccessToken, RefreshToken, TokenExpiry, TokenScopes, APIKey, ClientID, ClientSecret} {
		if known.name == name {
			return known, nil
		}
	}
	if name == "" {
		return Type{}, fmt.Errorf("credential: empty credential type")
	}
	return Custom(name), nil
}

// Ref identifies a single credential belonging to one account.
type Ref struct {
	Service string
	Account string
	Type    Type
}

// Key returns the canonical secret-store key for r:
// sigilforge/{service}/{account}/{credential_type}.
func (r Ref) Key() string {
	return "sigilforge/" + r.Service + "/" + r.Account + "/" + r.Type.String()
}

// String renders r as an auth:// reference URI.
func (r Ref) String() string {
	return "auth://" + r.Service + "/" + r.Account + "/" + r.Type.String()
}

// NormalizeService lowercase-normalizes a ServiceId. Equality between
// two services is byte-exact after normalization.
func NormalizeService(service string) string {
	return strings.ToLower(service)
}

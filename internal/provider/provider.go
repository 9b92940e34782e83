// Package provider holds the Provider Registry: a static,
// process-wide catalog of OAuth provider endpoints and capabilities,
// built once at daemon startup and never mutated afterward.
package provider

import (
	"strings"

	"golang.org/x/oauth2"
)

// Config describes one OAuth provider. Immutable after registration.
type Config struct {
	ID                 string
	DisplayName        string
	AuthURL            string
	TokenURL           string
	RevokeURL          string // optional, empty if unsupported
	DeviceCodeURL      string // optional, empty to derive from TokenURL
	DefaultScopes      []string
	SupportsPKCE       bool
	SupportsDeviceCode bool
}

// Endpoint adapts Config to golang.org/x/oauth2's Endpoint shape, for
// flow engines that build requests with the oauth2 package's helpers.
func (c Config) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:  c.AuthURL,
		TokenURL: c.TokenURL,
	}
}

// DeviceAuthURL returns the device-authorization endpoint: DeviceCodeURL
// when set, otherwise one derived from the token URL by replacing its
// last path segment with "device/code".
func (c Config) DeviceAuthURL() string {
	if c.DeviceCodeURL != "" {
		return c.DeviceCodeURL
	}
	idx := strings.LastIndex(c.TokenURL, "/")
	if idx < 0 {
		return c.TokenURL
	}
	return c.TokenURL[:idx+1] + "device/code"
}

// builtins is the catalog of well-known providers shipped with
// sigilforge. Endpoints are the providers' documented OAuth 2.0
// endpoints.
var builtins = []Config{
	{
		ID:                 "github",
		DisplayName:        "GitHub",
		AuthURL:            "https://github.com/login/oauth/authorize",
		TokenURL:           "https://github.com/login/oauth/access_token",
		DeviceCodeURL:      "https://github.com/login/device/code",
		DefaultScopes:      []string{"repo", "read:org"},
		SupportsPKCE:       true,
		SupportsDeviceCode: true,
	},
	{
		ID:                 "gitlab",
		DisplayName:        "GitLab",
		AuthURL:            "https://gitlab.com/oauth/authorize",
		TokenURL:           "https://gitlab.com/oauth/token",
		RevokeURL:          "https://gitlab.com/oauth/revoke",
		DefaultScopes:      []string{"api", "read_user"},
		SupportsPKCE:       true,
		SupportsDeviceCode: false,
	},
	{
		ID:                 "google",
		DisplayName:        "Google",
		AuthURL:            "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:           "https://oauth2.googleapis.com/token",
		RevokeURL:          "https://oauth2.googleapis.com/revoke",
		DefaultScopes:      []string{"openid", "email"},
		SupportsPKCE:       true,
		SupportsDeviceCode: true,
	},
}

// Registry is an immutable, process-wide catalog of provider
// configurations. Safe for concurrent read access without a lock
// because it is never mutated after New returns.
type Registry struct {
	byID map[string]Config
	all  []Config
}

// New builds a Registry from the built-in catalog plus any additional
// provider configs supplied by the daemon's own configuration. extra
// entries with an ID matching a built-in override it.
func New(extra ...Config) *Registry {
	byID := make(map[string]Config, len(builtins)+len(extra))
	var all []Config
	for _, c := range builtins {
		byID[c.ID] = c
	}
	for _, c := range extra {
		byID[c.ID] = c
	}
	// Preserve a stable, deterministic ordering in All(): built-ins
	// first (in catalog order, replaced in place if overridden), then
	// any genuinely new extras in the order given.
	seen := make(map[string]bool, len(byID))
	for _, c := range builtins {
		all = append(all, byID[c.ID])
		seen[c.ID] = true
	}
	for _, c := range extra {
		if seen[c.ID] {
			continue
		}
		all = append(all, byID[c.ID])
		seen[c.ID] = true
	}
	return &Registry{byID: byID, all: all}
}

// Lookup returns the provider config for id, if registered.
func (r *Registry) Lookup(id string) (Config, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// All returns every registered provider config, built-ins first.
func (r *Registry) All() []Config {
	out := make([]Config, len(r.all))
	copy(out, r.all)
	return out
}

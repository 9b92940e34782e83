// Package ipcfallback implements the IPC client's two-tier resolution
// discipline: prefer the daemon, and fall back to static local sources
// (environment variables, a TOML file) when the daemon is absent or
// times out.
package ipcfallback

import (
	"fmt"
	"os"
	"strings"

	"github.com/sigilforge/sigilforge/internal/credential"
)

// DefaultEnvPrefix is the environment-variable prefix used when the
// caller does not configure one.
const DefaultEnvPrefix = "SIGILFORGE"

// envSuffix maps a credential type to its environment-variable
// suffix. Only the types the client fallback chain supports appear
// here; anything else has no environment-variable representation.
var envSuffix = map[credential.Type]string{
	credential.AccessToken:  "TOKEN",
	credential.RefreshToken: "REFRESH_TOKEN",
	credential.APIKey:       "API_KEY",
	credential.ClientID:     "CLIENT_ID",
	credential.ClientSecret: "CLIENT_SECRET",
}

// EnvSource reads static credential values from environment variables
// shaped {PREFIX}_{SERVICE}_{ACCOUNT}_{TYPE}.
type EnvSource struct {
	prefix string
}

// NewEnvSource constructs an EnvSource. An empty prefix defaults to
// DefaultEnvPrefix.
func NewEnvSource(prefix string) *EnvSource {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvSource{prefix: prefix}
}

// VarName returns the environment variable name for (service, account, type),
// or "" if the credential type has no environment-variable suffix.
func (e *EnvSource) VarName(service, account string, credType credential.Type) string {
	suffix, ok := envSuffix[credType]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s_%s_%s_%s", e.prefix, envKey(service), envKey(account), suffix)
}

// Lookup reads the environment variable for (service, account, type).
// The bool is false if the variable is unset or the credential type
// has no environment-variable mapping.
func (e *EnvSource) Lookup(service, account string, credType credential.Type) (string, bool) {
	name := e.VarName(service, account, credType)
	if name == "" {
		return "", false
	}
	return os.LookupEnv(name)
}

func envKey(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
}

package ipcfallback

import (
	"errors"
	"fmt"

	"github.com/sigilforge/sigilforge/internal/credential"
	"github.com/sigilforge/sigilforge/internal/ipc"
	"github.com/sigilforge/sigilforge/internal/resolver"
)

// Sources is the fallback chain tried, in order, once the daemon is
// unreachable or times out.
type Sources struct {
	Env  *EnvSource
	File *FileSource
}

func (s Sources) lookup(service, account string, credType credential.Type) (string, bool) {
	if s.Env != nil {
		if v, ok := s.Env.Lookup(service, account, credType); ok {
			return v, true
		}
	}
	if s.File != nil {
		if v, ok := s.File.Lookup(service, account, credType); ok {
			return v, true
		}
	}
	return "", false
}

// ErrNotFound reports that neither the daemon nor any fallback source
// had a value for the requested credential.
var ErrNotFound = errors.New("ipcfallback: not found in daemon or fallback sources")

// Resolver composes an ipc.Client with a fallback Sources chain,
// implementing the two-tier resolution discipline: the daemon is
// tried first, and DaemonUnavailable or Timeout both route to
// fallback. Fallback reads are always static; they never refresh.
type Resolver struct {
	client   *ipc.Client
	fallback Sources
}

// NewResolver constructs a Resolver. client may be nil, in which case
// every call goes straight to fallback (useful for CLI invocations
// that never start a daemon connection).
func NewResolver(client *ipc.Client, fallback Sources) *Resolver {
	return &Resolver{client: client, fallback: fallback}
}

func isDaemonDown(err error) bool {
	return errors.Is(err, ipc.ErrDaemonUnavailable) || errors.Is(err, ipc.ErrTimeout)
}

// GetToken resolves a bearer access token for (service, account). When
// the daemon answers, the result includes expiry. When the fallback
// path answers, expiry is always absent, per the degraded-path
// contract for get_token.
func (r *Resolver) GetToken(service, account string) (token string, expiresAt *string, degraded bool, err error) {
	if r.client != nil {
		result, callErr := r.client.GetToken(service, account)
		if callErr == nil {
			return result.Token, result.ExpiresAt, false, nil
		}
		if !isDaemonDown(callErr) {
			return "", nil, false, callErr
		}
	}

	value, ok := r.fallback.lookup(service, account, credential.AccessToken)
	if !ok {
		return "", nil, true, fmt.Errorf("%w: %s/%s access_token", ErrNotFound, service, account)
	}
	return value, nil, true, nil
}

// Resolve resolves an auth:// reference through the daemon first,
// falling back to static sources on DaemonUnavailable or Timeout. The
// reference is parsed locally so the fallback path can be served
// without the daemon at all.
func (r *Resolver) Resolve(reference string) (value string, degraded bool, err error) {
	if r.client != nil {
		result, callErr := r.client.Resolve(reference)
		if callErr == nil {
			return result.Value, false, nil
		}
		if !isDaemonDown(callErr) {
			return "", false, callErr
		}
	}

	ref, parseErr := resolver.ParseReference(reference)
	if parseErr != nil {
		return "", true, parseErr
	}

	value, ok := r.fallback.lookup(ref.Service, ref.Account, ref.Type)
	if !ok {
		return "", true, fmt.Errorf("%w: %s", ErrNotFound, reference)
	}
	return value, true, nil
}

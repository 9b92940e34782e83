// Package secretstore implements the pluggable key->Secret storage
// abstraction: an OS-keyring-backed store and a process-local memory
// fallback, selected once per process.
package secretstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sigilforge/sigilforge/internal/secret"
)

// Errors returned by Store operations. Callers should use errors.Is.
var (
	ErrNotFound          = errors.New("secretstore: not found")
	ErrAccessDenied      = errors.New("secretstore: access denied")
	ErrSerialization     = errors.New("secretstore: serialization error")
	ErrKeyringUnavailable = errors.New("secretstore: keyring unavailable")
)

// BackendError wraps an opaque backend failure that isn't one of the
// named sentinels above.
type BackendError struct {
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("secretstore: backend error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("secretstore: backend error: %s", e.Message)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Store is the contract every backend implements. All operations may
// be called concurrently.
type Store interface {
	// Get returns the Secret at key, or ErrNotFound if absent.
	Get(ctx context.Context, key string) (secret.Secret, error)
	// Set writes value at key, overwriting any existing value.
	Set(ctx context.Context, key string, value secret.Secret) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// ListKeys returns all keys with the given prefix. Backends that
	// cannot enumerate (the keyring backend) return a BackendError.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	// Name identifies the backend, for logging and diagnostics.
	Name() string
}

// New selects a backend once per process: if preferKeyring is true and
// a probe write/delete against the OS keyring succeeds, the
// keyring backend is returned; otherwise the in-memory backend is
// returned and the choice is not reconsidered later.
//
// When preferKeyring is true but the probe fails, New still returns a
// usable in-memory Store (so callers that only read/write ordinary
// secrets can proceed in a degraded mode, same as before) but also
// returns ErrKeyringUnavailable wrapped with the probe failure.
// Callers about to perform a destructive, user-visible operation
// against the keyring — most notably deleting an account's secrets —
// must check this error and refuse to proceed rather than silently
// "succeeding" against a memory store that never held the real
// secrets in the first place.
func New(preferKeyring bool, namespace string) (Store, error) {
	if preferKeyring {
		ks, err := NewKeyringStore(namespace)
		if err == nil {
			return ks, nil
		}
		slog.Warn("keyring unavailable, falling back to in-memory secret store", "error", err)
		return NewMemoryStore(), err
	}
	return NewMemoryStore(), nil
}

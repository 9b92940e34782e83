package secretstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/sigilforge/sigilforge/internal/secret"
)

// probeAccount is written and deleted at construction time to confirm
// the platform keyring service is actually reachable before the
// backend is handed out, the same probe-then-fallback shape the
// teacher uses for its age identity cipher.
const probeAccount = "sigilforge-probe"

// KeyringStore persists secrets in the OS credential store (macOS
// Keychain, Linux Secret Service via D-Bus, Windows Credential
// Manager). Entries are namespaced under a single keyring "service"
// name so that multiple sigilforge installs (or tests) do not collide.
type KeyringStore struct {
	service string
}

// NewKeyringStore probes the platform keyring under namespace and
// returns a ready KeyringStore, or ErrKeyringUnavailable if the probe
// fails.
func NewKeyringStore(namespace string) (*KeyringStore, error) {
	service := "sigilforge"
	if namespace != "" {
		service = "sigilforge-" + namespace
	}
	if err := keyring.Set(service, probeAccount, "ok"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}
	_ = keyring.Delete(service, probeAccount)
	return &KeyringStore{service: service}, nil
}

func (k *KeyringStore) Name() string { return "keyring" }

func (k *KeyringStore) Get(_ context.Context, key string) (secret.Secret, error) {
	v, err := keyring.Get(k.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return secret.Secret{}, ErrNotFound
		}
		return secret.Secret{}, &BackendError{Message: "keyring get", Err: err}
	}
	return secret.FromString(v), nil
}

func (k *KeyringStore) Set(_ context.Context, key string, value secret.Secret) error {
	if err := keyring.Set(k.service, key, value.RevealString()); err != nil {
		return &BackendError{Message: "keyring set", Err: err}
	}
	return nil
}

// Delete is idempotent: an absent key is not reported as an error.
func (k *KeyringStore) Delete(_ context.Context, key string) error {
	if err := keyring.Delete(k.service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return &BackendError{Message: "keyring delete", Err: err}
	}
	return nil
}

func (k *KeyringStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := k.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListKeys is unsupported: the OS keyring APIs provide no enumeration
// primitive, only get/set/delete by exact account name.
func (k *KeyringStore) ListKeys(_ context.Context, _ string) ([]string, error) {
	return nil, &BackendError{Message: "keyring backend does not support enumeration"}
}

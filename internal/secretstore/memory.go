package secretstore

import (
	"context"
	"strings"
	"sync"

	"github.com/sigilforge/sigilforge/internal/secret"
)

// MemoryStore is a concurrent, process-local map. Its contents are
// lost when the process exits; it is used for tests and as the
// automatic fallback when the keyring probe fails at startup.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]secret.Secret
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]secret.Secret)}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Get(_ context.Context, key string) (secret.Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	if !ok {
		return secret.Secret{}, ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value secret.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

// Delete is idempotent: deleting an absent key succeeds.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[key]
	return ok, nil
}

func (m *MemoryStore) ListKeys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Snapshot returns a copy of the current key set. Test-only helper;
// production code must go through ListKeys/Exists/Get.
func (m *MemoryStore) Snapshot() map[string]secret.Secret {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]secret.Secret, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// Package account implements the durable index of configured
// (service, account) tuples: the Account Store. It owns account
// metadata exclusively; token material lives in the secret store.
package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Errors returned by Store operations.
var (
	ErrAlreadyExists = errors.New("account: already exists")
	ErrNotFound      = errors.New("account: not found")
)

const schemaVersion = 1

// Account is the durable record for one configured (service, account)
// pair.
type Account struct {
	Service   string     `json:"service"`
	ID        string     `json:"id"`
	Scopes    []string   `json:"scopes"`
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used"`
}

type fileFormat struct {
	Version  int       `json:"version"`
	Accounts []Account `json:"accounts"`
}

// Store owns accounts.json under the platform config directory. Every
// write is followed by a full atomic rewrite of the backing file.
type Store struct {
	mu   sync.RWMutex
	path string
	byKey map[string]*Account
	order []string // insertion order of byKey, for stable List output
}

func key(service, id string) string { return service + "\x00" + id }

// NewStore creates a Store backed by the JSON file at path. The file
// is read lazily on first access and created on first write.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultStorePath returns the default accounts.json path under
// XDG_CONFIG_HOME (or its platform equivalent via os.UserConfigDir).
func DefaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "sigilforge", "accounts.json")
}

// Add registers a new account. Returns ErrAlreadyExists if the
// (service, id) tuple is already present.
func (s *Store) Add(service, id string, scopes []string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return Account{}, err
	}

	k := key(service, id)
	if _, ok := s.byKey[k]; ok {
		return Account{}, fmt.Errorf("%w: %s/%s", ErrAlreadyExists, service, id)
	}

	a := Account{
		Service:   service,
		ID:        id,
		Scopes:    append([]string(nil), scopes...),
		CreatedAt: time.Now().UTC(),
	}
	s.byKey[k] = &a
	s.order = append(s.order, k)

	if err := s.save(); err != nil {
		delete(s.byKey, k)
		s.order = s.order[:len(s.order)-1]
		return Account{}, err
	}
	return a, nil
}

// Get returns the account for (service, id), if present.
func (s *Store) Get(service, id string) (Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.loadLocked(); err != nil {
		return Account{}, false, err
	}
	a, ok := s.byKey[key(service, id)]
	if !ok {
		return Account{}, false, nil
	}
	return *a, true, nil
}

// List returns all accounts, or only those for service when non-empty.
func (s *Store) List(service string) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}

	out := make([]Account, 0, len(s.order))
	for _, k := range s.order {
		a := s.byKey[k]
		if service != "" && a.Service != service {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

// Remove deletes the account for (service, id). Returns ErrNotFound
// if absent.
func (s *Store) Remove(service, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}

	k := key(service, id)
	if _, ok := s.byKey[k]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, service, id)
	}

	removed := *s.byKey[k]
	delete(s.byKey, k)
	for i, ok := range s.order {
		if ok == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	if err := s.save(); err != nil {
		s.byKey[k] = &removed
		s.order = append(s.order, k)
		return err
	}
	return nil
}

// TouchLastUsed records when is the most recent successful token
// issue for (service, id). Best-effort: a failure to persist is
// returned but callers commonly only log it.
func (s *Store) TouchLastUsed(service, id string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}

	a, ok := s.byKey[key(service, id)]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, service, id)
	}
	prev := a.LastUsed
	w := when.UTC()
	a.LastUsed = &w

	if err := s.save(); err != nil {
		a.LastUsed = prev
		return err
	}
	return nil
}

// load is the write-path entrypoint: callers already hold s.mu for
// writing.
func (s *Store) load() error {
	return s.loadLocked()
}

func (s *Store) loadLocked() error {
	if s.byKey != nil {
		return nil
	}

	s.byKey = make(map[string]*Account)
	s.order = nil

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading account store %q: %w", s.path, err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return fmt.Errorf("parsing account store %q: %w", s.path, err)
	}

	for i := range ff.Accounts {
		a := ff.Accounts[i]
		k := key(a.Service, a.ID)
		s.byKey[k] = &a
		s.order = append(s.order, k)
	}
	return nil
}

// save performs a full atomic rewrite of the backing file: write to a
// temp file in the same directory, then rename over the target. A
// plain WriteFile would leave a half-written file visible to any
// daemon restart that races the write; accounts.json is read on every
// startup so that window matters here in a way it would not for a
// one-off confirmation prompt.
func (s *Store) save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating account store directory: %w", err)
	}

	ff := fileFormat{Version: schemaVersion, Accounts: make([]Account, 0, len(s.order))}
	for _, k := range s.order {
		ff.Accounts = append(ff.Accounts, *s.byKey[k])
	}

	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".accounts-*.json.tmp")
	if err != nil {
		return fmt.Errorf("creating temp account store file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp account store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp account store file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("setting account store permissions: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("renaming account store into place: %w", err)
	}
	return nil
}

package ipcfallback

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sigilforge/sigilforge/internal/credential"
)

func writeTOML(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fallback.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileSourceLookup(t *testing.T) {
	path := writeTOML(t, `
[openai.default]
api_key = "key-123"

[github.main]
access_token = "gho_abc"
`)
	src, err := LoadFileSource(path)
	if err != nil {
		t.Fatal(err)
	}

	value, ok := src.Lookup("openai", "default", credential.APIKey)
	if !ok || value != "key-123" {
		t.Errorf("Lookup() = (%q, %v), want (key-123, true)", value, ok)
	}
}

func TestFileSourceLookupTokenAlias(t *testing.T) {
	path := writeTOML(t, `
[github.main]
token = "gho_abc"
`)
	src, err := LoadFileSource(path)
	if err != nil {
		t.Fatal(err)
	}

	value, ok := src.Lookup("github", "main", credential.AccessToken)
	if !ok || value != "gho_abc" {
		t.Errorf("Lookup() = (%q, %v), want (gho_abc, true)", value, ok)
	}
}

func TestFileSourceMissingFileIsNotError(t *testing.T) {
	src, err := LoadFileSource(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("LoadFileSource() error = %v, want nil", err)
	}
	_, ok := src.Lookup("openai", "default", credential.APIKey)
	if ok {
		t.Error("Lookup() ok = true, want false for an empty source")
	}
}

func TestFileSourceEmptyPath(t *testing.T) {
	src, err := LoadFileSource("")
	if err != nil {
		t.Fatal(err)
	}
	_, ok := src.Lookup("openai", "default", credential.APIKey)
	if ok {
		t.Error("Lookup() ok = true, want false")
	}
}

func TestFileSourceUnknownService(t *testing.T) {
	path := writeTOML(t, `
[openai.default]
api_key = "key-123"
`)
	src, err := LoadFileSource(path)
	if err != nil {
		t.Fatal(err)
	}
	_, ok := src.Lookup("gitlab", "default", credential.APIKey)
	if ok {
		t.Error("Lookup() ok = true, want false for an unconfigured service")
	}
}

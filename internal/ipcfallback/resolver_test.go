package ipcfallback

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sigilforge/sigilforge/internal/account"
	"github.com/sigilforge/sigilforge/internal/ipc"
	"github.com/sigilforge/sigilforge/internal/provider"
	"github.com/sigilforge/sigilforge/internal/resolver"
	"github.com/sigilforge/sigilforge/internal/secret"
	"github.com/sigilforge/sigilforge/internal/secretstore"
	"github.com/sigilforge/sigilforge/internal/token"
)

func TestResolverPrefersDaemonWhenReachable(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "daemon.sock")

	accounts := account.NewStore(filepath.Join(tmpDir, "accounts.json"))
	secrets := secretstore.NewMemoryStore()
	providers := provider.New()
	tokens := token.NewManager(accounts, secrets, providers, nil, token.DefaultExpiryBuffer)
	res := resolver.New(tokens, secrets)

	server := ipc.NewServer(socketPath, accounts, tokens, res)
	if err := server.Listen(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = server.Serve(ctx) }()

	if err := secrets.Set(context.Background(), "sigilforge/openai/default/api_key", secret.FromString("daemon-value")); err != nil {
		t.Fatal(err)
	}

	client := ipc.NewClient(socketPath, time.Second)
	fallback := Sources{Env: NewEnvSource("")}
	r := NewResolver(client, fallback)

	t.Setenv("SIGILFORGE_OPENAI_DEFAULT_API_KEY", "env-value")

	value, degraded, err := r.Resolve("auth://openai/default/api_key")
	if err != nil {
		t.Fatal(err)
	}
	if degraded {
		t.Error("degraded = true, want false when daemon answers")
	}
	if value != "daemon-value" {
		t.Errorf("value = %q, want daemon-value", value)
	}
}

func TestResolverFallsBackWhenDaemonUnreachable(t *testing.T) {
	unreachableSocket := filepath.Join(t.TempDir(), "no-daemon.sock")
	client := ipc.NewClient(unreachableSocket, 200*time.Millisecond)

	fallback := Sources{Env: NewEnvSource("")}
	r := NewResolver(client, fallback)

	t.Setenv("SIGILFORGE_OPENAI_DEFAULT_API_KEY", "env-value")

	value, degraded, err := r.Resolve("auth://openai/default/api_key")
	if err != nil {
		t.Fatal(err)
	}
	if !degraded {
		t.Error("degraded = false, want true when daemon is unreachable")
	}
	if value != "env-value" {
		t.Errorf("value = %q, want env-value", value)
	}
}

func TestResolverGetTokenDegradedHasNoExpiry(t *testing.T) {
	unreachableSocket := filepath.Join(t.TempDir(), "no-daemon.sock")
	client := ipc.NewClient(unreachableSocket, 200*time.Millisecond)

	fallback := Sources{Env: NewEnvSource("")}
	r := NewResolver(client, fallback)

	t.Setenv("SIGILFORGE_GITHUB_MAIN_TOKEN", "gho_fallback")

	tok, expiresAt, degraded, err := r.GetToken("github", "main")
	if err != nil {
		t.Fatal(err)
	}
	if !degraded {
		t.Error("degraded = false, want true")
	}
	if tok != "gho_fallback" {
		t.Errorf("token = %q, want gho_fallback", tok)
	}
	if expiresAt != nil {
		t.Errorf("expiresAt = %v, want nil in the degraded path", expiresAt)
	}
}

func TestResolverNotFoundAnywhere(t *testing.T) {
	unreachableSocket := filepath.Join(t.TempDir(), "no-daemon.sock")
	client := ipc.NewClient(unreachableSocket, 200*time.Millisecond)

	r := NewResolver(client, Sources{})

	_, _, err := r.Resolve("auth://openai/default/api_key")
	if err == nil {
		t.Fatal("expected an error when neither daemon nor fallback has a value")
	}
}

func TestResolverNilClientGoesStraightToFallback(t *testing.T) {
	fallback := Sources{Env: NewEnvSource("")}
	r := NewResolver(nil, fallback)

	t.Setenv("SIGILFORGE_OPENAI_DEFAULT_API_KEY", "env-value")

	value, degraded, err := r.Resolve("auth://openai/default/api_key")
	if err != nil {
		t.Fatal(err)
	}
	if !degraded {
		t.Error("degraded = false, want true")
	}
	if value != "env-value" {
		t.Errorf("value = %q, want env-value", value)
	}
}

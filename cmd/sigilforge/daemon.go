package main

import (
	"log/slog"
	"net/http"

	"github.com/sigilforge/sigilforge/internal/account"
	"github.com/sigilforge/sigilforge/internal/ipc"
	"github.com/sigilforge/sigilforge/internal/provider"
	"github.com/sigilforge/sigilforge/internal/resolver"
	"github.com/sigilforge/sigilforge/internal/secretstore"
	"github.com/sigilforge/sigilforge/internal/token"
)

// daemonState bundles the long-lived components the IPC server
// dispatches to.
type daemonState struct {
	accounts *account.Store
	secrets  secretstore.Store
	tokens   *token.Manager
	resolver *resolver.Resolver
}

// newDaemonState wires the credential-lifecycle stack: account store,
// secret store (keyring-preferred, memory-fallback), provider
// registry, token manager, and reference resolver.
func newDaemonState() *daemonState {
	accounts := account.NewStore(account.DefaultStorePath())
	secrets, err := secretstore.New(true, "")
	if err != nil {
		slog.Warn("starting with degraded secret storage", "error", err)
	}
	providers := provider.New()
	tokens := token.NewManager(accounts, secrets, providers, http.DefaultClient, token.DefaultExpiryBuffer)
	res := resolver.New(tokens, secrets)

	return &daemonState{
		accounts: accounts,
		secrets:  secrets,
		tokens:   tokens,
		resolver: res,
	}
}

func (d *daemonState) newServer(socketPath string) *ipc.Server {
	return ipc.NewServer(socketPath, d.accounts, d.tokens, d.resolver)
}

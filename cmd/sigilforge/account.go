package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sigilforge/sigilforge/internal/credential"
	"github.com/sigilforge/sigilforge/internal/ipc"
	"github.com/sigilforge/sigilforge/internal/oauthflow"
	"github.com/sigilforge/sigilforge/internal/provider"
	"github.com/sigilforge/sigilforge/internal/secretstore"
	"github.com/sigilforge/sigilforge/internal/token"
)

// defaultCallbackPort is the loopback port for the PKCE callback
// listener, overridable by OAUTH_CALLBACK_PORT.
const defaultCallbackPort = 8484

func callbackPort() int {
	if v := os.Getenv("OAUTH_CALLBACK_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			return port
		}
	}
	return defaultCallbackPort
}

func clientCredentials(service string) (id, secretVal string) {
	upper := strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
	return os.Getenv(upper + "_CLIENT_ID"), os.Getenv(upper + "_CLIENT_SECRET")
}

func addAccountCmd() *cobra.Command {
	var scopes []string
	var useDevice bool

	cmd := &cobra.Command{
		Use:     "add-account <service> <account>",
		Short:   "Authorize a new (service, account) pair via OAuth",
		GroupID: "credential",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, acct := credential.NormalizeService(args[0]), args[1]

			providers := provider.New()
			p, ok := providers.Lookup(service)
			if !ok {
				return fmt.Errorf("unknown provider %q (not in the built-in registry)", service)
			}

			clientID, clientSecret := clientCredentials(service)
			if clientID == "" {
				return fmt.Errorf("missing OAuth client ID: set %s_CLIENT_ID", strings.ToUpper(strings.ReplaceAll(service, "-", "_")))
			}

			if len(scopes) == 0 {
				scopes = p.DefaultScopes
			}

			var set token.TokenSet
			var err error
			if useDevice || !p.SupportsPKCE {
				set, err = authorizeDevice(cmd.Context(), p, clientID, scopes)
			} else {
				set, err = authorizePKCE(cmd.Context(), p, clientID, clientSecret, scopes)
			}
			if err != nil {
				return fmt.Errorf("authorizing: %w", err)
			}

			secrets, err := secretstore.New(true, "")
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: keyring unavailable, storing token in process-local memory only: %v\n", err)
			}
			tokens := token.NewManager(nil, secrets, providers, nil, token.DefaultExpiryBuffer)
			if err := tokens.StoreTokenSet(cmd.Context(), service, acct, set); err != nil {
				return fmt.Errorf("storing token: %w", err)
			}
			if err := tokens.StoreClientCredentials(cmd.Context(), service, acct, clientID, clientSecret); err != nil {
				return fmt.Errorf("storing client credentials: %w", err)
			}

			client := ipc.NewClient(socketFlag, ipc.DefaultTimeout)
			resp, rpcErr := client.AddAccount(service, acct, scopes)
			if rpcErr != nil {
				fmt.Fprintf(os.Stderr, "warning: daemon unavailable, account metadata not registered: %v\n", rpcErr)
				fmt.Fprintf(os.Stderr, "token stored; run the daemon and retry add-account to register metadata\n")
				return nil
			}

			fmt.Fprintln(os.Stderr, resp.Message)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "OAuth scopes to request (default: provider default scopes)")
	cmd.Flags().BoolVar(&useDevice, "device", false, "use the Device Authorization Grant instead of PKCE")
	return cmd
}

func authorizePKCE(ctx context.Context, p provider.Config, clientID, clientSecret string, scopes []string) (token.TokenSet, error) {
	port := callbackPort()
	redirectURI := fmt.Sprintf("http://127.0.0.1:%d/callback", port)

	flow, err := oauthflow.NewPKCEFlow(p, clientID, redirectURI, scopes, nil)
	if err != nil {
		return token.TokenSet{}, err
	}

	callback, err := oauthflow.NewCallbackServer(port, flow.State())
	if err != nil {
		return token.TokenSet{}, fmt.Errorf("starting callback listener: %w", err)
	}
	defer callback.Close()

	authURL, err := flow.AuthorizationURL()
	if err != nil {
		return token.TokenSet{}, err
	}

	fmt.Fprintf(os.Stderr, "Open the following URL to authorize:\n\n  %s\n\n", authURL)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	result, err := callback.Wait(waitCtx)
	if err != nil {
		return token.TokenSet{}, fmt.Errorf("waiting for callback: %w", err)
	}
	if result.Error != "" {
		return token.TokenSet{}, fmt.Errorf("authorization failed: %s", result.Error)
	}

	return flow.Exchange(ctx, result.Code, clientSecret)
}

func authorizeDevice(ctx context.Context, p provider.Config, clientID string, scopes []string) (token.TokenSet, error) {
	flow, err := oauthflow.NewDeviceFlow(p, clientID, scopes, nil)
	if err != nil {
		return token.TokenSet{}, err
	}

	da, err := flow.RequestDeviceCode(ctx)
	if err != nil {
		return token.TokenSet{}, err
	}

	if da.VerificationURIComplete != "" {
		fmt.Fprintf(os.Stderr, "Open the following URL to authorize:\n\n  %s\n\n", da.VerificationURIComplete)
	} else {
		fmt.Fprintf(os.Stderr, "Open %s and enter code: %s\n\n", da.VerificationURI, da.UserCode)
	}

	return flow.Poll(ctx, da)
}

func listAccountsCmd() *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:     "list-accounts",
		Short:   "List configured accounts",
		GroupID: "credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ipc.NewClient(socketFlag, ipc.DefaultTimeout)
			resp, err := client.ListAccounts(service)
			if err != nil {
				return fmt.Errorf("listing accounts: %w", err)
			}
			if len(resp.Accounts) == 0 {
				fmt.Fprintln(os.Stderr, "no accounts configured")
				return nil
			}
			for _, a := range resp.Accounts {
				fmt.Printf("%s/%s\tscopes=%s\n", a.Service, a.Account, strings.Join(a.Scopes, ","))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", "", "filter by service")
	return cmd
}

func removeAccountCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove-account <service> <account>",
		Short:   "Revoke tokens and forget an account",
		GroupID: "credential",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, acct := credential.NormalizeService(args[0]), args[1]

			secrets, err := secretstore.New(true, "")
			if err != nil {
				return fmt.Errorf("refusing to remove-account: keyring unavailable, secrets would not actually be deleted: %w", err)
			}
			providers := provider.New()
			tokens := token.NewManager(nil, secrets, providers, nil, token.DefaultExpiryBuffer)
			if err := tokens.RevokeTokens(cmd.Context(), service, acct); err != nil {
				return fmt.Errorf("revoking tokens: %w", err)
			}

			fmt.Fprintf(os.Stderr, "revoked tokens for %s/%s\n", service, acct)
			fmt.Fprintln(os.Stderr, "note: account metadata removal requires daemon support and is not yet exposed over IPC")
			return nil
		},
	}
}

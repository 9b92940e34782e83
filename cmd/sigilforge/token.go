package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sigilforge/sigilforge/internal/credential"
	"github.com/sigilforge/sigilforge/internal/ipc"
	"github.com/sigilforge/sigilforge/internal/ipcfallback"
)

func newIPCResolver(envPrefix, fallbackFile string) (*ipcfallback.Resolver, error) {
	fileSource, err := ipcfallback.LoadFileSource(fallbackFile)
	if err != nil {
		return nil, err
	}
	sources := ipcfallback.Sources{
		Env:  ipcfallback.NewEnvSource(envPrefix),
		File: fileSource,
	}
	client := ipc.NewClient(socketFlag, ipc.DefaultTimeout)
	return ipcfallback.NewResolver(client, sources), nil
}

func getTokenCmd() *cobra.Command {
	var envPrefix, fallbackFile string

	cmd := &cobra.Command{
		Use:     "get-token <service> <account>",
		Short:   "Print a fresh access token, refreshing if needed",
		GroupID: "credential",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, acct := credential.NormalizeService(args[0]), args[1]

			res, err := newIPCResolver(envPrefix, fallbackFile)
			if err != nil {
				return err
			}

			tok, expiresAt, degraded, err := res.GetToken(service, acct)
			if err != nil {
				return err
			}
			if degraded {
				fmt.Fprintln(os.Stderr, "warning: daemon unreachable, served from static fallback (no refresh, no expiry)")
			} else if expiresAt != nil {
				fmt.Fprintf(os.Stderr, "expires_at: %s\n", *expiresAt)
			}

			fmt.Println(tok)
			return nil
		},
	}

	addFallbackFlags(cmd, &envPrefix, &fallbackFile)
	return cmd
}

func resolveCmd() *cobra.Command {
	var envPrefix, fallbackFile string

	cmd := &cobra.Command{
		Use:     "resolve <reference>",
		Short:   "Resolve an auth:// reference to its current value",
		GroupID: "credential",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newIPCResolver(envPrefix, fallbackFile)
			if err != nil {
				return err
			}

			value, degraded, err := res.Resolve(args[0])
			if err != nil {
				return err
			}
			if degraded {
				fmt.Fprintln(os.Stderr, "warning: daemon unreachable, served from static fallback")
			}

			fmt.Println(value)
			return nil
		},
	}

	addFallbackFlags(cmd, &envPrefix, &fallbackFile)
	return cmd
}

func addFallbackFlags(cmd *cobra.Command, envPrefix, fallbackFile *string) {
	cmd.Flags().StringVar(envPrefix, "env-prefix", ipcfallback.DefaultEnvPrefix, "environment variable prefix for the fallback path")
	cmd.Flags().StringVar(fallbackFile, "fallback-file", "", "TOML file of static credentials for the fallback path")
}

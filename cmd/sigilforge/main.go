// Package main is the CLI and daemon entry point for sigilforge.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	socketFlag string
	verbose    bool
	quiet      bool
)

func main() {
	root := &cobra.Command{
		Use:   "sigilforge",
		Short: "Local OAuth token and secret credential daemon",
		Long:  `sigilforge issues, refreshes, stores, and resolves OAuth access tokens and static secrets for command-line tools over a local IPC socket.`,
	}

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	}

	root.PersistentFlags().StringVar(&socketFlag, "socket", "", "control socket path (default: platform-specific)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress informational output")
	root.MarkFlagsMutuallyExclusive("verbose", "quiet")

	root.AddGroup(
		&cobra.Group{ID: "daemon", Title: "Daemon:"},
		&cobra.Group{ID: "credential", Title: "Credentials:"},
		&cobra.Group{ID: "service", Title: "Service:"},
	)

	root.AddCommand(startCmd())
	root.AddCommand(runCmd())
	root.AddCommand(stopCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(addAccountCmd())
	root.AddCommand(listAccountsCmd())
	root.AddCommand(removeAccountCmd())
	root.AddCommand(getTokenCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(serviceCmd())

	if err := fang.Execute(context.Background(), root); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	setupLoggingWithWriter(os.Stderr)
}

func setupLoggingWithWriter(w io.Writer) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	} else if quiet {
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})))
}

// stateDir returns the sigilforge state directory under XDG_STATE_HOME.
func stateDir() string {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "sigilforge")
}

func pidFilePath() string {
	return filepath.Join(stateDir(), "pid")
}

func logFilePath() string {
	return filepath.Join(stateDir(), "daemon.log")
}

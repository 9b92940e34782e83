package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/sigilforge/sigilforge/internal/ipc"
)

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the daemon in the background",
		GroupID: "daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return daemonizeStart()
		},
	}
	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the daemon in the foreground",
		GroupID: "daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForeground()
		},
	}
	return cmd
}

// runForeground runs the daemon in the current process.
func runForeground() error {
	if err := os.MkdirAll(stateDir(), 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	daemonLogFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer daemonLogFile.Close()
	logWriter := io.MultiWriter(os.Stderr, daemonLogFile)
	setupLoggingWithWriter(logWriter)

	state := newDaemonState()
	server := state.newServer(socketFlag)

	if err := server.Listen(); err != nil {
		return fmt.Errorf("listening on control socket: %w", err)
	}

	pidFile, err := acquirePIDLock()
	if err != nil {
		return fmt.Errorf("acquiring PID lock: %w", err)
	}
	defer func() {
		pidFile.Close()
		os.Remove(pidFilePath())
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)
	go func() {
		for sig := range sigCh {
			switch sig {
			case unix.SIGHUP:
				slog.Info("received SIGHUP (no config to reload)")
			default:
				slog.Info("received signal, shutting down", "signal", sig)
				server.Stop()
				cancel()
				return
			}
		}
	}()

	slog.Info("starting sigilforge", "control_socket", server.SocketPath())

	return server.Serve(ctx)
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "stop",
		Short:   "Stop the running daemon",
		GroupID: "daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if s, installed := serviceInstalled(); installed {
				if err := s.Stop(); err != nil {
					return fmt.Errorf("stopping service: %w", err)
				}
				fmt.Fprintln(os.Stderr, "service stopped")
				return nil
			}

			pid, err := readPID()
			if err != nil {
				return fmt.Errorf("reading PID file: %w (is the daemon running?)", err)
			}

			proc, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("finding process %d: %w", pid, err)
			}
			if err := proc.Signal(unix.SIGTERM); err != nil {
				return fmt.Errorf("sending SIGTERM to %d: %w", pid, err)
			}

			fmt.Fprintf(os.Stderr, "sent SIGTERM to sigilforge daemon (pid %d)\n", pid)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Report whether the daemon is reachable",
		GroupID: "daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ipc.NewClient(socketFlag, ipc.DefaultTimeout)
			if _, err := client.ListAccounts(""); err != nil {
				fmt.Fprintln(os.Stderr, "not running")
				return err
			}
			fmt.Fprintln(os.Stderr, "running")
			return nil
		},
	}
}

// readPID reads and parses the PID file.
func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing PID: %w", err)
	}
	return pid, nil
}

// acquirePIDLock opens the PID file with an exclusive flock. Returns
// the locked file (caller must defer close+remove) or an error if
// another daemon holds the lock.
func acquirePIDLock() (*os.File, error) {
	path := pidFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another sigilforge daemon is running (could not lock %s)", path)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// daemonizeStart re-execs the current binary as a detached background
// process. If an OS service is installed, it delegates to the service
// manager instead.
func daemonizeStart() error {
	client := ipc.NewClient(socketFlag, 500*time.Millisecond)
	if _, err := client.ListAccounts(""); err == nil {
		return fmt.Errorf("sigilforge is already running (daemon responded on control socket)")
	}

	if pid, err := readPID(); err == nil {
		if proc, err := os.FindProcess(pid); err == nil {
			if err := proc.Signal(unix.Signal(0)); err == nil {
				return fmt.Errorf("sigilforge is already running (pid %d)", pid)
			}
		}
	}

	if s, installed := serviceInstalled(); installed {
		if err := s.Start(); err != nil {
			return fmt.Errorf("starting service: %w", err)
		}
		fmt.Fprintln(os.Stderr, "service started")
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable path: %w", err)
	}

	args := []string{"run"}
	if socketFlag != "" {
		args = append(args, "--socket", socketFlag)
	}
	if verbose {
		args = append(args, "--verbose")
	}

	if err := os.MkdirAll(stateDir(), 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	c := exec.Command(exe, args...)
	c.Stdout = logFile
	c.Stderr = logFile
	c.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := c.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("starting background process: %w", err)
	}
	logFile.Close()

	fmt.Fprintf(os.Stderr, "sigilforge daemon started (pid %d)\n", c.Process.Pid)
	fmt.Fprintf(os.Stderr, "  log: %s\n", logFilePath())
	return nil
}

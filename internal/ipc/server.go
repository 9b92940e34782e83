package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/sigilforge/sigilforge/internal/account"
	"github.com/sigilforge/sigilforge/internal/resolver"
	"github.com/sigilforge/sigilforge/internal/token"
)

const maxRequestSize = 1 << 20 // 1 MiB, per the IPC server's max-request-size rule

const concurrencyPermits = 100

// Server is the daemon's JSON-RPC 2.0 control endpoint. It dispatches
// get_token, list_accounts, add_account, and resolve to the account
// store, token manager, and reference resolver.
type Server struct {
	socketPath string
	accounts   *account.Store
	tokens     *token.Manager
	resolver   *resolver.Resolver

	listener net.Listener
	sem      chan struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once
	conns        sync.WaitGroup
}

// NewServer constructs a Server. An empty socketPath resolves to
// DefaultSocketPath().
func NewServer(socketPath string, accounts *account.Store, tokens *token.Manager, res *resolver.Resolver) *Server {
	if socketPath == "" {
		socketPath = DefaultSocketPath()
	}
	return &Server{
		socketPath: socketPath,
		accounts:   accounts,
		tokens:     tokens,
		resolver:   res,
		sem:        make(chan struct{}, concurrencyPermits),
		shutdown:   make(chan struct{}),
	}
}

// DefaultSocketPath resolves the platform-specific control socket
// path.
func DefaultSocketPath() string {
	if runtime.GOOS == "darwin" {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "sigilforge", "daemon.sock")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "sigilforge.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("sigilforge-%d.sock", os.Getuid()))
}

// SocketPath returns the path this server binds (or will bind) to.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Listen removes any stale socket file and binds the Unix listener,
// setting file mode 0600 immediately after bind.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}

	// Stale socket recovery: unconditionally try to remove a
	// pre-existing file; errors from a non-existent file are ignored.
	_ = os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %q: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("setting socket permissions: %w", err)
	}
	s.listener = ln
	return nil
}

// Serve accepts connections until ctx is canceled or Stop is called.
// It blocks until the accept loop has fully exited.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	ln := s.listener
	slog.Info("ipc socket listening", "path", s.socketPath)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				s.conns.Wait()
				return nil
			default:
				slog.Error("accept error", "error", err)
				continue
			}
		}
		select {
		case s.sem <- struct{}{}:
			s.conns.Add(1)
			go func() {
				defer s.conns.Done()
				defer func() { <-s.sem }()
				s.handleConn(conn)
			}()
		default:
			slog.Warn("too many concurrent connections, rejecting")
			_ = conn.Close()
		}
	}
}

// Stop signals the accept loop to exit and unlinks the socket file.
// It is idempotent.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		_ = os.Remove(s.socketPath)
	})
}

// errLineTooLong is returned by readFrame when a request line exceeds
// maxRequestSize.
var errLineTooLong = errors.New("request line too long")

// readFrame reads one newline-delimited frame, discarding (rather than
// buffering) bytes past maxRequestSize so an oversize line cannot grow
// a buffer without bound while still letting the caller keep reading
// the connection afterward.
func readFrame(r *bufio.Reader, max int) ([]byte, error) {
	var buf []byte
	overflow := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !overflow {
			if len(buf)+len(chunk) > max {
				overflow = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if err == nil {
			if overflow {
				return nil, errLineTooLong
			}
			return bytes.TrimSuffix(buf, []byte("\n")), nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return nil, err
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	if err := verifyPeer(conn); err != nil {
		slog.Warn("rejecting connection: peer credential check failed", "error", err)
		return
	}

	reader := bufio.NewReaderSize(conn, 64*1024)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		line, err := readFrame(reader, maxRequestSize)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				writeResponse(conn, errorResponse(nil, CodeInvalidRequest, "Request too large"))
				continue
			}
			return
		}
		s.handleLine(conn, line)
	}
}

func (s *Server) handleLine(conn net.Conn, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		writeResponse(conn, errorResponse(nil, CodeParseError, "Parse error"))
		return
	}

	if req.Method == "" {
		writeResponse(conn, errorResponse(req.ID, CodeInvalidRequest, "missing method"))
		return
	}

	resp := s.dispatch(conn, req)
	writeResponse(conn, resp)
}

func (s *Server) dispatch(conn net.Conn, req Request) Response {
	ctx := context.Background()

	switch req.Method {
	case "get_token":
		return s.handleGetToken(ctx, req)
	case "list_accounts":
		return s.handleListAccounts(req)
	case "add_account":
		return s.handleAddAccount(req)
	case "resolve":
		return s.handleResolve(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %q", req.Method))
	}
}

func decodeParams(raw json.RawMessage, dst ...*string) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return err
	}
	if len(arr) < len(dst) {
		return fmt.Errorf("expected at least %d params, got %d", len(dst), len(arr))
	}
	for i, d := range dst {
		if err := json.Unmarshal(arr[i], d); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleGetToken(ctx context.Context, req Request) Response {
	var service, acct string
	if err := decodeParams(req.Params, &service, &acct); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	tok, err := s.tokens.EnsureAccessToken(ctx, service, acct)
	if err != nil {
		var nf *token.NotFoundError
		var ex *token.ExpiredError
		switch {
		case errors.As(err, &nf):
			return errorResponse(req.ID, CodeInvalidParams, err.Error())
		case errors.As(err, &ex):
			return errorResponse(req.ID, CodeInternalError, err.Error())
		default:
			return errorResponse(req.ID, CodeInternalError, err.Error())
		}
	}

	result := GetTokenResult{Token: tok.Value.RevealString()}
	if tok.ExpiresAt != nil {
		formatted := tok.ExpiresAt.UTC().Format(time.RFC3339)
		result.ExpiresAt = &formatted
	}
	resp, err := resultResponse(req.ID, result)
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, err.Error())
	}
	return resp
}

func (s *Server) handleListAccounts(req Request) Response {
	var service string
	if len(req.Params) > 0 {
		var arr []json.RawMessage
		if err := json.Unmarshal(req.Params, &arr); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		}
		if len(arr) > 0 {
			if err := json.Unmarshal(arr[0], &service); err != nil {
				return errorResponse(req.ID, CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
			}
		}
	}

	accounts, err := s.accounts.List(service)
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, err.Error())
	}

	infos := make([]AccountInfo, 0, len(accounts))
	for _, a := range accounts {
		info := AccountInfo{
			Service:   a.Service,
			Account:   a.ID,
			Scopes:    a.Scopes,
			CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
		}
		if a.LastUsed != nil {
			formatted := a.LastUsed.UTC().Format(time.RFC3339)
			info.LastUsed = &formatted
		}
		infos = append(infos, info)
	}

	resp, err := resultResponse(req.ID, ListAccountsResult{Accounts: infos})
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, err.Error())
	}
	return resp
}

func (s *Server) handleAddAccount(req Request) Response {
	var arr []json.RawMessage
	if err := json.Unmarshal(req.Params, &arr); err != nil || len(arr) < 2 {
		return errorResponse(req.ID, CodeInvalidParams, "expected [service, account, scopes[]]")
	}
	var service, acct string
	if err := json.Unmarshal(arr[0], &service); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, fmt.Sprintf("invalid service: %v", err))
	}
	if err := json.Unmarshal(arr[1], &acct); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, fmt.Sprintf("invalid account: %v", err))
	}
	var scopes []string
	if len(arr) > 2 {
		if err := json.Unmarshal(arr[2], &scopes); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, fmt.Sprintf("invalid scopes: %v", err))
		}
	}

	if _, err := s.accounts.Add(service, acct, scopes); err != nil {
		if errors.Is(err, account.ErrAlreadyExists) {
			return errorResponse(req.ID, CodeInvalidParams, fmt.Sprintf("account %s/%s already exists", service, acct))
		}
		return errorResponse(req.ID, CodeInternalError, err.Error())
	}

	resp, err := resultResponse(req.ID, AddAccountResult{
		Message: fmt.Sprintf("Account %s/%s added successfully", service, acct),
	})
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, err.Error())
	}
	return resp
}

func (s *Server) handleResolve(ctx context.Context, req Request) Response {
	var reference string
	if err := decodeParams(req.Params, &reference); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	value, err := s.resolver.Resolve(ctx, reference)
	if err != nil {
		var nf *resolver.NotFoundError
		var ife *resolver.InvalidFormatError
		var use *resolver.UnsupportedSchemeError
		switch {
		case errors.As(err, &nf), errors.As(err, &ife), errors.As(err, &use):
			return errorResponse(req.ID, CodeInvalidParams, err.Error())
		default:
			return errorResponse(req.ID, CodeInternalError, err.Error())
		}
	}

	resp, err := resultResponse(req.ID, ResolveResult{Value: value})
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, err.Error())
	}
	return resp
}

func writeResponse(conn net.Conn, resp Response) {
	if resp.JSONRPC == "" {
		resp.JSONRPC = "2.0"
	}
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

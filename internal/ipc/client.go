package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// DefaultTimeout is the default per-request timeout. A request that
// exceeds it returns ErrTimeout.
const DefaultTimeout = 5 * time.Second

// ErrDaemonUnavailable reports that the daemon's socket could not be
// reached at all (not listening, or removed).
var ErrDaemonUnavailable = errors.New("ipc: daemon unavailable")

// ErrTimeout reports that the request did not complete within the
// client's configured timeout. The fallback layer treats this the
// same as ErrDaemonUnavailable.
var ErrTimeout = errors.New("ipc: request timed out")

// RPCError reports a JSON-RPC error response. Callers that need the
// numeric code can type-assert to *RPCError.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string { return fmt.Sprintf("ipc: %s (code %d)", e.Message, e.Code) }

// Client makes one-shot round trips to the daemon's control socket.
// Each call opens a new connection, writes one request line, reads one
// response line, and closes — there is no multiplexing.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient constructs a Client. An empty socketPath resolves to
// DefaultSocketPath(); a non-positive timeout defaults to
// DefaultTimeout.
func NewClient(socketPath string, timeout time.Duration) *Client {
	if socketPath == "" {
		socketPath = DefaultSocketPath()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{socketPath: socketPath, timeout: timeout}
}

var requestID int64

func nextID() json.RawMessage {
	requestID++
	return json.RawMessage(fmt.Sprintf("%d", requestID))
}

func call(c *Client, method string, params any, result any) error {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	defer conn.Close()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling params: %w", err)
	}

	req := Request{JSONRPC: "2.0", ID: nextID(), Method: method, Params: paramsJSON}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	data = append(data, '\n')

	deadline := time.Now().Add(c.timeout)
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(data); err != nil {
		if isTimeout(err) {
			return ErrTimeout
		}
		return fmt.Errorf("writing request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil && isTimeout(err) {
			return ErrTimeout
		}
		return fmt.Errorf("%w: connection closed before response", ErrDaemonUnavailable)
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	if resp.Error != nil {
		return &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("parsing result: %w", err)
		}
	}
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// GetToken requests a fresh access token for (service, account).
func (c *Client) GetToken(service, account string) (GetTokenResult, error) {
	var result GetTokenResult
	err := call(c, "get_token", []string{service, account}, &result)
	return result, err
}

// ListAccounts lists configured accounts, optionally filtered by
// service. An empty service lists all accounts.
func (c *Client) ListAccounts(service string) (ListAccountsResult, error) {
	var result ListAccountsResult
	var params any
	if service == "" {
		params = []string{}
	} else {
		params = []string{service}
	}
	err := call(c, "list_accounts", params, &result)
	return result, err
}

// AddAccount registers a new (service, account) tuple with the given
// scopes.
func (c *Client) AddAccount(service, account string, scopes []string) (AddAccountResult, error) {
	var result AddAccountResult
	err := call(c, "add_account", []any{service, account, scopes}, &result)
	return result, err
}

// Resolve resolves a single auth:// reference through the daemon.
func (c *Client) Resolve(reference string) (ResolveResult, error) {
	var result ResolveResult
	err := call(c, "resolve", []string{reference}, &result)
	return result, err
}

package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sigilforge/sigilforge/internal/account"
	"github.com/sigilforge/sigilforge/internal/provider"
	"github.com/sigilforge/sigilforge/internal/resolver"
	"github.com/sigilforge/sigilforge/internal/secret"
	"github.com/sigilforge/sigilforge/internal/secretstore"
	"github.com/sigilforge/sigilforge/internal/token"
)

func newTestServer(t *testing.T) (*Server, *Client, secretstore.Store) {
	t.Helper()
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "daemon.sock")

	accounts := account.NewStore(filepath.Join(tmpDir, "accounts.json"))
	secrets := secretstore.NewMemoryStore()
	providers := provider.New()
	tokens := token.NewManager(accounts, secrets, providers, nil, token.DefaultExpiryBuffer)
	res := resolver.New(tokens, secrets)

	server := NewServer(socketPath, accounts, tokens, res)
	if err := server.Listen(); err != nil {
		t.Fatalf("Listen() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = server.Serve(ctx) }()

	client := NewClient(socketPath, time.Second)
	return server, client, secrets
}

func TestAddAndListAccounts(t *testing.T) {
	_, client, _ := newTestServer(t)

	addResp, err := client.AddAccount("github", "main", []string{"repo"})
	if err != nil {
		t.Fatalf("AddAccount() error: %v", err)
	}
	if !strings.Contains(addResp.Message, "added successfully") {
		t.Errorf("AddAccount() message = %q", addResp.Message)
	}

	listResp, err := client.ListAccounts("")
	if err != nil {
		t.Fatalf("ListAccounts() error: %v", err)
	}
	if len(listResp.Accounts) != 1 || listResp.Accounts[0].Account != "main" {
		t.Errorf("ListAccounts() = %+v", listResp.Accounts)
	}
}

func TestAddAccountDuplicateIsInvalidParams(t *testing.T) {
	_, client, _ := newTestServer(t)

	if _, err := client.AddAccount("github", "main", []string{"repo"}); err != nil {
		t.Fatalf("first AddAccount() error: %v", err)
	}

	_, err := client.AddAccount("github", "main", []string{"repo"})
	var rpcErr *RPCError
	if err == nil {
		t.Fatal("expected an error on duplicate add_account")
	}
	if !asRPCError(err, &rpcErr) {
		t.Fatalf("error = %v, want *RPCError", err)
	}
	if rpcErr.Code != CodeInvalidParams {
		t.Errorf("code = %d, want %d", rpcErr.Code, CodeInvalidParams)
	}
	if !strings.Contains(rpcErr.Message, "already exists") {
		t.Errorf("message = %q, want to contain %q", rpcErr.Message, "already exists")
	}
}

func TestResolveStaticSecretOverIPC(t *testing.T) {
	_, client, secrets := newTestServer(t)

	if err := secrets.Set(context.Background(), "sigilforge/openai/default/api_key", secret.FromString("key-123")); err != nil {
		t.Fatal(err)
	}

	resp, err := client.Resolve("auth://openai/default/api_key")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if resp.Value != "key-123" {
		t.Errorf("Resolve() = %q, want key-123", resp.Value)
	}
}

func TestResolveUnknownMethodNotFound(t *testing.T) {
	_, client, _ := newTestServer(t)

	var result struct{}
	err := call(client, "nonexistent_method", []string{}, &result)
	var rpcErr *RPCError
	if !asRPCError(err, &rpcErr) {
		t.Fatalf("error = %v, want *RPCError", err)
	}
	if rpcErr.Code != CodeMethodNotFound {
		t.Errorf("code = %d, want %d", rpcErr.Code, CodeMethodNotFound)
	}
}

func TestMalformedJSONIsParseError(t *testing.T) {
	_, client, _ := newTestServer(t)

	conn, err := net.Dial("unix", client.socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("not json at all\n")); err != nil {
		t.Fatal(err)
	}

	resp := readOneResponse(t, conn)
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Fatalf("response = %+v, want parse error", resp)
	}
}

func TestOversizeRequestRejectedThenConnectionContinues(t *testing.T) {
	_, client, _ := newTestServer(t)

	conn, err := net.Dial("unix", client.socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	prefix := `{"jsonrpc":"2.0","id":1,"method":"resolve","params":["`
	filler := bytes.Repeat([]byte("a"), maxRequestSize+10)
	oversized := append([]byte(prefix), filler...)
	oversized = append(oversized, '\n')
	if _, err := conn.Write(oversized); err != nil {
		t.Fatal(err)
	}

	resp := readOneResponse(t, conn)
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest || resp.Error.Message != "Request too large" {
		t.Fatalf("response = %+v, want Request too large", resp)
	}

	// The connection must still be usable for the next request.
	if _, err := conn.Write([]byte(`{"jsonrpc":"2.0","id":2,"method":"list_accounts","params":[]}` + "\n")); err != nil {
		t.Fatal(err)
	}
	resp2 := readOneResponse(t, conn)
	if resp2.Error != nil {
		t.Fatalf("second request failed: %+v", resp2.Error)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	server, _, _ := newTestServer(t)
	server.Stop()
	server.Stop()
}

func asRPCError(err error, target **RPCError) bool {
	rpcErr, ok := err.(*RPCError)
	if !ok {
		return false
	}
	*target = rpcErr
	return true
}

func readOneResponse(t *testing.T, conn net.Conn) Response {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil || (len(buf) > 0 && buf[len(buf)-1] == '\n') {
			break
		}
	}
	var resp Response
	if err := json.Unmarshal(buf, &resp); err != nil {
		t.Fatalf("unmarshaling response: %v", err)
	}
	return resp
}

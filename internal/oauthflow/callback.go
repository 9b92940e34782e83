package oauthflow

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// CallbackResult is what the loopback listener hands back once the
// provider redirects the user's browser to it.
type CallbackResult struct {
	Code  string
	State string
	Error string
}

const (
	successPage = `<html><body><h1>Authentication successful</h1><p>You may close this window.</p></body></html>`
	failurePage = `<html><body><h1>Authentication failed</h1><p>%s</p></body></html>`
)

// CallbackServer binds a loopback TCP port and hands the first HTTP
// request carrying the OAuth redirect to Wait, rejecting any request
// whose state does not match expectedState. Later requests are still
// answered with a page, but their results are dropped.
type CallbackServer struct {
	expectedState string
	listener      net.Listener
	server        *http.Server
	resultCh      chan CallbackResult
}

// NewCallbackServer binds port on loopback (127.0.0.1). Passing port
// 0 lets the OS choose an ephemeral port, retrievable via RedirectURI.
func NewCallbackServer(port int, expectedState string) (*CallbackServer, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("binding oauth callback listener: %w", err)
	}
	cs := &CallbackServer{
		expectedState: expectedState,
		listener:      ln,
		resultCh:      make(chan CallbackResult, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", cs.handle)
	cs.server = &http.Server{Handler: mux}
	go func() {
		_ = cs.server.Serve(ln)
	}()
	return cs, nil
}

// RedirectURI returns the redirect_uri to register with the
// authorization request.
func (cs *CallbackServer) RedirectURI() string {
	return fmt.Sprintf("http://127.0.0.1:%d/callback", cs.listener.Addr().(*net.TCPAddr).Port)
}

func (cs *CallbackServer) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result := CallbackResult{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	}

	if result.State != cs.expectedState {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, failurePage, "state parameter mismatch")
		select {
		case cs.resultCh <- CallbackResult{Error: "state parameter mismatch"}:
		default:
		}
		return
	}

	if result.Error != "" {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, failurePage, result.Error)
	} else {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, successPage)
	}

	select {
	case cs.resultCh <- result:
	default:
	}
}

// Wait blocks until a callback request arrives or ctx is done.
func (cs *CallbackServer) Wait(ctx context.Context) (CallbackResult, error) {
	select {
	case r := <-cs.resultCh:
		if r.Error == "state parameter mismatch" {
			return CallbackResult{}, errors.New("state parameter mismatch")
		}
		return r, nil
	case <-ctx.Done():
		return CallbackResult{}, ctx.Err()
	}
}

// Close shuts down the listener. Safe to call after Wait returns.
func (cs *CallbackServer) Close() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return cs.server.Shutdown(shutdownCtx)
}

package oauthflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/sigilforge/sigilforge/internal/provider"
)

func testProvider(tokenURL, authURL string) provider.Config {
	return provider.Config{ID: "x", AuthURL: authURL, TokenURL: tokenURL, SupportsPKCE: true, SupportsDeviceCode: true}
}

func TestPKCEAuthorizationURL(t *testing.T) {
	f, err := NewPKCEFlow(testProvider("http://token", "http://auth"), "client-1", "http://127.0.0.1:8484/callback", []string{"repo", "read:org"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	raw, err := f.AuthorizationURL()
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("response_type") != "code" {
		t.Errorf("response_type = %q", q.Get("response_type"))
	}
	if q.Get("client_id") != "client-1" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("code_challenge_method = %q", q.Get("code_challenge_method"))
	}
	if q.Get("scope") != "repo read:org" {
		t.Errorf("scope = %q", q.Get("scope"))
	}
	if q.Get("state") != f.State() {
		t.Errorf("state = %q, want %q", q.Get("state"), f.State())
	}
	if q.Get("code_challenge") == "" {
		t.Error("expected a code_challenge parameter")
	}
}

func TestPKCEExchangeOneShot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.FormValue("code_verifier") == "" {
			t.Error("expected code_verifier in exchange request")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at1",
			"expires_in":   3600,
			"scope":        "repo",
		})
	}))
	defer srv.Close()

	f, err := NewPKCEFlow(testProvider(srv.URL, "http://auth"), "client-1", "http://127.0.0.1:8484/callback", []string{"repo"}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}

	set, err := f.Exchange(context.Background(), "code-1", "")
	if err != nil {
		t.Fatalf("first Exchange: %v", err)
	}
	if set.Access.Value.RevealString() != "at1" {
		t.Errorf("access token = %q", set.Access.Value.RevealString())
	}

	_, err = f.Exchange(context.Background(), "code-2", "")
	if err != ErrVerifierConsumed {
		t.Fatalf("second Exchange error = %v, want ErrVerifierConsumed", err)
	}
}

func TestCallbackServerStateMismatch(t *testing.T) {
	cs, err := NewCallbackServer(0, "expected-state")
	if err != nil {
		t.Fatal(err)
	}
	defer cs.Close()

	resp, err := http.Get(cs.RedirectURI() + "?code=abc&state=wrong-state")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	_, waitErr := cs.Wait(context.Background())
	if waitErr == nil || waitErr.Error() != "state parameter mismatch" {
		t.Fatalf("Wait() error = %v, want state parameter mismatch", waitErr)
	}
}

func TestCallbackServerMatchingState(t *testing.T) {
	cs, err := NewCallbackServer(0, "expected-state")
	if err != nil {
		t.Fatal(err)
	}
	defer cs.Close()

	go func() {
		_, _ = http.Get(cs.RedirectURI() + "?code=abc123&state=expected-state")
	}()

	result, err := cs.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Code != "abc123" {
		t.Errorf("Code = %q, want abc123", result.Code)
	}
}

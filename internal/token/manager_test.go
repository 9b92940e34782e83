package token

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sigilforge/sigilforge/internal/account"
	"github.com/sigilforge/sigilforge/internal/credential"
	"github.com/sigilforge/sigilforge/internal/provider"
	"github.com/sigilforge/sigilforge/internal/secret"
	"github.com/sigilforge/sigilforge/internal/secretstore"
)

func newTestManager(t *testing.T, httpClient *http.Client, providers *provider.Registry) (*Manager, *account.Store, secretstore.Store) {
	t.Helper()
	accounts := account.NewStore(filepath.Join(t.TempDir(), "accounts.json"))
	secrets := secretstore.NewMemoryStore()
	if providers == nil {
		providers = provider.New(provider.Config{ID: "x", TokenURL: "http://unused"})
	}
	return NewManager(accounts, secrets, providers, httpClient, DefaultExpiryBuffer), accounts, secrets
}

func TestEnsureAccessTokenHappyPathRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.FormValue("grant_type") != "refresh_token" || r.FormValue("refresh_token") != "r1" {
			t.Errorf("unexpected refresh request: %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new",
			"expires_in":    3600,
			"refresh_token": "r2",
			"scope":         "read write",
		})
	}))
	defer srv.Close()

	providers := provider.New(provider.Config{ID: "x", TokenURL: srv.URL})
	m, accounts, secrets := newTestManager(t, srv.Client(), providers)
	ctx := context.Background()

	_, _ = accounts.Add("x", "a", nil)
	past := time.Now().Add(-1 * time.Hour)
	seed := TokenSet{
		Access: Token{Value: secret.FromString("old"), ExpiresAt: &past},
	}
	rt := secret.FromString("r1")
	seed.Refresh = &rt
	if err := m.StoreTokenSet(ctx, "x", "a", seed); err != nil {
		t.Fatal(err)
	}
	if err := m.StoreClientCredentials(ctx, "x", "a", "c", "s"); err != nil {
		t.Fatal(err)
	}

	tok, err := m.EnsureAccessToken(ctx, "x", "a")
	if err != nil {
		t.Fatalf("EnsureAccessToken: %v", err)
	}
	if tok.Value.RevealString() != "new" {
		t.Errorf("access token = %q, want new", tok.Value.RevealString())
	}

	set, ok, err := m.GetTokenSet(ctx, "x", "a")
	if err != nil || !ok {
		t.Fatalf("GetTokenSet: ok=%v err=%v", ok, err)
	}
	if set.Refresh == nil || set.Refresh.RevealString() != "r2" {
		t.Errorf("stored refresh token = %v, want r2", set.Refresh)
	}
	if len(set.Access.Scopes) != 2 || set.Access.Scopes[0] != "read" {
		t.Errorf("stored scopes = %v", set.Access.Scopes)
	}

	got, _, err := accounts.Get("x", "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastUsed == nil {
		t.Error("expected last_used to be set after successful issue")
	}

	clientID, err := secrets.Get(ctx, credential.Ref{Service: "x", Account: "a", Type: credential.ClientID}.Key())
	if err != nil || clientID.RevealString() != "c" {
		t.Errorf("stored client_id = %v, err=%v, want c", clientID, err)
	}
}

func TestEnsureAccessTokenStaleWithoutRefresh(t *testing.T) {
	m, accounts, _ := newTestManager(t, nil, nil)
	ctx := context.Background()
	_, _ = accounts.Add("x", "a", nil)

	past := time.Now().Add(-1 * time.Hour)
	seed := TokenSet{Access: Token{Value: secret.FromString("old"), ExpiresAt: &past}}
	if err := m.StoreTokenSet(ctx, "x", "a", seed); err != nil {
		t.Fatal(err)
	}

	_, err := m.EnsureAccessToken(ctx, "x", "a")
	var expiredErr *ExpiredError
	if !errors.As(err, &expiredErr) {
		t.Fatalf("EnsureAccessToken error = %v, want *ExpiredError", err)
	}
	if expiredErr.Message != "no refresh token available" {
		t.Errorf("message = %q", expiredErr.Message)
	}
}

func TestEnsureAccessTokenUnknownAccount(t *testing.T) {
	m, _, _ := newTestManager(t, nil, nil)
	_, err := m.EnsureAccessToken(context.Background(), "x", "missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %v, want *NotFoundError", err)
	}
	if nf.Service != "x" || nf.Account != "missing" {
		t.Errorf("NotFoundError = %+v", nf)
	}
}

func TestEnsureAccessTokenFreshReturnsWithoutRefresh(t *testing.T) {
	m, _, _ := newTestManager(t, nil, nil)
	ctx := context.Background()

	future := time.Now().Add(2 * time.Hour)
	seed := TokenSet{Access: Token{Value: secret.FromString("fresh"), ExpiresAt: &future}}
	if err := m.StoreTokenSet(ctx, "x", "a", seed); err != nil {
		t.Fatal(err)
	}

	tok, err := m.EnsureAccessToken(ctx, "x", "a")
	if err != nil {
		t.Fatal(err)
	}
	if tok.Value.RevealString() != "fresh" {
		t.Errorf("access token = %q, want fresh", tok.Value.RevealString())
	}
}

func TestStoreTokenSetIdempotentAndRoundtrips(t *testing.T) {
	m, _, _ := newTestManager(t, nil, nil)
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	rt := secret.FromString("r1")
	set := TokenSet{
		Access:  Token{Value: secret.FromString("a1"), ExpiresAt: &expiry, Scopes: []string{"read", "write"}},
		Refresh: &rt,
	}

	if err := m.StoreTokenSet(ctx, "x", "a", set); err != nil {
		t.Fatal(err)
	}
	if err := m.StoreTokenSet(ctx, "x", "a", set); err != nil {
		t.Fatal(err)
	}

	got, ok, err := m.GetTokenSet(ctx, "x", "a")
	if err != nil || !ok {
		t.Fatalf("GetTokenSet: ok=%v err=%v", ok, err)
	}
	if got.Access.Value.RevealString() != "a1" {
		t.Errorf("access value = %q", got.Access.Value.RevealString())
	}
	if got.Access.ExpiresAt == nil || !got.Access.ExpiresAt.Equal(expiry) {
		t.Errorf("expires_at = %v, want %v", got.Access.ExpiresAt, expiry)
	}
	if len(got.Access.Scopes) != 2 {
		t.Errorf("scopes = %v", got.Access.Scopes)
	}
	if got.Refresh == nil || got.Refresh.RevealString() != "r1" {
		t.Errorf("refresh = %v", got.Refresh)
	}
}

func TestStoreClientCredentialsPersistsClientIDAndSecret(t *testing.T) {
	m, _, secrets := newTestManager(t, nil, nil)
	ctx := context.Background()

	if err := m.StoreClientCredentials(ctx, "x", "a", "client-1", "shh"); err != nil {
		t.Fatal(err)
	}

	clientID, err := secrets.Get(ctx, credential.Ref{Service: "x", Account: "a", Type: credential.ClientID}.Key())
	if err != nil || clientID.RevealString() != "client-1" {
		t.Errorf("client_id = %v, err=%v, want client-1", clientID, err)
	}
	clientSecret, err := secrets.Get(ctx, credential.Ref{Service: "x", Account: "a", Type: credential.ClientSecret}.Key())
	if err != nil || clientSecret.RevealString() != "shh" {
		t.Errorf("client_secret = %v, err=%v, want shh", clientSecret, err)
	}
}

func TestStoreClientCredentialsOmitsEmptySecret(t *testing.T) {
	m, _, secrets := newTestManager(t, nil, nil)
	ctx := context.Background()

	if err := m.StoreClientCredentials(ctx, "x", "a", "client-1", ""); err != nil {
		t.Fatal(err)
	}

	if _, err := secrets.Get(ctx, credential.Ref{Service: "x", Account: "a", Type: credential.ClientSecret}.Key()); !errors.Is(err, secretstore.ErrNotFound) {
		t.Errorf("expected client_secret to be absent, got err=%v", err)
	}
}

func TestRevokeTokensIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t, nil, nil)
	ctx := context.Background()

	seed := TokenSet{Access: Token{Value: secret.FromString("a1")}}
	if err := m.StoreTokenSet(ctx, "x", "a", seed); err != nil {
		t.Fatal(err)
	}

	if err := m.RevokeTokens(ctx, "x", "a"); err != nil {
		t.Fatal(err)
	}
	if err := m.RevokeTokens(ctx, "x", "a"); err != nil {
		t.Fatalf("second RevokeTokens should also succeed: %v", err)
	}

	_, ok, err := m.GetTokenSet(ctx, "x", "a")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected token set to be gone after revoke")
	}
}

func TestIntrospectTokenActiveFlag(t *testing.T) {
	m, _, _ := newTestManager(t, nil, nil)
	ctx := context.Background()

	future := time.Now().Add(2 * time.Hour)
	seed := TokenSet{Access: Token{Value: secret.FromString("a1"), ExpiresAt: &future, Scopes: []string{"read"}}}
	if err := m.StoreTokenSet(ctx, "x", "a", seed); err != nil {
		t.Fatal(err)
	}

	intro, err := m.IntrospectToken(ctx, "x", "a")
	if err != nil {
		t.Fatal(err)
	}
	if !intro.Active {
		t.Error("expected active=true for a fresh token")
	}
}

func TestIntrospectTokenMissing(t *testing.T) {
	m, _, _ := newTestManager(t, nil, nil)
	intro, err := m.IntrospectToken(context.Background(), "x", "missing")
	if err != nil {
		t.Fatal(err)
	}
	if intro.Active {
		t.Error("expected active=false when no token set exists")
	}
}

func TestExpiryBufferDiscipline(t *testing.T) {
	buffer := DefaultExpiryBuffer
	halfStale := time.Now().Add(buffer / 2)
	tok := Token{ExpiresAt: &halfStale}
	if !tok.Stale(buffer) {
		t.Error("expected token expiring at now+buffer/2 to be stale")
	}

	fresh := time.Now().Add(2 * buffer)
	tok2 := Token{ExpiresAt: &fresh}
	if tok2.Stale(buffer) {
		t.Error("expected token expiring at now+2*buffer to be fresh")
	}
}

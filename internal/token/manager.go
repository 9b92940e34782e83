package token

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sigilforge/sigilforge/internal/account"
	"github.com/sigilforge/sigilforge/internal/credential"
	"github.com/sigilforge/sigilforge/internal/provider"
	"github.com/sigilforge/sigilforge/internal/secret"
	"github.com/sigilforge/sigilforge/internal/secretstore"
)

// Errors returned by Manager operations.
var (
	// ErrNotFound wraps a missing (service, account) TokenSet. Use
	// NotFoundError to recover the offending pair.
	ErrNotFound = errors.New("token: not found")
	// ErrExpired wraps a token that is stale/expired and could not be
	// refreshed, or has no refresh token available.
	ErrExpired = errors.New("token: expired")
	// ErrProviderNotConfigured is returned when the account's service
	// has no matching entry in the Provider Registry.
	ErrProviderNotConfigured = errors.New("token: provider not configured")
)

// NotFoundError carries the (service, account) pair for ErrNotFound.
type NotFoundError struct {
	Service string
	Account string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("token: no token set stored for %s/%s", e.Service, e.Account)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ExpiredError carries the refresh failure detail for ErrExpired.
type ExpiredError struct {
	Message string
}

func (e *ExpiredError) Error() string { return fmt.Sprintf("token: %s", e.Message) }

func (e *ExpiredError) Unwrap() error { return ErrExpired }

// Introspection is the result of IntrospectToken.
type Introspection struct {
	Active    bool
	Subject   string
	ClientID  string
	Scopes    []string
	ExpiresAt *time.Time
}

// Manager enforces token freshness. It borrows the account store, the
// secret store, and the provider registry; it never caches secrets in
// memory beyond the scope of a single call.
type Manager struct {
	accounts     *account.Store
	secrets      secretstore.Store
	providers    *provider.Registry
	httpClient   *http.Client
	expiryBuffer time.Duration
}

// NewManager constructs a Manager. httpClient may be nil, in which
// case http.DefaultClient is used.
func NewManager(accounts *account.Store, secrets secretstore.Store, providers *provider.Registry, httpClient *http.Client, expiryBuffer time.Duration) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if expiryBuffer <= 0 {
		expiryBuffer = DefaultExpiryBuffer
	}
	return &Manager{
		accounts:     accounts,
		secrets:      secrets,
		providers:    providers,
		httpClient:   httpClient,
		expiryBuffer: expiryBuffer,
	}
}

func ref(service, acct string, ty credential.Type) credential.Ref {
	return credential.Ref{Service: service, Account: acct, Type: ty}
}

// GetTokenSet reads the stored TokenSet without refreshing. Returns
// (TokenSet{}, false, nil) if no access token is stored.
func (m *Manager) GetTokenSet(ctx context.Context, service, acct string) (TokenSet, bool, error) {
	accessSecret, err := m.secrets.Get(ctx, ref(service, acct, credential.AccessToken).Key())
	if errors.Is(err, secretstore.ErrNotFound) {
		return TokenSet{}, false, nil
	}
	if err != nil {
		return TokenSet{}, false, err
	}

	tok := Token{Value: accessSecret, TokenType: "Bearer"}

	if expirySecret, err := m.secrets.Get(ctx, ref(service, acct, credential.TokenExpiry).Key()); err == nil {
		if unixSeconds, convErr := strconv.ParseInt(expirySecret.RevealString(), 10, 64); convErr == nil {
			t := time.Unix(unixSeconds, 0).UTC()
			tok.ExpiresAt = &t
		}
	} else if !errors.Is(err, secretstore.ErrNotFound) {
		return TokenSet{}, false, err
	}

	if scopesSecret, err := m.secrets.Get(ctx, ref(service, acct, credential.TokenScopes).Key()); err == nil {
		if s := scopesSecret.RevealString(); s != "" {
			tok.Scopes = strings.Split(s, ",")
		}
	} else if !errors.Is(err, secretstore.ErrNotFound) {
		return TokenSet{}, false, err
	}

	set := TokenSet{Access: tok, RefreshedAt: time.Now().UTC()}

	if refreshSecret, err := m.secrets.Get(ctx, ref(service, acct, credential.RefreshToken).Key()); err == nil {
		set.Refresh = &refreshSecret
	} else if !errors.Is(err, secretstore.ErrNotFound) {
		return TokenSet{}, false, err
	}

	return set, true, nil
}

// StoreTokenSet persists each component of set under its canonical
// key. Absent optional components are left untouched — callers must
// call RevokeTokens to erase them.
func (m *Manager) StoreTokenSet(ctx context.Context, service, acct string, set TokenSet) error {
	if err := m.secrets.Set(ctx, ref(service, acct, credential.AccessToken).Key(), set.Access.Value); err != nil {
		return err
	}
	if set.Access.ExpiresAt != nil {
		expiry := secret.FromString(strconv.FormatInt(set.Access.ExpiresAt.Unix(), 10))
		if err := m.secrets.Set(ctx, ref(service, acct, credential.TokenExpiry).Key(), expiry); err != nil {
			return err
		}
	}
	if len(set.Access.Scopes) > 0 {
		scopes := secret.FromString(strings.Join(set.Access.Scopes, ","))
		if err := m.secrets.Set(ctx, ref(service, acct, credential.TokenScopes).Key(), scopes); err != nil {
			return err
		}
	}
	if set.Refresh != nil {
		if err := m.secrets.Set(ctx, ref(service, acct, credential.RefreshToken).Key(), *set.Refresh); err != nil {
			return err
		}
	}
	return nil
}

// StoreClientCredentials persists the OAuth client ID and (optional)
// client secret for (service, account). These are required by refresh
// (see refresh below), which sends them back to the provider's token
// endpoint on every refresh_token grant; callers that authorize a new
// account must call this alongside StoreTokenSet.
func (m *Manager) StoreClientCredentials(ctx context.Context, service, acct, clientID, clientSecret string) error {
	if err := m.secrets.Set(ctx, ref(service, acct, credential.ClientID).Key(), secret.FromString(clientID)); err != nil {
		return err
	}
	if clientSecret != "" {
		if err := m.secrets.Set(ctx, ref(service, acct, credential.ClientSecret).Key(), secret.FromString(clientSecret)); err != nil {
			return err
		}
	}
	return nil
}

// RevokeTokens deletes the access, refresh, expiry, scope, and client
// credential keys for (service, account). Store.Delete is documented
// as idempotent for an absent key (returns nil), so any error it does
// return reflects a genuine backend failure — for example a keyring
// delete that the OS credential store rejects — and is surfaced
// immediately rather than swallowed, so a caller never
// reports a successful revoke when secrets were not actually removed.
func (m *Manager) RevokeTokens(ctx context.Context, service, acct string) error {
	keys := []credential.Type{credential.AccessToken, credential.RefreshToken, credential.TokenExpiry, credential.TokenScopes, credential.ClientID, credential.ClientSecret}
	for _, ty := range keys {
		if err := m.secrets.Delete(ctx, ref(service, acct, ty).Key()); err != nil {
			return fmt.Errorf("revoking %s: %w", ty.String(), err)
		}
	}
	return nil
}

// IntrospectToken reports whether a TokenSet exists and is currently
// fresh, without triggering a refresh.
func (m *Manager) IntrospectToken(ctx context.Context, service, acct string) (Introspection, error) {
	set, ok, err := m.GetTokenSet(ctx, service, acct)
	if err != nil {
		return Introspection{}, err
	}
	if !ok {
		return Introspection{}, nil
	}
	return Introspection{
		Active:    !set.Access.Stale(m.expiryBuffer) && !set.Access.Expired(),
		Scopes:    set.Access.Scopes,
		ExpiresAt: set.Access.ExpiresAt,
	}, nil
}

// EnsureAccessToken returns a Token valid at least until now plus the
// expiry buffer, refreshing via the provider's token endpoint if
// necessary. Updates the account store's last_used timestamp on every
// successful return.
func (m *Manager) EnsureAccessToken(ctx context.Context, service, acct string) (Token, error) {
	set, ok, err := m.GetTokenSet(ctx, service, acct)
	if err != nil {
		return Token{}, err
	}
	if !ok {
		return Token{}, &NotFoundError{Service: service, Account: acct}
	}

	if !set.Access.Stale(m.expiryBuffer) && !set.Access.Expired() {
		m.touchLastUsed(service, acct)
		return set.Access, nil
	}

	if set.Refresh == nil {
		return Token{}, &ExpiredError{Message: "no refresh token available"}
	}

	refreshed, err := m.refresh(ctx, service, acct, *set.Refresh)
	if err != nil {
		return Token{}, &ExpiredError{Message: fmt.Sprintf("refresh failed: %v", err)}
	}

	if err := m.StoreTokenSet(ctx, service, acct, refreshed); err != nil {
		return Token{}, fmt.Errorf("storing refreshed token set: %w", err)
	}

	m.touchLastUsed(service, acct)
	return refreshed.Access, nil
}

func (m *Manager) touchLastUsed(service, acct string) {
	if err := m.accounts.TouchLastUsed(service, acct, time.Now().UTC()); err != nil {
		slog.Debug("failed to update last_used", "service", service, "account", acct, "error", err)
	}
}

// refresh implements the refresh algorithm from §4.2: a
// grant_type=refresh_token POST using stored client credentials.
func (m *Manager) refresh(ctx context.Context, service, acct string, refreshToken secret.Secret) (TokenSet, error) {
	p, ok := m.providers.Lookup(service)
	if !ok {
		return TokenSet{}, ErrProviderNotConfigured
	}

	clientID, err := m.secrets.Get(ctx, ref(service, acct, credential.ClientID).Key())
	if err != nil && !errors.Is(err, secretstore.ErrNotFound) {
		return TokenSet{}, err
	}
	clientSecret, err := m.secrets.Get(ctx, ref(service, acct, credential.ClientSecret).Key())
	if err != nil && !errors.Is(err, secretstore.ErrNotFound) {
		return TokenSet{}, err
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken.RevealString()},
		"client_id":     {clientID.RevealString()},
	}
	if !clientSecret.IsZero() {
		form.Set("client_secret", clientSecret.RevealString())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenSet{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return TokenSet{}, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenSet{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return TokenSet{}, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	parsed, err := parseRefreshResponse(body)
	if err != nil {
		return TokenSet{}, err
	}

	now := time.Now().UTC()
	tok := Token{
		Value:     secret.FromString(parsed.AccessToken),
		TokenType: "Bearer",
	}
	if parsed.ExpiresIn > 0 {
		expiresAt := now.Add(time.Duration(parsed.ExpiresIn) * time.Second)
		tok.ExpiresAt = &expiresAt
	}
	if parsed.Scope != "" {
		tok.Scopes = strings.Fields(parsed.Scope)
	}

	result := TokenSet{Access: tok, RefreshedAt: now}
	if parsed.RefreshToken != "" {
		rt := secret.FromString(parsed.RefreshToken)
		result.Refresh = &rt
	} else {
		result.Refresh = &refreshToken
	}
	return result, nil
}

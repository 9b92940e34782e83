// Package oauthflow implements the two client-side OAuth flow
// engines: Authorization Code with PKCE and the Device Authorization
// Grant. Both produce a TokenManager-ready token.TokenSet.
package oauthflow

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sigilforge/sigilforge/internal/provider"
	"github.com/sigilforge/sigilforge/internal/secret"
	"github.com/sigilforge/sigilforge/internal/token"
)

const verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// PKCEFlow drives a single Authorization-Code-with-PKCE exchange. A
// PKCEFlow is single-use: Exchange consumes the verifier and fails on
// a second call.
type PKCEFlow struct {
	provider    provider.Config
	clientID    string
	redirectURI string
	scopes      []string
	httpClient  *http.Client

	state    string
	verifier string
	used     bool
}

// NewPKCEFlow generates a fresh verifier/challenge pair and CSRF
// state for one authorization attempt. httpClient may be nil, in
// which case http.DefaultClient is used (tests inject a client
// pointed at a local mock server).
func NewPKCEFlow(p provider.Config, clientID, redirectURI string, scopes []string, httpClient *http.Client) (*PKCEFlow, error) {
	verifier, err := randomString(verifierAlphabet, 64)
	if err != nil {
		return nil, fmt.Errorf("generating PKCE verifier: %w", err)
	}
	state, err := randomString(verifierAlphabet, 32)
	if err != nil {
		return nil, fmt.Errorf("generating CSRF state: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &PKCEFlow{
		provider:    p,
		clientID:    clientID,
		redirectURI: redirectURI,
		scopes:      scopes,
		httpClient:  httpClient,
		state:       state,
		verifier:    verifier,
	}, nil
}

// State returns the CSRF state token the caller must verify against
// the redirect callback.
func (f *PKCEFlow) State() string { return f.state }

// challenge derives the S256 code challenge from the verifier.
func challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// AuthorizationURL builds the URL the user must open in a browser.
func (f *PKCEFlow) AuthorizationURL() (string, error) {
	u, err := url.Parse(f.provider.AuthURL)
	if err != nil {
		return "", fmt.Errorf("parsing authorization url: %w", err)
	}
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {f.clientID},
		"redirect_uri":          {f.redirectURI},
		"scope":                 {strings.Join(f.scopes, " ")},
		"state":                 {f.state},
		"code_challenge":        {challenge(f.verifier)},
		"code_challenge_method": {"S256"},
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ErrVerifierConsumed is returned by Exchange when called a second
// time on the same flow instance.
var ErrVerifierConsumed = errors.New("oauthflow: PKCE verifier not found")

// Exchange trades an authorization code for a token.TokenSet. The
// verifier is consumed: a second call always fails with
// ErrVerifierConsumed.
func (f *PKCEFlow) Exchange(ctx context.Context, code string, clientSecret string) (token.TokenSet, error) {
	if f.used {
		return token.TokenSet{}, ErrVerifierConsumed
	}
	f.used = true

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {f.redirectURI},
		"client_id":     {f.clientID},
		"code_verifier": {f.verifier},
	}
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}
	f.verifier = ""

	return postTokenRequest(ctx, f.httpClient, f.provider.TokenURL, form)
}

func randomString(alphabet string, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}

// postTokenRequest performs the shared form-encoded POST to a
// provider's token endpoint and parses the response into a TokenSet.
// Used by the PKCE exchange; the device-code poll builds its own
// request in pollOnce.
func postTokenRequest(ctx context.Context, client *http.Client, tokenURL string, form url.Values) (token.TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return token.TokenSet{}, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return token.TokenSet{}, fmt.Errorf("oauthflow: network error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return token.TokenSet{}, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if errCode, ok := parseOAuthError(body); ok {
			return token.TokenSet{}, fmt.Errorf("oauthflow: OAuth error: %s", errCode)
		}
		return token.TokenSet{}, fmt.Errorf("oauthflow: token endpoint returned status %d", resp.StatusCode)
	}

	resp2, err := parseTokenResponse(body)
	if err != nil {
		return token.TokenSet{}, err
	}

	return tokenSetFromResponse(resp2, time.Now()), nil
}

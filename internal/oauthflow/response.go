package oauthflow

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sigilforge/sigilforge/internal/secret"
	"github.com/sigilforge/sigilforge/internal/token"
)

// tokenResponse is the subset of a provider's token-endpoint JSON
// body the flow engines parse into a token.TokenSet.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

type oauthErrorBody struct {
	Error string `json:"error"`
}

func parseTokenResponse(body []byte) (tokenResponse, error) {
	var r tokenResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return tokenResponse{}, err
	}
	return r, nil
}

func parseOAuthError(body []byte) (string, bool) {
	var e oauthErrorBody
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		return "", false
	}
	return e.Error, true
}

func tokenSetFromResponse(r tokenResponse, now time.Time) token.TokenSet {
	tokenType := r.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	tok := token.Token{
		Value:     secret.FromString(r.AccessToken),
		TokenType: tokenType,
	}
	if r.ExpiresIn > 0 {
		expiresAt := now.Add(time.Duration(r.ExpiresIn) * time.Second)
		tok.ExpiresAt = &expiresAt
	}
	if r.Scope != "" {
		tok.Scopes = strings.Fields(r.Scope)
	}

	set := token.TokenSet{Access: tok, RefreshedAt: now.UTC()}
	if r.RefreshToken != "" {
		rt := secret.FromString(r.RefreshToken)
		set.Refresh = &rt
	}
	return set
}

package oauthflow

import (
	"context"
	"encoding/json"
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

// DeviceAuthorization is what the provider returns from the
// device-authorization endpoint, ready to display to the user.
type DeviceAuthorization struct {
	DeviceCode              secret.Secret
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	IntervalSeconds         uint64
	ExpiresInSeconds        uint64
}

// DeviceFlow drives a Device Authorization Grant exchange.
type DeviceFlow struct {
	provider   provider.Config
	clientID   string
	scopes     []string
	httpClient *http.Client

	// intervalUnit scales IntervalSeconds/slow_down's five-second
	// extension; it is one second in production and shortened by
	// tests so polling loops don't need to run in real wall-clock
	// seconds.
	intervalUnit time.Duration
}

// NewDeviceFlow constructs a DeviceFlow. It refuses construction if
// the provider does not support the device-code grant.
func NewDeviceFlow(p provider.Config, clientID string, scopes []string, httpClient *http.Client) (*DeviceFlow, error) {
	if !p.SupportsDeviceCode {
		return nil, fmt.Errorf("oauthflow: provider %q does not support device code", p.ID)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &DeviceFlow{provider: p, clientID: clientID, scopes: scopes, httpClient: httpClient, intervalUnit: time.Second}, nil
}

// RequestDeviceCode POSTs to the provider's device-authorization
// endpoint, known a priori or derived from the token URL.
func (f *DeviceFlow) RequestDeviceCode(ctx context.Context) (DeviceAuthorization, error) {
	form := url.Values{
		"client_id": {f.clientID},
		"scope":     {strings.Join(f.scopes, " ")},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.provider.DeviceAuthURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return DeviceAuthorization{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return DeviceAuthorization{}, fmt.Errorf("oauthflow: network error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return DeviceAuthorization{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return DeviceAuthorization{}, fmt.Errorf("oauthflow: device authorization endpoint returned status %d", resp.StatusCode)
	}

	var dr struct {
		DeviceCode              string `json:"device_code"`
		UserCode                string `json:"user_code"`
		VerificationURI         string `json:"verification_uri"`
		VerificationURIComplete string `json:"verification_uri_complete"`
		Interval                uint64 `json:"interval"`
		ExpiresIn               uint64 `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &dr); err != nil {
		return DeviceAuthorization{}, fmt.Errorf("parsing device authorization response: %w", err)
	}

	interval := dr.Interval
	if interval == 0 {
		interval = 5
	}

	return DeviceAuthorization{
		DeviceCode:              secret.FromString(dr.DeviceCode),
		UserCode:                dr.UserCode,
		VerificationURI:         dr.VerificationURI,
		VerificationURIComplete: dr.VerificationURIComplete,
		IntervalSeconds:         interval,
		ExpiresInSeconds:        dr.ExpiresIn,
	}, nil
}

// ErrAccessDenied is returned when the user denies authorization.
var ErrAccessDenied = errors.New("oauthflow: user denied authorization")

// ErrDeviceCodeExpired is returned when polling exceeds the device
// code's lifetime.
var ErrDeviceCodeExpired = errors.New("oauthflow: device code expired")

// Poll polls the token endpoint until success, denial, or expiry,
// honoring slow_down by extending the interval by five seconds
// (cumulative) and authorization_pending by retrying unchanged.
func (f *DeviceFlow) Poll(ctx context.Context, da DeviceAuthorization) (token.TokenSet, error) {
	interval := time.Duration(da.IntervalSeconds) * f.intervalUnit
	deadline := time.Now().Add(time.Duration(da.ExpiresInSeconds) * f.intervalUnit)

	for {
		if time.Now().After(deadline) {
			return token.TokenSet{}, ErrDeviceCodeExpired
		}

		select {
		case <-ctx.Done():
			return token.TokenSet{}, ctx.Err()
		case <-time.After(interval):
		}

		set, retry, extend, err := f.pollOnce(ctx, da.DeviceCode)
		if err == nil {
			return set, nil
		}
		if !retry {
			return token.TokenSet{}, err
		}
		if extend {
			interval += 5 * f.intervalUnit
		}
	}
}

// pollOnce performs a single device-code token request. retry
// indicates the caller should keep polling (authorization_pending or
// slow_down); extend indicates the interval should grow by 5s.
func (f *DeviceFlow) pollOnce(ctx context.Context, deviceCode secret.Secret) (set token.TokenSet, retry bool, extend bool, err error) {
	form := url.Values{
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"device_code": {deviceCode.RevealString()},
		"client_id":   {f.clientID},
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, f.provider.TokenURL, strings.NewReader(form.Encode()))
	if reqErr != nil {
		return token.TokenSet{}, false, false, reqErr
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, doErr := f.httpClient.Do(req)
	if doErr != nil {
		return token.TokenSet{}, false, false, fmt.Errorf("oauthflow: network error: %w", doErr)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return token.TokenSet{}, false, false, readErr
	}

	if resp.StatusCode == http.StatusOK {
		parsed, parseErr := parseTokenResponse(body)
		if parseErr != nil {
			return token.TokenSet{}, false, false, parseErr
		}
		return tokenSetFromResponse(parsed, time.Now()), false, false, nil
	}

	code, ok := parseOAuthError(body)
	if !ok {
		return token.TokenSet{}, false, false, fmt.Errorf("oauthflow: token endpoint returned status %d", resp.StatusCode)
	}

	switch code {
	case "authorization_pending":
		return token.TokenSet{}, true, false, nil
	case "slow_down":
		return token.TokenSet{}, true, true, nil
	case "access_denied":
		return token.TokenSet{}, false, false, ErrAccessDenied
	case "expired_token":
		return token.TokenSet{}, false, false, ErrDeviceCodeExpired
	default:
		return token.TokenSet{}, false, false, fmt.Errorf("oauthflow: OAuth error: %s", code)
	}
}

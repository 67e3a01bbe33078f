// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package auth implements the PKCE OAuth flow used to obtain provider
// credentials (Claude Pro/Max subscriptions authenticate via OAuth Bearer
// token rather than a plain API key) and the on-disk credential store the
// provider layer reads from.
package auth

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// OAuthProviderConfig describes one OAuth provider's endpoints and client
// identity. Not every field applies to every provider: Originator and the
// Codex-specific authorize params are only emitted when Originator is set.
type OAuthProviderConfig struct {
	Issuer           string
	AuthorizeBaseURL string // overrides Issuer for the /oauth/authorize step when set
	TokenEndpoint    string // path appended to Issuer; defaults to "/oauth/token"
	ClientID         string
	Scopes           string
	Originator       string
	Port             int
	Provider         string // "anthropic" | "openai"
}

func (c OAuthProviderConfig) tokenEndpointURL() string {
	ep := c.TokenEndpoint
	if ep == "" {
		ep = "/oauth/token"
	}
	return c.Issuer + ep
}

// OpenAIOAuthConfig returns the OAuth settings for ChatGPT/Codex-backed
// OpenAI authentication.
func OpenAIOAuthConfig() OAuthProviderConfig {
	return OAuthProviderConfig{
		Issuer:     "https://auth.openai.com",
		ClientID:   "app_EMoamEEZ73f0CkXaXp7hrann",
		Scopes:     "openid profile email offline_access",
		Originator: "codex_cli_rs",
		Port:       1455,
		Provider:   "openai",
	}
}

// AnthropicOAuthConfig returns the OAuth settings for Claude Pro/Max
// subscription authentication.
func AnthropicOAuthConfig() OAuthProviderConfig {
	return OAuthProviderConfig{
		Issuer:           "https://console.anthropic.com",
		AuthorizeBaseURL: "https://claude.ai",
		TokenEndpoint:    "/v1/oauth/token",
		ClientID:         "9d1c250a-e61b-44d9-88ed-5944d1962f5e",
		Scopes:           "org:create_api_key user:profile user:inference",
		Port:             8080,
		Provider:         "anthropic",
	}
}

// PKCECodes holds one PKCE code-verifier/challenge pair (RFC 7636).
type PKCECodes struct {
	CodeVerifier  string
	CodeChallenge string
}

// GeneratePKCE creates a fresh verifier/challenge pair using S256.
func GeneratePKCE() (PKCECodes, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return PKCECodes{}, fmt.Errorf("generating pkce verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])
	return PKCECodes{CodeVerifier: verifier, CodeChallenge: challenge}, nil
}

// BuildAuthorizeURL composes the /oauth/authorize URL for the given config,
// PKCE pair, CSRF state, and local redirect URI.
func BuildAuthorizeURL(cfg OAuthProviderConfig, pkce PKCECodes, state, redirectURI string) string {
	base := cfg.AuthorizeBaseURL
	if base == "" {
		base = cfg.Issuer
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", cfg.Scopes)
	q.Set("code_challenge", pkce.CodeChallenge)
	q.Set("code_challenge_method", "S256")
	q.Set("state", state)

	if cfg.Originator != "" {
		q.Set("id_token_add_organizations", "true")
		q.Set("codex_cli_simplified_flow", "true")
		q.Set("originator", cfg.Originator)
	}

	return base + "/oauth/authorize?" + q.Encode()
}

// AuthCredential is a stored set of credentials for one provider.
type AuthCredential struct {
	Provider     string    `json:"provider"`
	AuthMethod   string    `json:"authMethod"` // "oauth" | "apiKey"
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	AccountID    string    `json:"accountId,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
}

// NeedsRefresh reports whether the access token is expired or about to
// expire within two minutes.
func (c *AuthCredential) NeedsRefresh() bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(2 * time.Minute).After(c.ExpiresAt)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	IDToken      string `json:"id_token"`
}

func parseTokenResponse(body []byte, provider string) (*AuthCredential, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	cred := &AuthCredential{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		Provider:     provider,
		AuthMethod:   "oauth",
	}
	if tr.ExpiresIn > 0 {
		cred.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	if tr.IDToken != "" {
		if accountID, err := accountIDFromJWT(tr.IDToken); err == nil && accountID != "" {
			cred.AccountID = accountID
		}
	}
	return cred, nil
}

// accountIDFromJWT extracts the ChatGPT account id claim from an unverified
// JWT payload. Signature verification is not this function's job: the token
// was just issued to us over TLS by the provider we requested it from.
func accountIDFromJWT(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return "", fmt.Errorf("not a JWT")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decoding JWT payload: %w", err)
	}
	var claims struct {
		Auth struct {
			ChatGPTAccountID string `json:"chatgpt_account_id"`
		} `json:"https://api.openai.com/auth"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("decoding JWT claims: %w", err)
	}
	return claims.Auth.ChatGPTAccountID, nil
}

// exchangeCodeForTokens completes the authorization-code exchange. Anthropic
// expects a JSON body; every other provider uses form encoding.
func exchangeCodeForTokens(cfg OAuthProviderConfig, code, verifier, redirectURI string) (*AuthCredential, error) {
	endpoint := cfg.tokenEndpointURL()

	var req *http.Request
	var err error
	if cfg.Provider == "anthropic" {
		body, _ := json.Marshal(map[string]string{
			"grant_type":    "authorization_code",
			"code":          code,
			"redirect_uri":  redirectURI,
			"client_id":     cfg.ClientID,
			"code_verifier": verifier,
		})
		req, err = http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		form := url.Values{}
		form.Set("grant_type", "authorization_code")
		form.Set("code", code)
		form.Set("redirect_uri", redirectURI)
		form.Set("client_id", cfg.ClientID)
		form.Set("code_verifier", verifier)
		req, err = http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}

	return doTokenRequest(req, cfg.Provider)
}

// ExchangeCode completes the PKCE authorization-code exchange: it is the
// exported entry point onto exchangeCodeForTokens for callers outside this
// package.
func ExchangeCode(cfg OAuthProviderConfig, code, verifier, redirectURI string) (*AuthCredential, error) {
	return exchangeCodeForTokens(cfg, code, verifier, redirectURI)
}

// RefreshAccessToken exchanges a refresh token for a new access token.
func RefreshAccessToken(cred *AuthCredential, cfg OAuthProviderConfig) (*AuthCredential, error) {
	if cred.RefreshToken == "" {
		return nil, fmt.Errorf("auth: no refresh token available for provider %q", cred.Provider)
	}

	endpoint := cfg.tokenEndpointURL()
	var req *http.Request
	var err error
	if cfg.Provider == "anthropic" {
		body, _ := json.Marshal(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": cred.RefreshToken,
			"client_id":     cfg.ClientID,
		})
		req, err = http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		form := url.Values{}
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", cred.RefreshToken)
		form.Set("client_id", cfg.ClientID)
		req, err = http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("building refresh request: %w", err)
	}

	refreshed, err := doTokenRequest(req, cred.Provider)
	if err != nil {
		return nil, err
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	if refreshed.AccountID == "" {
		refreshed.AccountID = cred.AccountID
	}
	return refreshed, nil
}

func doTokenRequest(req *http.Request, provider string) (*AuthCredential, error) {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	return parseTokenResponse(respBody, provider)
}

// DeviceCodeResponse is the response to a device-authorization request.
// Interval is tolerant of providers that send it as a JSON number or as a
// JSON string.
type DeviceCodeResponse struct {
	DeviceAuthID string
	UserCode     string
	Interval     int
}

func parseDeviceCodeResponse(body []byte) (*DeviceCodeResponse, error) {
	var raw struct {
		DeviceAuthID string          `json:"device_auth_id"`
		UserCode     string          `json:"user_code"`
		Interval     json.RawMessage `json:"interval"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing device code response: %w", err)
	}

	resp := &DeviceCodeResponse{DeviceAuthID: raw.DeviceAuthID, UserCode: raw.UserCode}
	if len(raw.Interval) == 0 {
		return resp, nil
	}

	var asInt int
	if err := json.Unmarshal(raw.Interval, &asInt); err == nil {
		resp.Interval = asInt
		return resp, nil
	}

	var asStr string
	if err := json.Unmarshal(raw.Interval, &asStr); err != nil {
		return nil, fmt.Errorf("interval is neither a number nor a string")
	}
	n, err := strconv.Atoi(asStr)
	if err != nil {
		return nil, fmt.Errorf("invalid interval string %q: %w", asStr, err)
	}
	resp.Interval = n
	return resp, nil
}

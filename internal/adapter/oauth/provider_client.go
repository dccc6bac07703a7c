package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ProviderTokens is the token response from the upstream identity provider.
type ProviderTokens struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	IDToken      string `json:"id_token"`
}

// ProviderIdentity is the verified identity returned by the upstream
// provider's userinfo endpoint.
type ProviderIdentity struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// ProviderClient talks to an upstream OAuth identity provider.
type ProviderClient interface {
	AuthorizationURL(state, redirectURI, codeChallenge string) string
	ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*ProviderTokens, error)
	FetchIdentity(ctx context.Context, accessToken string) (*ProviderIdentity, error)
}

// ProviderConfig carries the endpoints and credentials of one upstream
// provider.
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
	UserinfoURL  string
	Scopes       []string
}

// HTTPProviderClient is the default ProviderClient over net/http.
type HTTPProviderClient struct {
	cfg    ProviderConfig
	client *http.Client
}

// NewHTTPProviderClient constructs an HTTP provider client.
func NewHTTPProviderClient(cfg ProviderConfig) *HTTPProviderClient {
	return &HTTPProviderClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// AuthorizationURL builds the upstream authorize redirect with PKCE.
func (c *HTTPProviderClient) AuthorizationURL(state, redirectURI, codeChallenge string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	q.Set("scope", strings.Join(c.cfg.Scopes, " "))
	if codeChallenge != "" {
		q.Set("code_challenge", codeChallenge)
		q.Set("code_challenge_method", "S256")
	}
	return c.cfg.AuthorizeURL + "?" + q.Encode()
}

// ExchangeCode swaps the upstream authorization code for provider tokens.
func (c *HTTPProviderClient) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*ProviderTokens, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	if codeVerifier != "" {
		form.Set("code_verifier", codeVerifier)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange code: provider returned %d", resp.StatusCode)
	}

	var tokens ProviderTokens
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	return &tokens, nil
}

// FetchIdentity retrieves the verified user identity from the provider.
func (c *HTTPProviderClient) FetchIdentity(ctx context.Context, accessToken string) (*ProviderIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.UserinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch identity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch identity: provider returned %d", resp.StatusCode)
	}

	var identity ProviderIdentity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, fmt.Errorf("decode userinfo response: %w", err)
	}
	return &identity, nil
}

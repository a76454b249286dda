package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Grant is an OAuth2 grant type.
type Grant string

const (
	GrantClientCredentials Grant = "client_credentials"
	GrantPassword          Grant = "password"
)

const defaultTokenTimeout = 30 * time.Second

// OAuth2Provider fetches access tokens from a token endpoint and caches them
// until RefreshBeforeExpiry ahead of expiry. Concurrent callers that find the
// cache empty share a single token request.
type OAuth2Provider struct {
	grant        Grant
	tokenURL     string
	clientID     string
	clientSecret string
	username     string
	password     string
	scopes       []string
	refresh      time.Duration
	httpClient   *http.Client

	group  singleflight.Group
	mu     sync.Mutex
	token  string
	expiry time.Time
}

type oauth2TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error,omitempty"`
	ErrorDesc   string `json:"error_description,omitempty"`
}

// NewOAuth2Provider creates a provider for grant using the oauth2 fields of cfg.
func NewOAuth2Provider(grant Grant, cfg Config) (*OAuth2Provider, error) {
	if cfg.TokenURL == "" {
		return nil, errors.New("oauth2 auth requires token_url")
	}
	if _, err := url.ParseRequestURI(cfg.TokenURL); err != nil {
		return nil, fmt.Errorf("oauth2 token_url: %w", err)
	}
	if cfg.ClientID == "" {
		return nil, errors.New("oauth2 auth requires client_id")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTokenTimeout}
	}
	return &OAuth2Provider{
		grant:        grant,
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		username:     cfg.Username,
		password:     cfg.Password,
		scopes:       cfg.Scopes,
		refresh:      cfg.RefreshBeforeExpiry,
		httpClient:   client,
	}, nil
}

// Token returns the cached token or fetches a new one.
func (p *OAuth2Provider) Token(ctx context.Context) (string, error) {
	if token, ok := p.cached(); ok {
		return token, nil
	}

	ch := p.group.DoChan("token", func() (any, error) {
		if token, ok := p.cached(); ok {
			return token, nil
		}
		// The fetch outlives any single caller's cancellation.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTokenTimeout)
		defer cancel()
		token, expiresIn, err := p.fetchToken(fetchCtx)
		if err != nil {
			return "", err
		}
		p.mu.Lock()
		p.token = token
		p.expiry = time.Now().Add(time.Duration(expiresIn)*time.Second - p.refresh)
		p.mu.Unlock()
		return token, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *OAuth2Provider) cached() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && time.Now().Before(p.expiry) {
		return p.token, true
	}
	return "", false
}

func (p *OAuth2Provider) fetchToken(ctx context.Context) (string, int, error) {
	data := url.Values{}
	data.Set("grant_type", string(p.grant))
	if p.grant == GrantPassword {
		data.Set("username", p.username)
		data.Set("password", p.password)
	}
	if len(p.scopes) > 0 {
		data.Set("scope", strings.Join(p.scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.clientID, p.clientSecret)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var tokenResp oauth2TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", 0, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.Error != "" {
		return "", 0, fmt.Errorf("oauth2 error: %s - %s", tokenResp.Error, tokenResp.ErrorDesc)
	}
	if tokenResp.AccessToken == "" {
		return "", 0, errors.New("no access token in response")
	}
	return tokenResp.AccessToken, tokenResp.ExpiresIn, nil
}

// InjectHeader sets "Authorization: Bearer <token>".
func (p *OAuth2Provider) InjectHeader(ctx context.Context, req *http.Request) error {
	token, err := p.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Close releases idle token endpoint connections.
func (p *OAuth2Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// Package auth supplies Authorization headers for the http_client fixture.
// Providers are shared by every executor of a run and are safe for concurrent use.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Provider obtains a token and injects it into outgoing requests. It satisfies
// httpclient.HeaderInjector.
type Provider interface {
	// Token returns a valid token, from cache when possible.
	Token(ctx context.Context) (string, error)

	// InjectHeader sets the credential header on req.
	InjectHeader(ctx context.Context, req *http.Request) error

	// Close releases any resources held by the provider.
	Close() error
}

// Supported Config.Type values.
const (
	TypeBearer                  = "bearer"
	TypeHeader                  = "header"
	TypeOAuth2ClientCredentials = "oauth2_client_credentials"
	TypeOAuth2Password          = "oauth2_password"
)

// Config selects and configures a provider.
type Config struct {
	Type string

	// bearer and header
	Token  string
	Header string // header name for TypeHeader, e.g. X-Api-Key

	// oauth2
	TokenURL            string
	ClientID            string
	ClientSecret        string
	Username            string
	Password            string
	Scopes              []string
	RefreshBeforeExpiry time.Duration
	HTTPClient          *http.Client
}

// New builds the provider described by cfg.
func New(cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case TypeBearer:
		if cfg.Token == "" {
			return nil, errors.New("bearer auth requires a token")
		}
		return NewStaticTokenProvider(cfg.Token), nil
	case TypeHeader:
		if cfg.Header == "" || cfg.Token == "" {
			return nil, errors.New("header auth requires a header name and a token")
		}
		return NewHeaderProvider(cfg.Header, cfg.Token), nil
	case TypeOAuth2ClientCredentials:
		return NewOAuth2Provider(GrantClientCredentials, cfg)
	case TypeOAuth2Password:
		if cfg.Username == "" {
			return nil, errors.New("oauth2 password grant requires a username")
		}
		return NewOAuth2Provider(GrantPassword, cfg)
	case "":
		return nil, errors.New("auth type is required")
	default:
		return nil, fmt.Errorf("unsupported auth type %q", cfg.Type)
	}
}

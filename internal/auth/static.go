package auth

import (
	"context"
	"net/http"
)

// StaticTokenProvider sends a pre-issued token, for example an OIDC token
// obtained outside crankbench, as "Authorization: Bearer <token>".
type StaticTokenProvider struct {
	HeaderProvider
}

// NewStaticTokenProvider creates a bearer provider for token.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{HeaderProvider{header: "Authorization", value: "Bearer " + token, token: token}}
}

// HeaderProvider sets one fixed header, typically an API key.
type HeaderProvider struct {
	header string
	value  string
	token  string
}

// NewHeaderProvider creates a provider that sets header to token verbatim.
func NewHeaderProvider(header, token string) *HeaderProvider {
	return &HeaderProvider{header: http.CanonicalHeaderKey(header), value: token, token: token}
}

// Token returns the configured token without any network calls.
func (p *HeaderProvider) Token(context.Context) (string, error) {
	return p.token, nil
}

// InjectHeader sets the header on req.
func (p *HeaderProvider) InjectHeader(_ context.Context, req *http.Request) error {
	req.Header.Set(p.header, p.value)
	return nil
}

// Close is a no-op.
func (p *HeaderProvider) Close() error {
	return nil
}

package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultMaxBody caps how much of a response body Send keeps.
const DefaultMaxBody = 1 << 20

// HeaderInjector decorates outgoing requests, e.g. with trace context.
type HeaderInjector interface {
	InjectHeader(ctx context.Context, req *http.Request) error
}

// InjectorFunc adapts a function to HeaderInjector.
type InjectorFunc func(ctx context.Context, req *http.Request) error

// InjectHeader implements HeaderInjector.
func (f InjectorFunc) InjectHeader(ctx context.Context, req *http.Request) error {
	return f(ctx, req)
}

// RequestSpec describes a request that is rebuilt for every call.
type RequestSpec struct {
	Method   string
	URL      string
	Headers  map[string]string
	Body     string
	BodyFile string
}

type RequestBuilder struct {
	method    string
	target    string
	headers   http.Header
	body      BodySource
	injectors []HeaderInjector
}

// NewRequestBuilder validates spec once so that Build only allocates.
func NewRequestBuilder(spec RequestSpec, injectors ...HeaderInjector) (*RequestBuilder, error) {
	target := strings.TrimSpace(spec.URL)
	if target == "" {
		return nil, errors.New("target URL is required")
	}
	if _, err := url.Parse(target); err != nil {
		return nil, fmt.Errorf("invalid target URL: %w", err)
	}

	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" {
		method = http.MethodGet
	}

	body, err := NewBodySource(spec.Body, spec.BodyFile)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	for key, value := range spec.Headers {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		headers.Set(canonicalKey, value)
	}

	var active []HeaderInjector
	for _, inj := range injectors {
		if inj != nil {
			active = append(active, inj)
		}
	}

	return &RequestBuilder{
		method:    method,
		target:    target,
		headers:   headers,
		body:      body,
		injectors: active,
	}, nil
}

// Method returns the normalized request method.
func (b *RequestBuilder) Method() string { return b.method }

// Target returns the request URL.
func (b *RequestBuilder) Target() string { return b.target }

func (b *RequestBuilder) Build(ctx context.Context) (*http.Request, error) {
	if b == nil {
		return nil, errors.New("builder cannot be nil")
	}

	reader, err := b.body.NewReader()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, b.method, b.target, reader)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}

	req.Header = b.headers.Clone()
	if length, ok := b.body.ContentLength(); ok {
		req.ContentLength = length
	}
	req.GetBody = b.body.NewReader

	for _, inj := range b.injectors {
		if err := inj.InjectHeader(ctx, req); err != nil {
			return nil, fmt.Errorf("inject header: %w", err)
		}
	}
	return req, nil
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Truncated  bool
}

// Send executes req and reads at most maxBody bytes of the body. The rest is
// drained so the connection can be reused.
func Send(client *http.Client, req *http.Request, maxBody int64) (*Response, error) {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
	if int64(len(body)) > maxBody {
		out.Body = body[:maxBody]
		out.Truncated = true
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return out, nil
}

// JoinURL resolves path against base. An absolute path URL is returned as is.
func JoinURL(base, path string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return path, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	if path == "" {
		return baseURL.String(), nil
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if !strings.HasSuffix(baseURL.Path, "/") {
		baseURL.Path += "/"
	}
	ref.Path = strings.TrimPrefix(ref.Path, "/")
	return baseURL.ResolveReference(ref).String(), nil
}

func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

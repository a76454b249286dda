package har

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/torosent/crankbench/internal/script"
)

// Options filters entries and shapes the generated script.
type Options struct {
	// IncludeHosts keeps only these hosts (empty = all hosts).
	IncludeHosts []string
	// ExcludeHosts drops these hosts.
	ExcludeHosts []string
	// Methods keeps only these methods (empty = all methods).
	Methods []string
	// KeepStatic keeps requests for scripts, stylesheets, images and fonts.
	KeepStatic bool
	// DropHeaders omits recorded request headers.
	DropHeaders bool
	// ExpectStatus turns each recorded response status into expect_status.
	ExpectStatus bool
}

var staticExtensions = []string{
	".js", ".css", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp",
	".woff", ".woff2", ".ttf", ".eot", ".ico", ".map",
}

// Headers the transport sets itself, or that only make sense for one hop.
var skippedHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"host":                true,
	"content-length":      true,
	"accept-encoding":     true,
}

// Convert builds a script document from entries. It fails when the filters
// leave nothing to benchmark.
func Convert(entries []Entry, opts Options) (*script.Document, error) {
	doc := &script.Document{}
	hosts := map[string]string{}
	names := map[string]int{}

	for _, e := range entries {
		u, err := url.Parse(e.URL)
		if err != nil || u.Host == "" {
			continue
		}
		if !opts.include(e, u) {
			continue
		}

		origin := u.Scheme + "://" + u.Host
		client, ok := hosts[origin]
		if !ok {
			client = uniqueName(names, "api_"+slug(u.Host))
			hosts[origin] = client
			doc.Fixtures = append(doc.Fixtures, script.FixtureSpec{
				Name:   client,
				Type:   "http_client",
				Params: map[string]any{"base_url": origin},
			})
		}

		method := strings.ToUpper(e.Method)
		if method == "" {
			method = http.MethodGet
		}
		params := map[string]any{"method": method, "path": u.RequestURI()}
		if !opts.DropHeaders {
			if h := requestHeaders(e.Headers); len(h) > 0 {
				params["headers"] = h
			}
		}
		if e.Body != "" {
			params["body"] = e.Body
		}
		if opts.ExpectStatus && e.Status > 0 {
			params["expect_status"] = e.Status
		}

		doc.Benchmarks = append(doc.Benchmarks, script.BenchmarkSpec{
			Name:      benchmarkName(names, method, u.Path),
			Action:    "http_request",
			DependsOn: []string{client},
			Params:    params,
		})
	}
	if len(doc.Benchmarks) == 0 {
		return nil, errors.New("no HAR entries left after filtering")
	}
	return doc, nil
}

// Write encodes doc as a YAML script.
func Write(w io.Writer, doc *script.Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode script: %w", err)
	}
	return enc.Close()
}

func (o Options) include(e Entry, u *url.URL) bool {
	if len(o.IncludeHosts) > 0 && !slices.Contains(o.IncludeHosts, u.Host) {
		return false
	}
	if slices.Contains(o.ExcludeHosts, u.Host) {
		return false
	}
	if len(o.Methods) > 0 && !slices.ContainsFunc(o.Methods, func(m string) bool { return strings.EqualFold(m, e.Method) }) {
		return false
	}
	if !o.KeepStatic && slices.Contains(staticExtensions, strings.ToLower(path.Ext(u.Path))) {
		return false
	}
	return true
}

// requestHeaders keeps the last value of each header. HTTP/2 pseudo-headers
// and cookies the browser attached are dropped along with hop-by-hop headers.
func requestHeaders(headers []Header) map[string]string {
	out := map[string]string{}
	for _, h := range headers {
		lower := strings.ToLower(h.Name)
		if h.Name == "" || strings.HasPrefix(h.Name, ":") || skippedHeaders[lower] || lower == "cookie" {
			continue
		}
		out[http.CanonicalHeaderKey(h.Name)] = h.Value
	}
	return out
}

func benchmarkName(seen map[string]int, method, urlPath string) string {
	base := script.BenchmarkPrefix + strings.ToLower(method)
	if s := slug(urlPath); s != "" {
		base += "_" + s
	} else {
		base += "_root"
	}
	if strings.HasSuffix(base, "_setup") || strings.HasSuffix(base, "_teardown") {
		base += "_call"
	}
	return uniqueName(seen, base)
}

func uniqueName(seen map[string]int, base string) string {
	seen[base]++
	if n := seen[base]; n > 1 {
		return fmt.Sprintf("%s_%d", base, n)
	}
	return base
}

// slug lowercases s and collapses every run of non-alphanumerics to "_".
func slug(s string) string {
	var sb strings.Builder
	pending := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && sb.Len() > 0 {
				sb.WriteByte('_')
			}
			pending = false
			sb.WriteRune(r)
			continue
		}
		pending = true
	}
	return sb.String()
}

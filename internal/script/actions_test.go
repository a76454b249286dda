package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/torosent/crankbench/internal/feeder"
	"github.com/torosent/crankbench/internal/fixture"
	"github.com/torosent/crankbench/internal/runner"
)

func apiServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[{"id":7,"name":"ada"}],"total":1}`)
	})
	mux.HandleFunc("/echo-header", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, "token=%s trace=%s", r.Header.Get("X-Token"), r.Header.Get("Traceparent"))
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"method":%q,"body":%q}`, r.Method, body)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPRequestAction(t *testing.T) {
	srv := apiServer(t)
	s, err := parse(t, fmt.Sprintf(`
fixtures:
  - name: api
    type: http_client
    params: {base_url: %q, timeout: 2s, headers: {X-Token: fixture}}
benchmarks:
  - name: benchmark_status
    depends_on: [api]
    action: http_request
    params: {path: /users}
  - name: benchmark_extract
    depends_on: [api]
    action: http_request
    params: {path: /users, extract: "data.0.id"}
  - name: benchmark_extract_many
    depends_on: [api]
    action: http_request
    params: {path: /users, extract: {id: "data.0.id", name: "data.0.name"}}
  - name: benchmark_regex
    depends_on: [api]
    action: http_request
    params: {path: /echo-header, extract_regex: "token=(\\w+)", headers: {X-Token: action}}
  - name: benchmark_post
    depends_on: [api]
    action: http_request
    params: {method: post, path: /orders, body: '{"sku":"A1"}', expect_status: 201, extract: method}
  - name: benchmark_broken
    depends_on: [api]
    action: http_request
    params: {path: /broken}
  - name: benchmark_expect
    depends_on: [api]
    action: http_request
    params: {path: /users, expect_status: [201, 202]}
`, srv.URL))
	require.NoError(t, err)

	got, err := invokeOnce(t, s, "benchmark_status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, got)

	got, err = invokeOnce(t, s, "benchmark_extract")
	require.NoError(t, err)
	assert.Equal(t, float64(7), got)

	got, err = invokeOnce(t, s, "benchmark_extract_many")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": float64(7), "name": "ada"}, got)

	got, err = invokeOnce(t, s, "benchmark_regex")
	require.NoError(t, err)
	assert.Equal(t, "action", got, "action headers override fixture headers")

	got, err = invokeOnce(t, s, "benchmark_post")
	require.NoError(t, err)
	assert.Equal(t, "POST", got)

	_, err = invokeOnce(t, s, "benchmark_broken")
	var httpErr *runner.HTTPError
	require.True(t, errors.As(err, &httpErr), "got %v", err)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.Equal(t, "database unavailable", httpErr.Body)

	_, err = invokeOnce(t, s, "benchmark_expect")
	var expErr *ExpectationError
	require.True(t, errors.As(err, &expErr), "got %v", err)
	assert.Equal(t, "status 200", expErr.Got)
}

func TestHTTPClientAddressFromDependency(t *testing.T) {
	srv := apiServer(t)
	t.Setenv("CRANKBENCH_TEST_API", srv.URL)
	s, err := parse(t, `
fixtures:
  - {name: base, type: env, params: {name: CRANKBENCH_TEST_API, required: true}}
  - {name: api, type: http_client, depends_on: [base]}
benchmarks:
  - {name: benchmark_users, action: http_request, depends_on: [api], params: {path: users}}
`)
	require.NoError(t, err)
	got, err := invokeOnce(t, s, "benchmark_users")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, got)
}

func TestHTTPRequestTracing(t *testing.T) {
	srv := apiServer(t)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	s, err := parse(t, fmt.Sprintf(`
fixtures: [{name: api, type: http_client, params: {base_url: %q}}]
benchmarks:
  - {name: benchmark_traced, action: http_request, depends_on: [api], params: {path: /echo-header, extract_regex: "trace=(\\S+)"}}
`, srv.URL), WithTracer(tp.Tracer("test")), WithPropagation(true))
	require.NoError(t, err)

	got, err := invokeOnce(t, s, "benchmark_traced")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.(string), "00-"), "traceparent header missing: %v", got)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Contains(t, spans[0].Name, "GET "+srv.URL+"/echo-header")
}

func TestWebSocketEchoAction(t *testing.T) {
	upgrader := gws.Upgrader{}
	var served atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			served.Add(1)
			if string(data) == "shout" {
				data = []byte("SHOUT")
			}
			_ = conn.WriteMessage(mt, data)
		}
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	s, err := parse(t, fmt.Sprintf(`
fixtures: [{name: ws, type: websocket, params: {url: %q, read_timeout: 1s}}]
benchmarks:
  - {name: benchmark_echo, action: websocket_echo, depends_on: [ws], params: {message: hello}}
  - {name: benchmark_mismatch, action: websocket_echo, depends_on: [ws], params: {message: shout}}
  - {name: benchmark_expect, action: websocket_echo, depends_on: [ws], params: {message: shout, expect: SHOUT, binary: true}}
`, url))
	require.NoError(t, err)

	got, err := invokeOnce(t, s, "benchmark_echo")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	_, err = invokeOnce(t, s, "benchmark_mismatch")
	var expErr *ExpectationError
	require.True(t, errors.As(err, &expErr), "got %v", err)

	got, err = invokeOnce(t, s, "benchmark_expect")
	require.NoError(t, err)
	assert.Equal(t, "SHOUT", got)
	assert.EqualValues(t, 3, served.Load())
}

func TestGRPCHealthAction(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	hs := health.NewServer()
	hs.SetServingStatus("payments", healthpb.HealthCheckResponse_NOT_SERVING)
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	s, err := parse(t, fmt.Sprintf(`
fixtures: [{name: conn, type: grpc_conn, params: {target: %q}}]
benchmarks:
  - {name: benchmark_health, action: grpc_health, depends_on: [conn]}
  - {name: benchmark_payments, action: grpc_health, depends_on: [conn], params: {service: payments}}
  - {name: benchmark_payments_lenient, action: grpc_health, depends_on: [conn], params: {service: payments, allow_not_serving: true}}
`, lis.Addr().String()))
	require.NoError(t, err)

	got, err := invokeOnce(t, s, "benchmark_health")
	require.NoError(t, err)
	assert.Equal(t, "SERVING", got)

	_, err = invokeOnce(t, s, "benchmark_payments")
	var expErr *ExpectationError
	require.True(t, errors.As(err, &expErr), "got %v", err)
	assert.Equal(t, "NOT_SERVING", expErr.Got)

	got, err = invokeOnce(t, s, "benchmark_payments_lenient")
	require.NoError(t, err)
	assert.Equal(t, "NOT_SERVING", got)
}

func TestRedisCommandAction(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("greeting", "hi"))

	s, err := parse(t, fmt.Sprintf(`
fixtures: [{name: cache, type: redis, params: {addr: %q}}]
benchmarks:
  - {name: benchmark_ping, action: redis_command, depends_on: [cache]}
  - {name: benchmark_get, action: redis_command, depends_on: [cache], params: {command: get, key: greeting}}
  - {name: benchmark_miss, action: redis_command, depends_on: [cache], params: {command: GET, key: nothing}}
  - {name: benchmark_set, action: redis_command, depends_on: [cache], params: {command: set, key: k, value: v, ttl: 1m}}
  - {name: benchmark_incr, action: redis_command, depends_on: [cache], params: {command: incr, key: counter}}
  - {name: benchmark_del, action: redis_command, depends_on: [cache], params: {command: del, key: k}}
`, mr.Addr()))
	require.NoError(t, err)

	tests := []struct {
		name string
		want any
	}{
		{"benchmark_ping", "PONG"},
		{"benchmark_get", "hi"},
		{"benchmark_miss", nil},
		{"benchmark_set", "OK"},
		{"benchmark_incr", int64(1)},
		{"benchmark_incr", int64(2)},
		{"benchmark_del", int64(1)},
	}
	for _, tt := range tests {
		got, err := invokeOnce(t, s, tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
	assert.False(t, mr.Exists("k"))
}

func TestRedisFixtureUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	s, err := parse(t, fmt.Sprintf(`
fixtures: [{name: cache, type: redis, params: {addr: %q, dial_timeout: 200ms}}]
benchmarks: [{name: benchmark_ping, action: redis_command, depends_on: [cache]}]
`, addr))
	require.NoError(t, err)

	_, err = invokeOnce(t, s, "benchmark_ping")
	var produceErr *fixture.ProduceError
	require.True(t, errors.As(err, &produceErr), "got %v", err)
	assert.Equal(t, "cache", produceErr.Fixture)
}

func TestPostgresFixtureUnreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	s, err := parse(t, fmt.Sprintf(`
fixtures: [{name: db, type: postgres, params: {dsn: "postgres://bench@%s/bench?sslmode=disable&connect_timeout=1"}}]
benchmarks: [{name: benchmark_select, action: sql_query, depends_on: [db], params: {query: "SELECT 1"}}]
`, addr))
	require.NoError(t, err)

	_, err = invokeOnce(t, s, "benchmark_select")
	var produceErr *fixture.ProduceError
	require.True(t, errors.As(err, &produceErr), "got %v", err)
	assert.Contains(t, err.Error(), "postgres ping")
}

func TestActionRejectsWrongArgumentAtRuntime(t *testing.T) {
	s, err := parse(t, `
fixtures: [{name: anything, type: value, params: {value: 3}}]
benchmarks: [{name: benchmark_x, action: http_request, depends_on: [anything]}]
`)
	require.NoError(t, err, "value fixtures are untyped at load time")

	_, err = invokeOnce(t, s, "benchmark_x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "argument 1 must be a http_client, got int")
}

func TestSleepHonorsCancellation(t *testing.T) {
	s, err := parse(t, "benchmarks: [{name: benchmark_long, action: sleep, params: {duration: 1h}}]")
	require.NoError(t, err)
	b, _ := s.Benchmark("benchmark_long")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Invoke(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPClientAuth(t *testing.T) {
	var tokenRequests atomic.Int32
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		if id, secret, _ := r.BasicAuth(); id != "bench" || secret != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"issued","token_type":"Bearer","expires_in":3600}`)
	}))
	t.Cleanup(idp.Close)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, "%s|%s", r.Header.Get("Authorization"), r.Header.Get("X-Api-Key"))
	}))
	t.Cleanup(api.Close)

	s, err := parse(t, fmt.Sprintf(`
fixtures:
  - name: bearer
    type: http_client
    params: {base_url: %[1]q, auth: {type: bearer, token: static-token}}
  - name: apikey
    type: http_client
    params: {base_url: %[1]q, auth: {type: header, header: x-api-key, token: k1}}
  - name: oauth
    type: http_client
    params:
      base_url: %[1]q
      auth: {type: oauth2_client_credentials, token_url: %[2]q, client_id: bench, client_secret: s3cret, scopes: [read]}
benchmarks:
  - name: benchmark_bearer
    depends_on: [bearer]
    action: http_request
    params: {extract_regex: "(.*)"}
  - name: benchmark_apikey
    depends_on: [apikey]
    action: http_request
    params: {extract_regex: "(.*)"}
  - name: benchmark_oauth
    depends_on: [oauth]
    action: http_request
    params: {extract_regex: "(.*)"}
`, api.URL, idp.URL))
	require.NoError(t, err)

	got, err := invokeOnce(t, s, "benchmark_bearer")
	require.NoError(t, err)
	assert.Equal(t, "Bearer static-token|", got)

	got, err = invokeOnce(t, s, "benchmark_apikey")
	require.NoError(t, err)
	assert.Equal(t, "|k1", got)

	for i := 0; i < 3; i++ {
		got, err = invokeOnce(t, s, "benchmark_oauth")
		require.NoError(t, err)
		assert.Equal(t, "Bearer issued|", got)
	}
	assert.EqualValues(t, 1, tokenRequests.Load(), "executors share one token")
}

func TestHTTPClientAuthConfigErrors(t *testing.T) {
	tests := []struct {
		name, auth, want string
	}{
		{"unknown type", `{type: kerberos}`, `unsupported auth type "kerberos"`},
		{"missing token", `{type: bearer}`, "requires a token"},
		{"unknown key", `{type: bearer, token: t, tokn: x}`, "fixture api auth: unknown params tokn"},
		{"not a mapping", `bearer`, "expected a mapping"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, `
fixtures:
  - name: api
    type: http_client
    params: {base_url: "http://localhost", auth: `+tt.auth+`}
`)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestHTTPRequestWithDataset(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = fmt.Fprintf(w, "%s %s %s", r.URL.Path, r.Header.Get("X-User"), body)
	}))
	t.Cleanup(api.Close)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.csv"), []byte("id,name\n1,ada\n2,grace\n"), 0o644))
	scriptPath := filepath.Join(dir, "bench.yaml")
	require.NoError(t, os.WriteFile(scriptPath, []byte(fmt.Sprintf(`
fixtures:
  - name: api
    type: http_client
    params: {base_url: %q}
  - name: users
    type: dataset
    params: {path: users.csv, cycle: false}
benchmarks:
  - name: benchmark_lookup
    depends_on: [api, users]
    action: http_request
    params:
      method: POST
      path: /users/{{id}}
      headers: {X-User: "{{name}}"}
      body: '{"name":"{{name}}"}'
      extract_regex: "(.*)"
`, api.URL)), 0o644))

	s, err := NewLoader().LoadFile(scriptPath)
	require.NoError(t, err)
	b, _ := s.Benchmark("benchmark_lookup")

	ctx := context.Background()
	resolver := fixture.NewResolver(s)
	cache := fixture.NewCache()
	defer resolver.Release(ctx, cache)
	args, err := resolver.ResolveAll(ctx, b.Dependencies, cache)
	require.NoError(t, err)

	got, err := b.Invoke(ctx, args)
	require.NoError(t, err)
	assert.Equal(t, `/users/1 ada {"name":"ada"}`, got)
	got, err = b.Invoke(ctx, args)
	require.NoError(t, err)
	assert.Equal(t, `/users/2 grace {"name":"grace"}`, got)

	_, err = b.Invoke(ctx, args)
	assert.ErrorIs(t, err, feeder.ErrExhausted)
}

func TestDatasetFixtureErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rows.csv"), []byte("id\n1\n"), 0o644))
	tests := []struct {
		name, params, want string
	}{
		{"missing path", `{}`, `param "path": is required`},
		{"missing file", `{path: ` + filepath.Join(dir, "nope.csv") + `}`, "no such file"},
		{"bad order", `{path: ` + filepath.Join(dir, "rows.csv") + `, order: shuffled}`, `must be sequential or random`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, `
fixtures:
  - name: rows
    type: dataset
    params: `+tt.params+`
`)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDatasetCursorsPerExecutor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"n":"a"},{"n":"b"},{"n":"c"}]`), 0o644))
	s, err := parse(t, fmt.Sprintf(`
fixtures:
  - name: rows
    type: dataset
    params: {path: %q}
`, path))
	require.NoError(t, err)

	ctx := context.Background()
	resolver := fixture.NewResolver(s)
	first := func() string {
		cache := fixture.NewCache()
		v, err := resolver.Resolve(ctx, "rows", cache)
		require.NoError(t, err)
		rec, err := v.(*feeder.Cursor).Next()
		require.NoError(t, err)
		return rec["n"]
	}
	assert.Equal(t, []string{"a", "b", "c", "a"}, []string{first(), first(), first(), first()})
}

func TestSSEEventAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 1; i <= 3; i++ {
			_, _ = fmt.Fprintf(w, "event: heartbeat\ndata: %d\n\n", i)
			_, _ = fmt.Fprintf(w, "event: tick\ndata: {\"seq\":%d}\n\n", i)
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	s, err := parse(t, fmt.Sprintf(`
fixtures:
  - name: feed
    type: sse
    params: {url: %q, connect_timeout: 2s}
benchmarks:
  - name: benchmark_tick
    depends_on: [feed]
    action: sse_event
    params: {event: tick, extract: seq}
`, srv.URL+"/stream"))
	require.NoError(t, err)
	b, _ := s.Benchmark("benchmark_tick")

	ctx := context.Background()
	resolver := fixture.NewResolver(s)
	cache := fixture.NewCache()
	args, err := resolver.ResolveAll(ctx, b.Dependencies, cache)
	require.NoError(t, err)
	for want := 1; want <= 3; want++ {
		got, err := b.Invoke(ctx, args)
		require.NoError(t, err)
		assert.Equal(t, float64(want), got)
	}
	assert.Empty(t, resolver.Release(ctx, cache))
}

func TestSSEFixtureRejectsStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	s, err := parse(t, fmt.Sprintf(`
fixtures:
  - name: feed
    type: sse
    params: {url: %q}
benchmarks:
  - name: benchmark_tick
    depends_on: [feed]
    action: sse_event
`, srv.URL))
	require.NoError(t, err)
	_, err = invokeOnce(t, s, "benchmark_tick")
	var produceErr *fixture.ProduceError
	require.True(t, errors.As(err, &produceErr), "got %v", err)
	assert.Contains(t, err.Error(), "unexpected status code: 404")
}

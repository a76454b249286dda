package script

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/torosent/crankbench/internal/extractor"
	"github.com/torosent/crankbench/internal/feeder"
	"github.com/torosent/crankbench/internal/grpcclient"
	"github.com/torosent/crankbench/internal/httpclient"
	"github.com/torosent/crankbench/internal/runner"
	"github.com/torosent/crankbench/internal/sse"
	"github.com/torosent/crankbench/internal/suite"
	"github.com/torosent/crankbench/internal/tracing"
	"github.com/torosent/crankbench/internal/websocket"
)

const maxErrorBody = 256

type actionType struct {
	inputs []input
	build  func(p *params, env buildEnv) (suite.InvokeFunc, error)
}

var actionTypes = map[string]actionType{
	"noop":           {build: noopAction},
	"sleep":          {build: sleepAction},
	"cpu":            {build: cpuAction},
	"http_request":   {inputs: []input{{typ: typeHTTP}, {typ: typeDataset, optional: true}}, build: httpAction},
	"websocket_echo": {inputs: []input{{typ: typeWebSocket}}, build: websocketAction},
	"sse_event":      {inputs: []input{{typ: typeSSE}}, build: sseAction},
	"grpc_health":    {inputs: []input{{typ: typeGRPC}}, build: grpcHealthAction},
	"redis_command":  {inputs: []input{{typ: typeRedis}}, build: redisAction},
	"sql_query":      {inputs: []input{{typ: typePostgres}}, build: sqlAction},
}

func actionTypeNames() []string {
	names := make([]string, 0, len(actionTypes))
	for name := range actionTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func noopAction(*params, buildEnv) (suite.InvokeFunc, error) {
	return func(context.Context, []any) (any, error) { return nil, nil }, nil
}

func sleepAction(p *params, _ buildEnv) (suite.InvokeFunc, error) {
	d, err := p.Duration("duration", 10*time.Millisecond)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, _ []any) (any, error) {
		return nil, pause(ctx, d)
	}, nil
}

func cpuAction(p *params, _ buildEnv) (suite.InvokeFunc, error) {
	n, err := p.Int("n", 1000)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, p.errorf("n", "must be >= 0")
	}
	after, err := p.Duration("pause", 0)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, _ []any) (any, error) {
		sum := 0
		for i := 0; i < n; i++ {
			sum += i * i
		}
		return sum, pause(ctx, after)
	}, nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func httpAction(p *params, env buildEnv) (suite.InvokeFunc, error) {
	method, err := p.String("method", http.MethodGet)
	if err != nil {
		return nil, err
	}
	path, err := p.String("path", "")
	if err != nil {
		return nil, err
	}
	headers, err := p.StringMap("headers")
	if err != nil {
		return nil, err
	}
	body, err := p.String("body", "")
	if err != nil {
		return nil, err
	}
	bodyFile, err := p.String("body_file", "")
	if err != nil {
		return nil, err
	}
	expect, err := p.IntList("expect_status")
	if err != nil {
		return nil, err
	}
	maxBody, err := p.Int("max_body", httpclient.DefaultMaxBody)
	if err != nil {
		return nil, err
	}
	extractors, single, err := httpExtractors(p)
	if err != nil {
		return nil, err
	}

	spec := httpclient.RequestSpec{Method: method, URL: "http://localhost", Headers: headers, Body: body, BodyFile: bodyFile}
	if _, err := httpclient.NewRequestBuilder(spec); err != nil {
		return nil, fmt.Errorf("%s: %w", p.owner, err)
	}

	var injectors []httpclient.HeaderInjector
	if env.propagate {
		injectors = append(injectors, httpclient.InjectorFunc(func(ctx context.Context, req *http.Request) error {
			tracing.InjectHTTPHeaders(ctx, req.Header)
			return nil
		}))
	}

	newBuilder := func(target *httpTarget, rec feeder.Record) (*httpclient.RequestBuilder, error) {
		url, err := httpclient.JoinURL(target.baseURL, feeder.Substitute(path, rec))
		if err != nil {
			return nil, err
		}
		merged := make(map[string]string, len(target.headers)+len(headers))
		for k, v := range target.headers {
			merged[k] = v
		}
		for k, v := range headers {
			merged[k] = feeder.Substitute(v, rec)
		}
		s := spec
		s.URL = url
		s.Headers = merged
		if rec != nil {
			s.Body = feeder.Substitute(body, rec)
		}
		inj := injectors
		if target.auth != nil {
			inj = append(slices.Clip(injectors), target.auth)
		}
		return httpclient.NewRequestBuilder(s, inj...)
	}

	// Without a dataset the request never changes, so one builder per fixture
	// value is enough; fixture values are per executor.
	var builders sync.Map
	builderFor := func(target *httpTarget) (*httpclient.RequestBuilder, error) {
		if b, ok := builders.Load(target); ok {
			return b.(*httpclient.RequestBuilder), nil
		}
		b, err := newBuilder(target, nil)
		if err != nil {
			return nil, err
		}
		builders.Store(target, b)
		return b, nil
	}

	return func(ctx context.Context, args []any) (any, error) {
		target, err := argAs[*httpTarget](args, 0, typeHTTP)
		if err != nil {
			return nil, err
		}
		var builder *httpclient.RequestBuilder
		if len(args) > 1 {
			cursor, err := argAs[*feeder.Cursor](args, 1, typeDataset)
			if err != nil {
				return nil, err
			}
			rec, err := cursor.Next()
			if err != nil {
				return nil, err
			}
			builder, err = newBuilder(target, rec)
			if err != nil {
				return nil, err
			}
		} else if builder, err = builderFor(target); err != nil {
			return nil, err
		}

		ctx, end := env.span(ctx, "http", builder.Method()+" "+builder.Target())
		value, err := doHTTP(ctx, target.client, builder, expect, int64(maxBody), extractors, single, env)
		end(err)
		return value, err
	}, nil
}

// httpExtractors reads "extract" (a path or a name->path mapping) and
// "extract_regex". single is true when exactly one unnamed rule was given.
func httpExtractors(p *params) ([]*extractor.Extractor, bool, error) {
	var rules []*extractor.Extractor
	if raw, ok := p.Raw("extract"); ok {
		switch v := raw.(type) {
		case string:
			e, err := extractor.New("value", v, "")
			if err != nil {
				return nil, false, fmt.Errorf("%s: %w", p.owner, err)
			}
			rules = append(rules, e)
		case map[string]any:
			paths, err := p.StringMap("extract")
			if err != nil {
				return nil, false, err
			}
			names := make([]string, 0, len(paths))
			for name := range paths {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				e, err := extractor.New(name, paths[name], "")
				if err != nil {
					return nil, false, fmt.Errorf("%s: %w", p.owner, err)
				}
				rules = append(rules, e)
			}
		default:
			return nil, false, p.errorf("extract", "expected a path or a mapping, got %T", raw)
		}
	}
	pattern, err := p.String("extract_regex", "")
	if err != nil {
		return nil, false, err
	}
	if pattern != "" {
		name := "value"
		if len(rules) > 0 {
			name = "regex"
		}
		e, err := extractor.New(name, "", pattern)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", p.owner, err)
		}
		rules = append(rules, e)
	}
	single := len(rules) == 1 && rules[0].Name == "value"
	return rules, single, nil
}

func doHTTP(ctx context.Context, client *http.Client, builder *httpclient.RequestBuilder, expect []int, maxBody int64, rules []*extractor.Extractor, single bool, env buildEnv) (any, error) {
	req, err := builder.Build(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := httpclient.Send(client, req, maxBody)
	if err != nil {
		return nil, err
	}

	if len(expect) > 0 {
		if !slices.Contains(expect, resp.StatusCode) {
			return nil, &ExpectationError{
				Action: "http_request",
				Want:   fmt.Sprintf("status in %v", expect),
				Got:    fmt.Sprintf("status %d", resp.StatusCode),
			}
		}
	} else if resp.StatusCode >= http.StatusBadRequest {
		msg := strings.TrimSpace(string(resp.Body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &runner.HTTPError{StatusCode: resp.StatusCode, Body: msg}
	}

	switch {
	case len(rules) == 0:
		return resp.StatusCode, nil
	case single:
		value, _ := rules[0].Extract(resp.Body)
		return value, nil
	default:
		return extractor.ExtractAll(resp.Body, rules, env.logger), nil
	}
}

func websocketAction(p *params, env buildEnv) (suite.InvokeFunc, error) {
	message, err := p.String("message", "ping")
	if err != nil {
		return nil, err
	}
	binary, err := p.Bool("binary", false)
	if err != nil {
		return nil, err
	}
	echo, err := p.Bool("expect_echo", true)
	if err != nil {
		return nil, err
	}
	expect, err := p.String("expect", "")
	if err != nil {
		return nil, err
	}
	if expect == "" && echo {
		expect = message
	}

	msg := websocket.Text(message)
	if binary {
		msg = websocket.Binary([]byte(message))
	}
	return func(ctx context.Context, args []any) (any, error) {
		client, err := argAs[*websocket.Client](args, 0, typeWebSocket)
		if err != nil {
			return nil, err
		}
		ctx, end := env.span(ctx, "websocket", "")
		reply, err := client.RoundTrip(ctx, msg)
		if err == nil && expect != "" && string(reply.Data) != expect {
			err = &ExpectationError{Action: "websocket_echo", Want: fmt.Sprintf("%q", expect), Got: fmt.Sprintf("%q", reply.Data)}
		}
		end(err)
		if err != nil {
			return nil, err
		}
		return string(reply.Data), nil
	}, nil
}

func sseAction(p *params, env buildEnv) (suite.InvokeFunc, error) {
	eventType, err := p.String("event", "")
	if err != nil {
		return nil, err
	}
	path, err := p.String("extract", "")
	if err != nil {
		return nil, err
	}
	var rule *extractor.Extractor
	if path != "" {
		if rule, err = extractor.New("value", path, ""); err != nil {
			return nil, fmt.Errorf("%s: %w", p.owner, err)
		}
	}

	return func(ctx context.Context, args []any) (any, error) {
		client, err := argAs[*sse.Client](args, 0, typeSSE)
		if err != nil {
			return nil, err
		}
		ctx, end := env.span(ctx, "sse", eventType)
		ev, err := nextEvent(ctx, client, eventType)
		end(err)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			value, _ := rule.Extract([]byte(ev.Data))
			return value, nil
		}
		return ev.Data, nil
	}, nil
}

// nextEvent reads until an event of the wanted type arrives, reconnecting once
// if the server ended the stream since the last call.
func nextEvent(ctx context.Context, client *sse.Client, eventType string) (sse.Event, error) {
	if !client.Connected() {
		if err := client.Connect(ctx); err != nil {
			return sse.Event{}, err
		}
	}
	for {
		ev, err := client.ReadEvent(ctx)
		if err != nil {
			return sse.Event{}, err
		}
		if eventType == "" || ev.Event == eventType || (eventType == "message" && ev.Event == "") {
			return ev, nil
		}
	}
}

func grpcHealthAction(p *params, env buildEnv) (suite.InvokeFunc, error) {
	service, err := p.String("service", "")
	if err != nil {
		return nil, err
	}
	allowNotServing, err := p.Bool("allow_not_serving", false)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, args []any) (any, error) {
		client, err := argAs[*grpcclient.Client](args, 0, typeGRPC)
		if err != nil {
			return nil, err
		}
		ctx, end := env.span(ctx, "grpc", healthpb.Health_Check_FullMethodName)
		status, err := client.Check(ctx, service)
		if err == nil && status != healthpb.HealthCheckResponse_SERVING && !allowNotServing {
			err = &ExpectationError{Action: "grpc_health", Want: "SERVING", Got: status.String()}
		}
		end(err)
		if err != nil {
			return nil, err
		}
		return status.String(), nil
	}, nil
}

var redisCommands = []string{"ping", "get", "set", "incr", "del"}

func redisAction(p *params, env buildEnv) (suite.InvokeFunc, error) {
	command, err := p.String("command", "ping")
	if err != nil {
		return nil, err
	}
	command = strings.ToLower(command)
	if !slices.Contains(redisCommands, command) {
		return nil, p.errorf("command", "unsupported %q (supported: %s)", command, strings.Join(redisCommands, ", "))
	}
	key, err := p.String("key", "")
	if err != nil {
		return nil, err
	}
	if command != "ping" && key == "" {
		return nil, p.errorf("key", "is required for %s", command)
	}
	value, err := p.String("value", "")
	if err != nil {
		return nil, err
	}
	ttl, err := p.Duration("ttl", 0)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, args []any) (any, error) {
		client, err := argAs[*redis.Client](args, 0, typeRedis)
		if err != nil {
			return nil, err
		}
		ctx, end := env.span(ctx, "redis", command)
		result, err := runRedis(ctx, client, command, key, value, ttl)
		end(err)
		return result, err
	}, nil
}

func runRedis(ctx context.Context, client *redis.Client, command, key, value string, ttl time.Duration) (any, error) {
	switch command {
	case "get":
		v, err := client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return v, err
	case "set":
		return client.Set(ctx, key, value, ttl).Result()
	case "incr":
		return client.Incr(ctx, key).Result()
	case "del":
		return client.Del(ctx, key).Result()
	default:
		return client.Ping(ctx).Result()
	}
}

func sqlAction(p *params, env buildEnv) (suite.InvokeFunc, error) {
	query, err := p.String("query", "")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, p.errorf("query", "is required")
	}
	queryArgs, err := p.List("args")
	if err != nil {
		return nil, err
	}
	exec, err := p.Bool("exec", false)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, args []any) (any, error) {
		db, err := argAs[*sql.DB](args, 0, typePostgres)
		if err != nil {
			return nil, err
		}
		ctx, end := env.span(ctx, "postgres", "")
		result, err := runSQL(ctx, db, query, queryArgs, exec)
		end(err)
		return result, err
	}, nil
}

// runSQL returns rows affected for exec statements and the number of rows read
// for queries.
func runSQL(ctx context.Context, db *sql.DB, query string, args []any, exec bool) (int64, error) {
	if exec {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int64
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}

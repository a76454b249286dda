package script

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/torosent/crankbench/internal/auth"
	"github.com/torosent/crankbench/internal/feeder"
	"github.com/torosent/crankbench/internal/fixture"
	"github.com/torosent/crankbench/internal/grpcclient"
	"github.com/torosent/crankbench/internal/httpclient"
	"github.com/torosent/crankbench/internal/sse"
	"github.com/torosent/crankbench/internal/websocket"
)

type fixtureType struct {
	kind    fixture.Kind
	output  valueType
	inputs  []input
	produce func(p *params, env buildEnv) (fixture.ProduceFunc, error)
	acquire func(p *params, env buildEnv, hasDeps bool) (fixture.AcquireFunc, error)
}

var optionalAddress = []input{{typ: typeString, optional: true}}

var fixtureTypes = map[string]fixtureType{
	"value":       {kind: fixture.OneShot, output: typeAny, produce: valueFixture},
	"env":         {kind: fixture.OneShot, output: typeString, produce: envFixture},
	"http_client": {kind: fixture.Scoped, output: typeHTTP, inputs: optionalAddress, acquire: httpClientFixture},
	"websocket":   {kind: fixture.Scoped, output: typeWebSocket, inputs: optionalAddress, acquire: websocketFixture},
	"grpc_conn":   {kind: fixture.Scoped, output: typeGRPC, inputs: optionalAddress, acquire: grpcFixture},
	"redis":       {kind: fixture.Scoped, output: typeRedis, inputs: optionalAddress, acquire: redisFixture},
	"postgres":    {kind: fixture.Scoped, output: typePostgres, inputs: optionalAddress, acquire: postgresFixture},
	"dataset":     {kind: fixture.OneShot, output: typeDataset, produce: datasetFixture},
	"sse":         {kind: fixture.Scoped, output: typeSSE, inputs: optionalAddress, acquire: sseFixture},
}

func fixtureTypeNames() []string {
	names := make([]string, 0, len(fixtureTypes))
	for name := range fixtureTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func valueFixture(p *params, _ buildEnv) (fixture.ProduceFunc, error) {
	value, ok := p.Raw("value")
	if !ok {
		return nil, p.errorf("value", "is required")
	}
	return func(context.Context, []any) (any, error) {
		return value, nil
	}, nil
}

func envFixture(p *params, _ buildEnv) (fixture.ProduceFunc, error) {
	name, err := p.String("name", "")
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, p.errorf("name", "is required")
	}
	def, err := p.String("default", "")
	if err != nil {
		return nil, err
	}
	required, err := p.Bool("required", false)
	if err != nil {
		return nil, err
	}
	return func(context.Context, []any) (any, error) {
		value, ok := os.LookupEnv(name)
		if !ok || value == "" {
			if required {
				return nil, fmt.Errorf("environment variable %s is not set", name)
			}
			value = def
		}
		return value, nil
	}, nil
}

func requireAddress(p *params, key string, hasDeps bool) (string, error) {
	addr, err := p.String(key, "")
	if err != nil {
		return "", err
	}
	if addr == "" && !hasDeps {
		return "", p.errorf(key, "is required when no dependency supplies it")
	}
	return addr, nil
}

// httpTarget is the value of an http_client fixture.
type httpTarget struct {
	client  *http.Client
	baseURL string
	headers map[string]string
	auth    auth.Provider
}

// authParam builds the provider described by the "auth" mapping. One provider
// serves every executor so that OAuth2 tokens are fetched once per run.
func authParam(p *params) (auth.Provider, error) {
	raw, err := p.Map("auth")
	if err != nil || raw == nil {
		return nil, err
	}
	ap := newParams(p.owner+" auth", raw)
	var cfg auth.Config
	for key, dst := range map[string]*string{
		"type":          &cfg.Type,
		"token":         &cfg.Token,
		"header":        &cfg.Header,
		"token_url":     &cfg.TokenURL,
		"client_id":     &cfg.ClientID,
		"client_secret": &cfg.ClientSecret,
		"username":      &cfg.Username,
		"password":      &cfg.Password,
	} {
		if *dst, err = ap.String(key, ""); err != nil {
			return nil, err
		}
	}
	if cfg.Scopes, err = ap.StringList("scopes"); err != nil {
		return nil, err
	}
	if cfg.RefreshBeforeExpiry, err = ap.Duration("refresh_before_expiry", 30*time.Second); err != nil {
		return nil, err
	}
	if err := ap.Unused(); err != nil {
		return nil, err
	}
	provider, err := auth.New(cfg)
	if err != nil {
		return nil, p.errorf("auth", "%v", err)
	}
	return provider, nil
}

func httpClientFixture(p *params, env buildEnv, hasDeps bool) (fixture.AcquireFunc, error) {
	base, err := requireAddress(p, "base_url", hasDeps)
	if err != nil {
		return nil, err
	}
	timeout, err := p.Duration("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	headers, err := p.StringMap("headers")
	if err != nil {
		return nil, err
	}
	provider, err := authParam(p)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, args []any) (any, fixture.ReleaseFunc, error) {
		baseURL, err := addressFrom(base, args, "base_url")
		if err != nil {
			return nil, nil, err
		}
		target := &httpTarget{client: httpclient.NewClient(timeout), baseURL: baseURL, headers: headers, auth: provider}
		release := func(context.Context) error {
			target.client.CloseIdleConnections()
			return nil
		}
		return target, release, nil
	}, nil
}

func datasetFixture(p *params, env buildEnv) (fixture.ProduceFunc, error) {
	path, err := p.String("path", "")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, p.errorf("path", "is required")
	}
	format, err := p.String("format", "")
	if err != nil {
		return nil, err
	}
	order, err := p.String("order", string(feeder.Sequential))
	if err != nil {
		return nil, err
	}
	if o := feeder.Order(order); o != feeder.Sequential && o != feeder.Random {
		return nil, p.errorf("order", "must be %s or %s, got %q", feeder.Sequential, feeder.Random, order)
	}
	cycle, err := p.Bool("cycle", true)
	if err != nil {
		return nil, err
	}
	seed, err := p.Int("seed", 0)
	if err != nil {
		return nil, err
	}
	data, err := feeder.Load(env.resolve(path), strings.ToLower(format))
	if err != nil {
		return nil, p.errorf("path", "%v", err)
	}
	env.logger.Debug("dataset loaded", zap.String("path", data.Name()), zap.Int("records", data.Len()))

	// Each executor gets its own cursor, started at a different row.
	var executors atomic.Int64
	return func(context.Context, []any) (any, error) {
		offset := int(executors.Add(1) - 1)
		return data.Cursor(feeder.Order(order), cycle, offset, uint64(seed)), nil
	}, nil
}

func websocketFixture(p *params, env buildEnv, hasDeps bool) (fixture.AcquireFunc, error) {
	url, err := requireAddress(p, "url", hasDeps)
	if err != nil {
		return nil, err
	}
	headers, err := p.StringMap("headers")
	if err != nil {
		return nil, err
	}
	cfg := websocket.Config{Headers: http.Header{}}
	for k, v := range headers {
		cfg.Headers.Set(k, v)
	}
	if cfg.HandshakeTimeout, err = p.Duration("handshake_timeout", 0); err != nil {
		return nil, err
	}
	if cfg.ReadTimeout, err = p.Duration("read_timeout", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout, err = p.Duration("write_timeout", 10*time.Second); err != nil {
		return nil, err
	}
	maxSize, err := p.Int("max_message_size", 0)
	if err != nil {
		return nil, err
	}
	cfg.MaxMessageSize = int64(maxSize)

	return func(ctx context.Context, args []any) (any, fixture.ReleaseFunc, error) {
		target, err := addressFrom(url, args, "url")
		if err != nil {
			return nil, nil, err
		}
		c := cfg
		c.URL = target
		client := websocket.NewClient(c)
		if err := client.Connect(ctx); err != nil {
			return nil, nil, err
		}
		release := func(context.Context) error {
			env.logger.Debug("websocket fixture released", client.Metrics().Fields()...)
			return client.Close()
		}
		return client, release, nil
	}, nil
}

func sseFixture(p *params, env buildEnv, hasDeps bool) (fixture.AcquireFunc, error) {
	url, err := requireAddress(p, "url", hasDeps)
	if err != nil {
		return nil, err
	}
	headers, err := p.StringMap("headers")
	if err != nil {
		return nil, err
	}
	connectTimeout, err := p.Duration("connect_timeout", 10*time.Second)
	if err != nil {
		return nil, err
	}
	hdr := http.Header{}
	for k, v := range headers {
		hdr.Set(k, v)
	}

	return func(ctx context.Context, args []any) (any, fixture.ReleaseFunc, error) {
		target, err := addressFrom(url, args, "url")
		if err != nil {
			return nil, nil, err
		}
		client := sse.NewClient(sse.Config{URL: target, Headers: hdr, ConnectTimeout: connectTimeout})
		if err := client.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("sse connect %s: %w", target, err)
		}
		release := func(context.Context) error {
			env.logger.Debug("sse fixture released", client.Metrics().Fields()...)
			return client.Close()
		}
		return client, release, nil
	}, nil
}

func grpcFixture(p *params, env buildEnv, hasDeps bool) (fixture.AcquireFunc, error) {
	target, err := requireAddress(p, "target", hasDeps)
	if err != nil {
		return nil, err
	}
	useTLS, err := p.Bool("tls", false)
	if err != nil {
		return nil, err
	}
	skipVerify, err := p.Bool("insecure_skip_verify", false)
	if err != nil {
		return nil, err
	}
	md, err := p.StringMap("metadata")
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, args []any) (any, fixture.ReleaseFunc, error) {
		addr, err := addressFrom(target, args, "target")
		if err != nil {
			return nil, nil, err
		}
		client, err := grpcclient.Connect(grpcclient.Config{
			Target:    addr,
			Metadata:  md,
			UseTLS:    useTLS,
			Insecure:  skipVerify,
			Propagate: env.propagate,
		})
		if err != nil {
			return nil, nil, err
		}
		release := func(context.Context) error {
			env.logger.Debug("grpc fixture released", append(client.Metrics().Fields(), zap.String("last_status", client.LastStatus()))...)
			return client.Close()
		}
		return client, release, nil
	}, nil
}

func redisFixture(p *params, env buildEnv, hasDeps bool) (fixture.AcquireFunc, error) {
	addr, err := requireAddress(p, "addr", hasDeps)
	if err != nil {
		return nil, err
	}
	password, err := p.String("password", "")
	if err != nil {
		return nil, err
	}
	db, err := p.Int("db", 0)
	if err != nil {
		return nil, err
	}
	dialTimeout, err := p.Duration("dial_timeout", 5*time.Second)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, args []any) (any, fixture.ReleaseFunc, error) {
		address, err := addressFrom(addr, args, "addr")
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(&redis.Options{
			Addr:        address,
			Password:    password,
			DB:          db,
			DialTimeout: dialTimeout,
			PoolSize:    1,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", address, err)
		}
		release := func(context.Context) error {
			stats := client.PoolStats()
			env.logger.Debug("redis fixture released", zap.Uint32("hits", stats.Hits), zap.Uint32("misses", stats.Misses), zap.Uint32("timeouts", stats.Timeouts))
			return client.Close()
		}
		return client, release, nil
	}, nil
}

func postgresFixture(p *params, env buildEnv, hasDeps bool) (fixture.AcquireFunc, error) {
	dsn, err := requireAddress(p, "dsn", hasDeps)
	if err != nil {
		return nil, err
	}
	if dsn != "" {
		if _, err := pq.NewConnector(dsn); err != nil {
			return nil, p.errorf("dsn", "%v", err)
		}
	}
	maxOpen, err := p.Int("max_open_conns", 1)
	if err != nil {
		return nil, err
	}
	if maxOpen < 1 {
		return nil, p.errorf("max_open_conns", "must be >= 1")
	}

	return func(ctx context.Context, args []any) (any, fixture.ReleaseFunc, error) {
		source, err := addressFrom(dsn, args, "dsn")
		if err != nil {
			return nil, nil, err
		}
		connector, err := pq.NewConnector(source)
		if err != nil {
			return nil, nil, err
		}
		db := sql.OpenDB(connector)
		db.SetMaxOpenConns(maxOpen)
		if err := db.PingContext(ctx); err != nil {
			return nil, nil, errors.Join(fmt.Errorf("postgres ping: %w", err), db.Close())
		}
		release := func(context.Context) error {
			stats := db.Stats()
			env.logger.Debug("postgres fixture released", zap.Int("open_connections", stats.OpenConnections), zap.Int64("wait_count", stats.WaitCount))
			return db.Close()
		}
		return db, release, nil
	}, nil
}

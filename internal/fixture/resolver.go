package fixture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Resolver turns fixture names into values using a Lookup. A Resolver holds no
// per-run state; all state lives in the Cache passed to each call, so one Resolver
// can serve many executors at once.
type Resolver struct {
	lookup          Lookup
	teardownTimeout time.Duration
	logger          *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTeardownTimeout bounds each release step. Zero waits indefinitely.
func WithTeardownTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.teardownTimeout = d
		}
	}
}

// WithLogger sets the logger used to report teardown failures.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a resolver over lookup.
func NewResolver(lookup Lookup, opts ...Option) *Resolver {
	r := &Resolver{lookup: lookup, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the value of the named fixture, resolving its dependencies first.
// A fixture already present in cache is returned without invoking its producer again.
func (r *Resolver) Resolve(ctx context.Context, name string, cache *Cache) (any, error) {
	if v, ok := cache.values[name]; ok {
		return v, nil
	}
	if cache.visiting[name] {
		return nil, &ConfigError{Fixture: name, Reason: "dependency cycle: " + cyclePath(cache.path, name)}
	}
	if r.lookup == nil {
		return nil, &ConfigError{Fixture: name, Reason: "fixture is not declared"}
	}
	desc, ok := r.lookup.Fixture(name)
	if !ok {
		return nil, &ConfigError{Fixture: name, Reason: "fixture is not declared"}
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	cache.visiting[name] = true
	cache.path = append(cache.path, name)
	defer func() {
		delete(cache.visiting, name)
		cache.path = cache.path[:len(cache.path)-1]
	}()

	args := make([]any, 0, len(desc.Dependencies))
	for _, dep := range desc.Dependencies {
		v, err := r.Resolve(ctx, dep, cache)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}

	switch desc.Kind {
	case Scoped:
		value, release, err := acquire(ctx, desc, args)
		if err != nil {
			return nil, &ProduceError{Fixture: name, Err: err}
		}
		if release != nil {
			cache.pending = append(cache.pending, handle{name: name, release: release})
		}
		cache.values[name] = value
		return value, nil
	default:
		value, err := produce(ctx, desc, args)
		if err != nil {
			return nil, &ProduceError{Fixture: name, Err: err}
		}
		cache.values[name] = value
		return value, nil
	}
}

// ResolveAll resolves names in order and returns their values positionally.
func (r *Resolver) ResolveAll(ctx context.Context, names []string, cache *Cache) ([]any, error) {
	args := make([]any, 0, len(names))
	for _, name := range names {
		v, err := r.Resolve(ctx, name, cache)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

// Release runs the release step of every pending scoped fixture in cache, most
// recently acquired first. Each handle gets exactly one attempt; a failure is
// returned as a *TeardownError and does not stop the remaining releases.
// Release ignores cancellation of ctx so cleanup still runs after an interrupt.
func (r *Resolver) Release(ctx context.Context, cache *Cache) []error {
	pending := cache.pending
	cache.pending = nil

	var errs []error
	for i := len(pending) - 1; i >= 0; i-- {
		h := pending[i]
		if err := r.releaseOne(ctx, h); err != nil {
			r.logger.Warn("fixture teardown failed",
				zap.String("fixture", h.name),
				zap.Error(err),
			)
			errs = append(errs, &TeardownError{Fixture: h.name, Err: err})
		}
	}
	return errs
}

func (r *Resolver) releaseOne(ctx context.Context, h handle) error {
	ctx = context.WithoutCancel(ctx)
	if r.teardownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.teardownTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("teardown panicked: %v", p)
			}
		}()
		done <- h.release(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("teardown did not finish: %w", ctx.Err())
	}
}

func produce(ctx context.Context, desc Descriptor, args []any) (value any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return desc.Produce(ctx, args)
}

func acquire(ctx context.Context, desc Descriptor, args []any) (value any, release ReleaseFunc, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return desc.Acquire(ctx, args)
}

func cyclePath(path []string, name string) string {
	start := 0
	for i, p := range path {
		if p == name {
			start = i
			break
		}
	}
	cycle := append(append([]string(nil), path[start:]...), name)
	return strings.Join(cycle, " -> ")
}

// IsConfigError reports whether err is, or wraps, a *ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

package fixture_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/crankbench/internal/fixture"
)

func oneShot(name string, calls *int64, value any, deps ...string) fixture.Descriptor {
	return fixture.Descriptor{
		Name:         name,
		Dependencies: deps,
		Kind:         fixture.OneShot,
		Produce: func(ctx context.Context, args []any) (any, error) {
			atomic.AddInt64(calls, 1)
			return value, nil
		},
	}
}

func scoped(name string, released *[]string, releaseErr error, deps ...string) fixture.Descriptor {
	return fixture.Descriptor{
		Name:         name,
		Dependencies: deps,
		Kind:         fixture.Scoped,
		Acquire: func(ctx context.Context, args []any) (any, fixture.ReleaseFunc, error) {
			return name + "-value", func(ctx context.Context) error {
				*released = append(*released, name)
				return releaseErr
			}, nil
		},
	}
}

func TestResolveMemoizesDiamond(t *testing.T) {
	var rootCalls, leftCalls, rightCalls, sharedCalls int64
	set := fixture.Set{}
	set.Add(oneShot("shared", &sharedCalls, 1))
	set.Add(oneShot("left", &leftCalls, 2, "shared"))
	set.Add(oneShot("right", &rightCalls, 3, "shared"))
	set.Add(oneShot("root", &rootCalls, 4, "left", "right"))

	r := fixture.NewResolver(set)
	cache := fixture.NewCache()

	v, err := r.Resolve(context.Background(), "root", cache)
	if err != nil || v != 4 {
		t.Fatalf("Resolve(root) = %v, %v; want 4", v, err)
	}
	v, err = r.Resolve(context.Background(), "shared", cache)
	if err != nil || v != 1 {
		t.Fatalf("Resolve(shared) = %v, %v; want 1", v, err)
	}

	if sharedCalls != 1 {
		t.Errorf("shared fixture must be produced once per cache, got %d", sharedCalls)
	}
	if rootCalls != 1 {
		t.Errorf("root produced %d times", rootCalls)
	}
	if cache.Len() != 4 {
		t.Errorf("cache holds %d values, want 4", cache.Len())
	}
}

func TestResolvePassesDependenciesInOrder(t *testing.T) {
	var got []any
	set := fixture.Set{}
	var n int64
	set.Add(oneShot("a", &n, "A"))
	set.Add(oneShot("b", &n, "B"))
	set.Add(fixture.Descriptor{
		Name:         "joined",
		Dependencies: []string{"b", "a"},
		Produce: func(ctx context.Context, args []any) (any, error) {
			got = args
			return len(args), nil
		},
	})

	r := fixture.NewResolver(set)
	if _, err := r.Resolve(context.Background(), "joined", fixture.NewCache()); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !slices.Equal(got, []any{"B", "A"}) {
		t.Errorf("args = %v, want [B A]", got)
	}
}

func TestSeparateCachesDoNotShareValues(t *testing.T) {
	var calls int64
	set := fixture.Set{}
	set.Add(oneShot("conn", &calls, "c"))
	r := fixture.NewResolver(set)

	for i := 0; i < 2; i++ {
		if _, err := r.Resolve(context.Background(), "conn", fixture.NewCache()); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("produced %d times, want 2", calls)
	}
}

func TestResolveDetectsCycle(t *testing.T) {
	var calls int64
	set := fixture.Set{}
	set.Add(oneShot("a", &calls, 1, "b"))
	set.Add(oneShot("b", &calls, 2, "a"))

	r := fixture.NewResolver(set)
	_, err := r.Resolve(context.Background(), "a", fixture.NewCache())

	var cfgErr *fixture.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if !strings.Contains(cfgErr.Reason, "a -> b -> a") {
		t.Errorf("reason %q does not show the cycle", cfgErr.Reason)
	}
	if calls != 0 {
		t.Errorf("no producer may run when the graph is cyclic, got %d calls", calls)
	}
}

func TestResolveSelfDependency(t *testing.T) {
	var calls int64
	set := fixture.Set{}
	set.Add(oneShot("loop", &calls, 1, "loop"))

	_, err := fixture.NewResolver(set).Resolve(context.Background(), "loop", fixture.NewCache())
	if !fixture.IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestResolveUndeclaredFixture(t *testing.T) {
	_, err := fixture.NewResolver(fixture.Set{}).Resolve(context.Background(), "missing", fixture.NewCache())
	var cfgErr *fixture.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.Fixture != "missing" {
		t.Errorf("fixture = %q, want missing", cfgErr.Fixture)
	}
}

func TestResolveRejectsMalformedDescriptors(t *testing.T) {
	produce := func(ctx context.Context, args []any) (any, error) { return nil, nil }
	acquire := func(ctx context.Context, args []any) (any, fixture.ReleaseFunc, error) { return nil, nil, nil }

	tests := []struct {
		name string
		desc fixture.Descriptor
	}{
		{"one_shot without produce", fixture.Descriptor{Name: "x", Kind: fixture.OneShot}},
		{"one_shot with acquire", fixture.Descriptor{Name: "x", Kind: fixture.OneShot, Produce: produce, Acquire: acquire}},
		{"scoped without acquire", fixture.Descriptor{Name: "x", Kind: fixture.Scoped, Produce: produce}},
		{"unknown kind", fixture.Descriptor{Name: "x", Kind: fixture.Kind(7), Produce: produce}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := fixture.Set{"x": tt.desc}
			_, err := fixture.NewResolver(set).Resolve(context.Background(), "x", fixture.NewCache())
			if !fixture.IsConfigError(err) {
				t.Errorf("expected ConfigError, got %v", err)
			}
		})
	}
}

func TestResolveWrapsProducerFailure(t *testing.T) {
	boom := errors.New("boom")
	set := fixture.Set{}
	set.Add(fixture.Descriptor{
		Name: "bad",
		Produce: func(ctx context.Context, args []any) (any, error) {
			return nil, boom
		},
	})

	_, err := fixture.NewResolver(set).Resolve(context.Background(), "bad", fixture.NewCache())
	var prodErr *fixture.ProduceError
	if !errors.As(err, &prodErr) {
		t.Fatalf("expected ProduceError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("cause lost: %v", err)
	}
	if fixture.IsConfigError(err) {
		t.Error("producer failure reported as a configuration error")
	}
}

func TestResolveRecoversProducerPanic(t *testing.T) {
	set := fixture.Set{}
	set.Add(fixture.Descriptor{
		Name: "panicky",
		Produce: func(ctx context.Context, args []any) (any, error) {
			panic("nope")
		},
	})

	_, err := fixture.NewResolver(set).Resolve(context.Background(), "panicky", fixture.NewCache())
	if err == nil || !strings.Contains(err.Error(), "panic: nope") {
		t.Fatalf("expected recovered panic, got %v", err)
	}
}

func TestReleaseRunsEachHandleOnceInReverseOrder(t *testing.T) {
	var released []string
	set := fixture.Set{}
	set.Add(scoped("db", &released, nil))
	set.Add(scoped("session", &released, nil, "db"))

	r := fixture.NewResolver(set)
	cache := fixture.NewCache()
	v, err := r.Resolve(context.Background(), "session", cache)
	if err != nil || v != "session-value" {
		t.Fatalf("Resolve() = %v, %v", v, err)
	}
	if pending := cache.Pending(); !slices.Equal(pending, []string{"db", "session"}) {
		t.Errorf("pending = %v, want [db session]", pending)
	}

	if errs := r.Release(context.Background(), cache); len(errs) != 0 {
		t.Errorf("unexpected teardown errors: %v", errs)
	}
	if !slices.Equal(released, []string{"session", "db"}) {
		t.Errorf("released = %v, want [session db]", released)
	}

	// A second release has nothing left to do.
	if errs := r.Release(context.Background(), cache); len(errs) != 0 || len(released) != 2 {
		t.Errorf("second release did work: errs=%v released=%v", errs, released)
	}
}

func TestReleaseContinuesAfterFailure(t *testing.T) {
	var released []string
	set := fixture.Set{}
	set.Add(scoped("first", &released, nil))
	set.Add(scoped("broken", &released, errors.New("close failed")))
	set.Add(scoped("last", &released, nil))

	r := fixture.NewResolver(set)
	cache := fixture.NewCache()
	if _, err := r.ResolveAll(context.Background(), []string{"first", "broken", "last"}, cache); err != nil {
		t.Fatalf("ResolveAll() error = %v", err)
	}

	errs := r.Release(context.Background(), cache)
	if len(errs) != 1 {
		t.Fatalf("expected 1 teardown error, got %v", errs)
	}
	var tdErr *fixture.TeardownError
	if !errors.As(errs[0], &tdErr) || tdErr.Fixture != "broken" {
		t.Errorf("expected TeardownError for broken, got %v", errs[0])
	}
	slices.Sort(released)
	if !slices.Equal(released, []string{"broken", "first", "last"}) {
		t.Errorf("released = %v, want all three", released)
	}
}

func TestReleaseRecoversPanicAndTimesOut(t *testing.T) {
	set := fixture.Set{}
	set.Add(fixture.Descriptor{
		Name: "panics",
		Kind: fixture.Scoped,
		Acquire: func(ctx context.Context, args []any) (any, fixture.ReleaseFunc, error) {
			return 1, func(ctx context.Context) error { panic("teardown") }, nil
		},
	})
	set.Add(fixture.Descriptor{
		Name: "hangs",
		Kind: fixture.Scoped,
		Acquire: func(ctx context.Context, args []any) (any, fixture.ReleaseFunc, error) {
			return 2, func(ctx context.Context) error {
				<-ctx.Done()
				time.Sleep(10 * time.Millisecond)
				return nil
			}, nil
		},
	})

	r := fixture.NewResolver(set, fixture.WithTeardownTimeout(20*time.Millisecond))
	cache := fixture.NewCache()
	if _, err := r.ResolveAll(context.Background(), []string{"panics", "hangs"}, cache); err != nil {
		t.Fatalf("ResolveAll() error = %v", err)
	}

	errs := r.Release(context.Background(), cache)
	if len(errs) != 2 {
		t.Fatalf("expected 2 teardown errors, got %v", errs)
	}
	if !strings.Contains(errs[0].Error(), "did not finish") {
		t.Errorf("errs[0] = %v, want a timeout", errs[0])
	}
	if !strings.Contains(errs[1].Error(), "panicked") {
		t.Errorf("errs[1] = %v, want a recovered panic", errs[1])
	}
}

func TestReleaseRunsAfterCancellation(t *testing.T) {
	var released []string
	set := fixture.Set{}
	set.Add(scoped("conn", &released, nil))

	r := fixture.NewResolver(set)
	cache := fixture.NewCache()
	if _, err := r.Resolve(context.Background(), "conn", cache); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if errs := r.Release(ctx, cache); len(errs) != 0 {
		t.Errorf("unexpected teardown errors: %v", errs)
	}
	if !slices.Equal(released, []string{"conn"}) {
		t.Errorf("released = %v, want [conn]", released)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want fixture.Kind
	}{
		{"Scoped", fixture.Scoped},
		{"", fixture.OneShot},
	}
	for _, tt := range tests {
		k, err := fixture.ParseKind(tt.in)
		if err != nil || k != tt.want {
			t.Errorf("ParseKind(%q) = %v, %v; want %v", tt.in, k, err, tt.want)
		}
	}
	if _, err := fixture.ParseKind("generator"); err == nil {
		t.Error("expected an error for an unknown kind")
	}
}

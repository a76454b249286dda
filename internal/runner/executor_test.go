package runner_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/crankbench/internal/fixture"
	"github.com/torosent/crankbench/internal/runner"
	"github.com/torosent/crankbench/internal/suite"
)

// sleeper simulates a benchmark call with fixed latency.
func sleeper(latency time.Duration, calls *int64) suite.InvokeFunc {
	return func(ctx context.Context, args []any) (any, error) {
		n := atomic.AddInt64(calls, 1)
		time.Sleep(latency)
		return n, nil
	}
}

// trackedFixtures declares one scoped fixture that counts acquisitions and releases.
type trackedFixtures struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (tf *trackedFixtures) set() fixture.Set {
	set := fixture.Set{}
	set.Add(fixture.Descriptor{
		Name: "conn",
		Kind: fixture.Scoped,
		Acquire: func(ctx context.Context, args []any) (any, fixture.ReleaseFunc, error) {
			tf.mu.Lock()
			tf.acquired++
			tf.mu.Unlock()
			return "conn", func(ctx context.Context) error {
				tf.mu.Lock()
				tf.released++
				tf.mu.Unlock()
				return nil
			}, nil
		},
	})
	return set
}

func (tf *trackedFixtures) counts() (int, int) {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	return tf.acquired, tf.released
}

// TestExecutorHonorsDeadline ensures the loop stops after the duration, overrunning
// by no more than one call.
func TestExecutorHonorsDeadline(t *testing.T) {
	var calls int64
	latency := 5 * time.Millisecond
	duration := 50 * time.Millisecond
	b := suite.Benchmark{Name: "benchmark_sleep", Invoke: sleeper(latency, &calls)}

	exec := runner.NewExecutor(fixture.NewResolver(fixture.Set{}), runner.Options{}, 0)
	start := time.Now()
	rep, err := exec.Run(context.Background(), b, duration)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed < duration {
		t.Fatalf("run finished before the deadline: %s", elapsed)
	}
	// allow scheduling fudge on top of one in-flight call
	if elapsed > duration+latency+100*time.Millisecond {
		t.Fatalf("deadline overrun too large: %s", elapsed)
	}
	if len(rep.Samples) == 0 || int64(len(rep.Samples)) != calls {
		t.Fatalf("expected one sample per call, got %d samples for %d calls", len(rep.Samples), calls)
	}
}

func TestExecutorSamplesAreOrdered(t *testing.T) {
	var calls int64
	b := suite.Benchmark{Name: "benchmark_fast", Invoke: sleeper(0, &calls)}
	exec := runner.NewExecutor(fixture.NewResolver(fixture.Set{}), runner.Options{}, 3)

	rep, err := exec.Run(context.Background(), b, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for i := 1; i < len(rep.Samples); i++ {
		if rep.Samples[i].Timestamp.Before(rep.Samples[i-1].Timestamp) {
			t.Fatalf("sample %d is earlier than sample %d", i, i-1)
		}
	}
	for i, s := range rep.Samples {
		if s.Task != 3 {
			t.Fatalf("sample %d task = %d, want 3", i, s.Task)
		}
		if s.Value.(int64) != int64(i+1) {
			t.Fatalf("sample %d value = %v, want %d", i, s.Value, i+1)
		}
	}
}

func TestExecutorCompletesInFlightCall(t *testing.T) {
	var calls int64
	b := suite.Benchmark{Name: "benchmark_slow", Invoke: sleeper(40*time.Millisecond, &calls)}
	exec := runner.NewExecutor(fixture.NewResolver(fixture.Set{}), runner.Options{}, 0)

	start := time.Now()
	rep, err := exec.Run(context.Background(), b, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(rep.Samples) != 1 {
		t.Fatalf("expected exactly one sample, got %d", len(rep.Samples))
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatal("in-flight call was cut short")
	}
	if rep.Samples[0].Latency < 40*time.Millisecond {
		t.Fatalf("latency = %s, want >= 40ms", rep.Samples[0].Latency)
	}
}

func TestExecutorReleasesFixturesAfterDeadline(t *testing.T) {
	tf := &trackedFixtures{}
	var seen any
	b := suite.Benchmark{
		Name:         "benchmark_uses_conn",
		Dependencies: []string{"conn"},
		Invoke: func(ctx context.Context, args []any) (any, error) {
			seen = args[0]
			_, released := tf.counts()
			if released != 0 {
				return nil, errors.New("fixture released during the loop")
			}
			return nil, nil
		},
	}

	exec := runner.NewExecutor(fixture.NewResolver(tf.set()), runner.Options{}, 0)
	rep, err := exec.Run(context.Background(), b, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if seen != "conn" {
		t.Fatalf("benchmark received %v, want fixture value", seen)
	}
	if acquired, released := tf.counts(); acquired != 1 || released != 1 {
		t.Fatalf("acquired=%d released=%d, want 1 and 1", acquired, released)
	}
	if len(rep.Teardown) != 0 {
		t.Fatalf("unexpected teardown errors: %v", rep.Teardown)
	}
}

func TestExecutorReleasesFixturesAfterError(t *testing.T) {
	tf := &trackedFixtures{}
	boom := errors.New("boom")
	var calls int64
	b := suite.Benchmark{
		Name:         "benchmark_fails",
		Dependencies: []string{"conn"},
		Invoke: func(ctx context.Context, args []any) (any, error) {
			if atomic.AddInt64(&calls, 1) == 3 {
				return nil, boom
			}
			return nil, nil
		},
	}

	exec := runner.NewExecutor(fixture.NewResolver(tf.set()), runner.Options{}, 0)
	rep, err := exec.Run(context.Background(), b, time.Second)

	var execErr *runner.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Run() error = %v, want ExecutionError", err)
	}
	if !errors.Is(err, boom) || execErr.Calls != 2 {
		t.Fatalf("unexpected error details: %+v", execErr)
	}
	if len(rep.Samples) != 2 {
		t.Fatalf("expected 2 samples before the failure, got %d", len(rep.Samples))
	}
	if _, released := tf.counts(); released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}
}

func TestExecutorReleasesResolvedFixturesWhenSetupFails(t *testing.T) {
	tf := &trackedFixtures{}
	set := tf.set()
	set.Add(fixture.Descriptor{
		Name: "broken",
		Produce: func(ctx context.Context, args []any) (any, error) {
			return nil, errors.New("cannot connect")
		},
	})
	var calls int64
	b := suite.Benchmark{
		Name:         "benchmark_never_runs",
		Dependencies: []string{"conn", "broken"},
		Invoke:       sleeper(0, &calls),
	}

	exec := runner.NewExecutor(fixture.NewResolver(set), runner.Options{}, 0)
	_, err := exec.Run(context.Background(), b, time.Second)

	var prodErr *fixture.ProduceError
	if !errors.As(err, &prodErr) {
		t.Fatalf("Run() error = %v, want ProduceError", err)
	}
	if calls != 0 {
		t.Fatalf("benchmark invoked %d times after setup failure", calls)
	}
	if acquired, released := tf.counts(); acquired != 1 || released != 1 {
		t.Fatalf("acquired=%d released=%d, want 1 and 1", acquired, released)
	}
}

func TestExecutorStopsOnCancellation(t *testing.T) {
	var calls int64
	b := suite.Benchmark{Name: "benchmark_sleep", Invoke: sleeper(time.Millisecond, &calls)}
	exec := runner.NewExecutor(fixture.NewResolver(fixture.Set{}), runner.Options{}, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := exec.Run(ctx, b, time.Minute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want context deadline", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("executor ignored cancellation")
	}
}

func TestExecutorRecoversPanics(t *testing.T) {
	b := suite.Benchmark{
		Name:   "benchmark_panics",
		Invoke: func(ctx context.Context, args []any) (any, error) { panic("bad") },
	}
	exec := runner.NewExecutor(fixture.NewResolver(fixture.Set{}), runner.Options{}, 0)
	_, err := exec.Run(context.Background(), b, time.Second)
	var execErr *runner.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Run() error = %v, want ExecutionError", err)
	}
}

type countingObserver struct {
	calls    int64
	failures int64
}

func (c *countingObserver) Observe(_ string, _ time.Duration, err error) {
	atomic.AddInt64(&c.calls, 1)
	if err != nil {
		atomic.AddInt64(&c.failures, 1)
	}
}

// TestExecutorPacing ensures the pacer caps the call rate of a single executor.
func TestExecutorPacing(t *testing.T) {
	var calls int64
	obs := &countingObserver{}
	b := suite.Benchmark{Name: "benchmark_paced", Invoke: sleeper(0, &calls)}
	exec := runner.NewExecutor(fixture.NewResolver(fixture.Set{}), runner.Options{
		RatePerSecond: 100,
		Observer:      obs,
	}, 0)

	rep, err := exec.Run(context.Background(), b, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// expected upper bound ~ rate * duration, 20% slack plus the initial token
	if len(rep.Samples) > 13 {
		t.Fatalf("pacing exceeded: %d samples", len(rep.Samples))
	}
	if obs.calls != int64(len(rep.Samples)) {
		t.Fatalf("observer saw %d calls, want %d", obs.calls, len(rep.Samples))
	}
}

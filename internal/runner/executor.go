package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/crankbench/internal/fixture"
	"github.com/torosent/crankbench/internal/results"
	"github.com/torosent/crankbench/internal/suite"
)

// Report is the outcome of one executor run.
type Report struct {
	Samples  []results.Sample
	Teardown []error
	Duration time.Duration
}

// Executor runs one benchmark in a tight loop until its deadline.
type Executor struct {
	resolver *fixture.Resolver
	opt      Options
	task     int
}

// NewExecutor creates an executor. task identifies the executor within its unit and
// is recorded on every sample.
func NewExecutor(resolver *fixture.Resolver, opt Options, task int) *Executor {
	opt.normalize()
	return &Executor{resolver: resolver, opt: opt, task: task}
}

// Run resolves the benchmark's fixtures, invokes it until duration has elapsed and
// releases every scoped fixture it acquired. Samples are appended in call order.
// Release always runs, including when resolution or a call fails; teardown failures
// are returned in Report.Teardown and never turn into the run's error.
func (e *Executor) Run(ctx context.Context, b suite.Benchmark, duration time.Duration) (rep Report, err error) {
	start := time.Now()
	cache := fixture.NewCache()
	defer func() {
		rep.Teardown = e.resolver.Release(ctx, cache)
		rep.Duration = time.Since(start)
	}()

	args, err := e.resolver.ResolveAll(ctx, b.Dependencies, cache)
	if err != nil {
		return rep, err
	}

	pacer := newArrivalController(e.opt, int64(e.task))
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return rep, fmt.Errorf("benchmark %q interrupted: %w", b.Name, err)
		}
		if pacer != nil {
			if err := pacer.Wait(ctx); err != nil {
				return rep, fmt.Errorf("benchmark %q interrupted: %w", b.Name, err)
			}
			if !time.Now().Before(deadline) {
				break
			}
		}

		// A started call always runs to completion; ctx only stops the loop.
		callStart := time.Now()
		value, callErr := invoke(context.WithoutCancel(ctx), b, args)
		latency := time.Since(callStart)

		if e.opt.Observer != nil {
			e.opt.Observer.Observe(b.Name, latency, callErr)
		}
		if callErr != nil {
			e.opt.Logger.Debug("benchmark call failed",
				zap.String("benchmark", b.Name),
				zap.Int("task", e.task),
				zap.Error(callErr),
			)
			return rep, &ExecutionError{Benchmark: b.Name, Calls: len(rep.Samples), Err: callErr}
		}
		rep.Samples = append(rep.Samples, results.Sample{
			Timestamp: callStart,
			Latency:   latency,
			Value:     value,
			Task:      e.task,
		})
	}
	return rep, nil
}

func invoke(ctx context.Context, b suite.Benchmark, args []any) (value any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return b.Invoke(ctx, args)
}

package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/crankbench/internal/results"
	"github.com/torosent/crankbench/internal/runner"
	"github.com/torosent/crankbench/internal/suite"
)

// Option adjusts the Options used by RunBenchmarks.
type Option func(*Options)

// WithLauncher hosts units of multi-worker benchmarks with l.
func WithLauncher(l Launcher) Option {
	return func(o *Options) { o.Launcher = l }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithTracer sets the tracer used for run, benchmark and unit spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Options) { o.Tracer = t }
}

// WithListener registers progress callbacks.
func WithListener(l Listener) Option {
	return func(o *Options) { o.Listener = l }
}

// WithRunnerOptions configures executors (pacing, observers).
func WithRunnerOptions(r runner.Options) Option {
	return func(o *Options) { o.Runner = r }
}

// WithTeardownTimeout bounds each fixture release step.
func WithTeardownTimeout(d time.Duration) Option {
	return func(o *Options) { o.TeardownTimeout = d }
}

// RunBenchmarks discovers the suite from source and runs every benchmark whose name
// matches filter, each with totalTasks executors split across workers units for
// duration. It returns one set per benchmark that ran, including failed ones.
func RunBenchmarks(ctx context.Context, source suite.Source, totalTasks, workers int, duration time.Duration, filter string, opts ...Option) ([]results.Set, error) {
	s, err := source.Load(ctx)
	if err != nil {
		return nil, err
	}

	opt := Options{
		TotalTasks: totalTasks,
		Workers:    workers,
		Duration:   duration,
		Filter:     filter,
	}
	for _, apply := range opts {
		apply(&opt)
	}

	rep, err := New(opt).RunAll(ctx, s)
	return rep.Sets, err
}

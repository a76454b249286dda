// Package orchestrator runs every selected benchmark of a suite in turn, fanning
// each one out across worker units and merging their batches into one result set
// per benchmark.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/crankbench/internal/fixture"
	"github.com/torosent/crankbench/internal/results"
	"github.com/torosent/crankbench/internal/runner"
	"github.com/torosent/crankbench/internal/suite"
	"github.com/torosent/crankbench/internal/tracing"
)

// Listener is notified as a run progresses. Calls for one benchmark never overlap
// with calls for another; unit callbacks of one benchmark may run concurrently.
type Listener interface {
	BenchmarkStarted(benchmark string, split []int)
	UnitStarted(benchmark string, worker, tasks int)
	UnitFinished(benchmark string, batch results.Batch, err error)
	BenchmarkFinished(set results.Set)
}

// Options configure a run.
type Options struct {
	TotalTasks      int
	Workers         int
	Duration        time.Duration
	Filter          string
	TeardownTimeout time.Duration
	Runner          runner.Options
	Launcher        Launcher // used when Workers > 1; nil runs units in-process
	Listener        Listener
	Logger          *zap.Logger
	Tracer          trace.Tracer
}

// Report is the outcome of RunAll.
type Report struct {
	RunID    string
	Sets     []results.Set
	Started  time.Time
	Finished time.Time
}

// Orchestrator drives a batch of benchmarks.
type Orchestrator struct {
	opt Options
}

// New creates an orchestrator.
func New(opt Options) *Orchestrator {
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.Tracer == nil {
		opt.Tracer = noop.NewTracerProvider().Tracer("crankbench")
	}
	if opt.Runner.Logger == nil {
		opt.Runner.Logger = opt.Logger
	}
	return &Orchestrator{opt: opt}
}

// RunAll selects benchmarks from s with the configured filter and runs them in
// discovery order. Fixture graphs of every selected benchmark are checked before
// any sampling starts; a configuration error aborts the whole run. A benchmark
// whose unit fails gets a set with Err populated and the run moves on; all such
// failures are returned together once the batch is done.
func (o *Orchestrator) RunAll(ctx context.Context, s *suite.Suite) (rep Report, err error) {
	rep = Report{RunID: ulid.Make().String(), Started: time.Now()}
	defer func() { rep.Finished = time.Now() }()
	log := o.opt.Logger.With(zap.String("run_id", rep.RunID))

	if o.opt.TotalTasks < 1 {
		return rep, fmt.Errorf("total tasks must be >= 1, got %d", o.opt.TotalTasks)
	}
	if o.opt.Workers < 1 {
		return rep, fmt.Errorf("workers must be >= 1, got %d", o.opt.Workers)
	}

	selected := s.Filter(o.opt.Filter)
	if len(selected) == 0 {
		log.Info("nothing to run", zap.String("filter", o.opt.Filter), zap.Int("discovered", s.Len()))
		return rep, nil
	}

	if err := preflight(s, selected); err != nil {
		return rep, err
	}

	resolver := fixture.NewResolver(s,
		fixture.WithTeardownTimeout(o.opt.TeardownTimeout),
		fixture.WithLogger(o.opt.Logger),
	)

	ctx, span := tracing.StartRunSpan(ctx, o.opt.Tracer, rep.RunID, len(selected))
	var failures *multierror.Error
	for _, b := range selected {
		if err := ctx.Err(); err != nil {
			failures = multierror.Append(failures, fmt.Errorf("run interrupted before %q: %w", b.Name, err))
			break
		}
		set := o.runBenchmark(ctx, log, resolver, b)
		rep.Sets = append(rep.Sets, set)
		if set.Err != nil {
			failures = multierror.Append(failures, set.Err)
		}
	}
	err = failures.ErrorOrNil()
	tracing.EndSpan(span, err, attribute.Int("crankbench.sets", len(rep.Sets)))
	return rep, err
}

func preflight(s *suite.Suite, selected []suite.Benchmark) error {
	var errs *multierror.Error
	for _, b := range selected {
		if err := fixture.CheckGraph(s, b.Dependencies); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("benchmark %q: %w", b.Name, err))
		}
	}
	return errs.ErrorOrNil()
}

func (o *Orchestrator) runBenchmark(ctx context.Context, log *zap.Logger, resolver *fixture.Resolver, b suite.Benchmark) results.Set {
	split := SplitTasks(o.opt.TotalTasks, o.opt.Workers)
	log = log.With(zap.String("benchmark", b.Name))
	log.Info("benchmark started", zap.Ints("split", split), zap.Duration("duration", o.opt.Duration))
	if o.opt.Listener != nil {
		o.opt.Listener.BenchmarkStarted(b.Name, split)
	}

	ctx, span := tracing.StartBenchmarkSpan(ctx, o.opt.Tracer, b.Name, o.opt.TotalTasks, o.opt.Workers)

	local := &LocalLauncher{Resolver: resolver, Options: o.opt.Runner}
	batches := make([]results.Batch, len(split))
	var err error
	if len(split) == 1 {
		batches[0], err = o.launch(ctx, local, UnitSpec{Benchmark: b, Worker: 0, Tasks: split[0], Duration: o.opt.Duration})
	} else {
		var launcher Launcher = local
		if o.opt.Launcher != nil {
			launcher = o.opt.Launcher
		}
		g, gctx := errgroup.WithContext(ctx)
		for worker, tasks := range split {
			if tasks == 0 {
				continue
			}
			spec := UnitSpec{Benchmark: b, Worker: worker, Tasks: tasks, Duration: o.opt.Duration}
			g.Go(func() error {
				batch, err := o.launch(gctx, launcher, spec)
				batches[spec.Worker] = batch
				return err
			})
		}
		err = g.Wait()
	}

	set := results.NewSet(b.Name)
	for _, batch := range batches {
		set.Merge(batch)
	}
	if err != nil {
		set.Err = benchmarkError(b.Name, err)
		log.Error("benchmark failed", zap.Error(err), zap.Int("samples", len(set.Samples)))
	} else {
		log.Info("benchmark finished", zap.Int("samples", len(set.Samples)), zap.Int("warnings", len(set.Warnings)))
	}
	for _, w := range set.Warnings {
		log.Warn("fixture teardown failed", zap.String("detail", w))
	}
	tracing.EndSpan(span, err, attribute.Int("crankbench.samples", len(set.Samples)))

	if o.opt.Listener != nil {
		o.opt.Listener.BenchmarkFinished(*set)
	}
	return *set
}

func (o *Orchestrator) launch(ctx context.Context, l Launcher, spec UnitSpec) (results.Batch, error) {
	ctx, span := tracing.StartUnitSpan(ctx, o.opt.Tracer, spec.Benchmark.Name, spec.Worker, spec.Tasks)
	if o.opt.Listener != nil {
		o.opt.Listener.UnitStarted(spec.Benchmark.Name, spec.Worker, spec.Tasks)
	}

	batch, err := l.Launch(ctx, spec)
	batch.Benchmark = spec.Benchmark.Name
	batch.Worker = spec.Worker

	if o.opt.Listener != nil {
		o.opt.Listener.UnitFinished(spec.Benchmark.Name, batch, err)
	}
	tracing.EndSpan(span, err, attribute.Int("crankbench.samples", len(batch.Samples)))
	return batch, err
}

func benchmarkError(name string, err error) error {
	var execErr *runner.ExecutionError
	var workerErr *WorkerError
	if errors.As(err, &execErr) || errors.As(err, &workerErr) {
		return err
	}
	return fmt.Errorf("benchmark %q: %w", name, err)
}

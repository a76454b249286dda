package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/crankbench/internal/fixture"
	"github.com/torosent/crankbench/internal/results"
	"github.com/torosent/crankbench/internal/suite"
)

// Unit hosts concurrent executors for one benchmark.
type Unit struct {
	resolver *fixture.Resolver
	opt      Options
	worker   int
}

// NewUnit creates a worker unit identified by worker.
func NewUnit(resolver *fixture.Resolver, opt Options, worker int) *Unit {
	opt.normalize()
	return &Unit{resolver: resolver, opt: opt, worker: worker}
}

// Run starts tasks executors concurrently, waits for all of them and returns their
// samples concatenated in task-start order. Each executor computes its own deadline
// when it starts. The first failing executor cancels its siblings and its error is
// returned together with whatever samples were collected.
func (u *Unit) Run(ctx context.Context, b suite.Benchmark, tasks int, duration time.Duration) (results.Batch, error) {
	batch := results.Batch{Benchmark: b.Name, Worker: u.worker}
	if tasks <= 0 {
		return batch, nil
	}

	reports := make([]Report, tasks)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < tasks; i++ {
		exec := &Executor{resolver: u.resolver, opt: u.opt, task: i}
		g.Go(func() error {
			rep, err := exec.Run(gctx, b, duration)
			reports[i] = rep
			return err
		})
	}
	err := g.Wait()

	for _, rep := range reports {
		for _, s := range rep.Samples {
			s.Worker = u.worker
			batch.Samples = append(batch.Samples, s)
		}
		for _, tdErr := range rep.Teardown {
			batch.Warnings = append(batch.Warnings, tdErr.Error())
		}
	}

	u.opt.Logger.Debug("worker unit finished",
		zap.String("benchmark", b.Name),
		zap.Int("worker", u.worker),
		zap.Int("tasks", tasks),
		zap.Int("samples", len(batch.Samples)),
		zap.Error(err),
	)
	return batch, err
}

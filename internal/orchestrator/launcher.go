package orchestrator

import (
	"context"
	"time"

	"github.com/torosent/crankbench/internal/fixture"
	"github.com/torosent/crankbench/internal/results"
	"github.com/torosent/crankbench/internal/runner"
	"github.com/torosent/crankbench/internal/suite"
)

// UnitSpec describes one worker unit to start.
type UnitSpec struct {
	Benchmark suite.Benchmark
	Worker    int
	Tasks     int
	Duration  time.Duration
}

// Launcher hosts a worker unit behind some isolation boundary and returns its batch.
type Launcher interface {
	Launch(ctx context.Context, spec UnitSpec) (results.Batch, error)
}

// LocalLauncher runs units in the calling process.
type LocalLauncher struct {
	Resolver *fixture.Resolver
	Options  runner.Options
}

// Launch implements Launcher.
func (l *LocalLauncher) Launch(ctx context.Context, spec UnitSpec) (results.Batch, error) {
	unit := runner.NewUnit(l.Resolver, l.Options, spec.Worker)
	return unit.Run(ctx, spec.Benchmark, spec.Tasks, spec.Duration)
}

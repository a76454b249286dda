// Package runner provides the execution engine that measures a single benchmark.
//
// The runner package is built from two layers:
//   - [Executor]: one duration-bounded loop that resolves the benchmark's fixtures,
//     invokes it back to back until the deadline and releases the fixtures
//   - [Unit]: a worker unit hosting N executors concurrently for one benchmark and
//     concatenating their samples in task-start order
//
// # Basic Usage
//
//	resolver := fixture.NewResolver(s)
//	unit := runner.NewUnit(resolver, runner.Options{}, 0)
//	batch, err := unit.Run(ctx, benchmark, 8, time.Minute)
//
// # Deadline Semantics
//
// The deadline is checked only between invocations. A call already in flight always
// completes, so an executor overruns its duration by at most one call's latency.
// Cancelling ctx stops the loop at the next check in the same way.
//
// # Fixtures
//
// Each executor owns a private [fixture.Cache]. Fixtures are never shared between
// executors, so scoped fixtures are acquired once per executor and released once
// after its loop, whether the loop ended at the deadline or with an error.
//
// # Pacing
//
// By default the loop is unpaced. Setting [Options.RatePerSecond] paces each
// executor independently:
//   - [ArrivalModelUniform]: calls at fixed intervals
//   - [ArrivalModelPoisson]: exponential inter-arrival times
//
// Time spent waiting for the pacer is not counted as latency.
//
// # Error Handling
//
// A failing call is not retried. It ends the executor with an [*ExecutionError];
// the unit cancels its sibling executors and reports the first failure.
package runner

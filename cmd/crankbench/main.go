package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torosent/crankbench/internal/config"
	"github.com/torosent/crankbench/internal/logging"
	"github.com/torosent/crankbench/internal/metrics"
	"github.com/torosent/crankbench/internal/orchestrator"
	"github.com/torosent/crankbench/internal/output"
	"github.com/torosent/crankbench/internal/runner"
	"github.com/torosent/crankbench/internal/script"
	"github.com/torosent/crankbench/internal/stats"
	"github.com/torosent/crankbench/internal/threshold"
	"github.com/torosent/crankbench/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
	workerCommand    = "worker"
)

// errThresholds marks a run whose benchmarks completed but missed a threshold.
var errThresholds = errors.New("thresholds failed")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "crankbench --script bench.yaml --tasks N --workers M --duration D",
		Short:         "Run scripted benchmarks with many concurrent task executors",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader().FromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	config.RegisterFlags(cmd)
	cmd.AddCommand(newWorkerCommand(), newImportHARCommand())
	return cmd
}

func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	logger, err := logging.NewWithWriter(stderr, cfg.LogLevel, cfg.JSONOutput)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	loader := script.NewLoader(
		script.WithLogger(logger),
		script.WithTracer(tp.Tracer()),
		script.WithPropagation(tp.ShouldPropagate()),
	)
	s, err := loader.Source(cfg.Script).Load(ctx)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	prom := metrics.NewPromObserver()
	observer := runner.Observers(collector, prom)

	if cfg.MetricsAddr != "" {
		srv, err := startMetricsServer(cfg.MetricsAddr, prom, logger)
		if err != nil {
			return err
		}
		defer srv.stop()
	}

	opts := orchestrator.Options{
		TotalTasks:      cfg.Tasks,
		Workers:         cfg.Workers,
		Duration:        cfg.Duration,
		Filter:          cfg.Filter,
		TeardownTimeout: cfg.TeardownTimeout,
		Runner: runner.Options{
			RatePerSecond: cfg.Rate,
			ArrivalModel:  runner.ArrivalModel(cfg.Arrival.Model),
			Observer:      observer,
		},
		Listener: &runListener{collector: collector, prom: prom},
		Logger:   logger,
		Tracer:   tp.Tracer(),
	}
	if cfg.Isolation == config.IsolationProcess {
		opts.Launcher = &orchestrator.ProcessLauncher{
			Args: workerArgs(cfg),
			Template: orchestrator.WorkerRequest{
				Script:          cfg.Script,
				Rate:            cfg.Rate,
				ArrivalModel:    string(cfg.Arrival.Model),
				TeardownTimeout: cfg.TeardownTimeout,
			},
			Observer: observer,
			Logger:   logger,
		}
	}

	var progress *output.ProgressReporter
	if !cfg.JSONOutput {
		progress = output.NewProgressReporter(collector, progressInterval, stdout)
		progress.Start()
	}

	collector.Start()
	rep, runErr := orchestrator.New(opts).RunAll(ctx, s)
	if progress != nil {
		progress.Stop()
		fmt.Fprintln(stdout)
	}
	if len(rep.Sets) == 0 && runErr != nil {
		// Nothing ran: a configuration problem or an interrupted start.
		return runErr
	}

	sum := stats.Reduce(rep.Sets)
	report := output.Report{
		RunID:      rep.RunID,
		Started:    rep.Started,
		Duration:   rep.Finished.Sub(rep.Started),
		Summary:    sum,
		Sets:       rep.Sets,
		Live:       collector.All(),
		Thresholds: threshold.NewEvaluator(thresholds).Evaluate(sum),
	}

	if cfg.CSVOutput != "" {
		if err := output.AppendCSV(ctx, cfg.CSVOutput, rep.Sets); err != nil {
			logger.Error("csv export failed", zap.String("path", cfg.CSVOutput), zap.Error(err))
		} else {
			logger.Info("samples written", zap.String("path", cfg.CSVOutput), zap.Int("samples", sum.Total))
		}
	}

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, report); err != nil {
			return err
		}
	} else {
		output.PrintReport(stdout, report)
	}

	if runErr != nil {
		return runErr
	}
	if !threshold.Passed(report.Thresholds) {
		return errThresholds
	}
	return nil
}

package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torosent/crankbench/internal/config"
	"github.com/torosent/crankbench/internal/logging"
	"github.com/torosent/crankbench/internal/orchestrator"
	"github.com/torosent/crankbench/internal/script"
	"github.com/torosent/crankbench/internal/suite"
	"github.com/torosent/crankbench/internal/tracing"
)

// newWorkerCommand is the child side of process isolation. It is spawned by the
// parent run and speaks JSON over stdin/stdout; it is not meant to be run by hand.
func newWorkerCommand() *cobra.Command {
	var (
		logLevel        string
		tracingEndpoint string
		tracingProtocol string
	)
	cmd := &cobra.Command{
		Use:    workerCommand,
		Short:  "Run one worker unit described on stdin",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.NewWithWriter(cmd.ErrOrStderr(), logLevel, true)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			tp, err := tracing.Init(cmd.Context(), config.TracingConfig{
				Endpoint:   tracingEndpoint,
				Protocol:   tracingProtocol,
				SampleRate: 1,
			})
			if err != nil {
				return err
			}
			defer func() { _ = tp.Shutdown(context.Background()) }()

			load := workerLoader(logger, tp)
			return orchestrator.ServeWorker(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), load, logger)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	cmd.Flags().StringVar(&tracingEndpoint, "tracing-endpoint", "", "OTLP collector endpoint")
	cmd.Flags().StringVar(&tracingProtocol, "tracing-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	return cmd
}

func workerLoader(logger *zap.Logger, tp *tracing.Provider) orchestrator.LoadFunc {
	return func(_ context.Context, req orchestrator.WorkerRequest) (*suite.Suite, error) {
		opts := []script.Option{
			script.WithLogger(logger.With(zap.String("benchmark", req.Benchmark), zap.Int("worker", req.Worker))),
			script.WithTracer(tp.Tracer()),
			script.WithPropagation(tp.ShouldPropagate()),
		}
		if req.StrictNames != nil {
			opts = append(opts, script.WithStrictNames(*req.StrictNames))
		}
		return script.NewLoader(opts...).LoadFile(req.Script)
	}
}

// workerArgs builds the arguments the parent passes to each worker process.
func workerArgs(cfg *config.Config) []string {
	args := []string{workerCommand, "--log-level", cfg.LogLevel}
	if cfg.Tracing.Endpoint != "" {
		args = append(args, "--tracing-endpoint", cfg.Tracing.Endpoint, "--tracing-protocol", cfg.Tracing.Protocol)
	}
	return args
}

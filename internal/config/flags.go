package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "crankbench",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.StringP("script", "s", "", "Benchmark script (YAML or JSON)")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Load shape
	flags.IntP("tasks", "t", 1, "Total concurrent task executors per benchmark, split across workers")
	flags.IntP("workers", "w", 1, "Number of worker units per benchmark")
	flags.DurationP("duration", "d", 0, "How long each benchmark runs (e.g. 30s, 1m)")
	flags.StringP("filter", "f", "", "Run only benchmarks whose name matches this pattern or substring")
	flags.String("isolation", string(IsolationGoroutine), "Worker unit isolation: 'goroutine' or 'process'")
	flags.Float64P("rate", "r", 0, "Per-executor calls per second (0 means unpaced)")
	flags.String("arrival-model", string(ArrivalModelUniform), "Arrival model to use when pacing calls (uniform or poisson)")
	flags.Duration("teardown-timeout", 0, "Max time a single fixture teardown may take (0 means unbounded)")

	// Output
	flags.Bool("json-output", false, "Emit JSON formatted output")
	flags.String("csv-output", "", "Append raw samples to the specified CSV file")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.StringSlice("threshold", nil, "Pass/fail thresholds (repeatable, e.g., 'latency:p95 < 500')")

	// Tracing
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 1, "Trace sampling ratio between 0 and 1")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("script") {
		val, err := fs.GetString("script")
		if err != nil {
			return err
		}
		cfg.Script = strings.TrimSpace(val)
	}
	if fs.Changed("tasks") {
		val, err := fs.GetInt("tasks")
		if err != nil {
			return err
		}
		cfg.Tasks = val
	}
	if fs.Changed("workers") {
		val, err := fs.GetInt("workers")
		if err != nil {
			return err
		}
		cfg.Workers = val
	}
	if fs.Changed("duration") {
		val, err := fs.GetDuration("duration")
		if err != nil {
			return err
		}
		cfg.Duration = val
	}
	if fs.Changed("filter") {
		val, err := fs.GetString("filter")
		if err != nil {
			return err
		}
		cfg.Filter = val
	}
	if fs.Changed("isolation") {
		val, err := fs.GetString("isolation")
		if err != nil {
			return err
		}
		cfg.Isolation = Isolation(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("rate") {
		val, err := fs.GetFloat64("rate")
		if err != nil {
			return err
		}
		cfg.Rate = val
	}
	if fs.Changed("arrival-model") {
		val, err := fs.GetString("arrival-model")
		if err != nil {
			return err
		}
		cfg.Arrival.Model = ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("teardown-timeout") {
		val, err := fs.GetDuration("teardown-timeout")
		if err != nil {
			return err
		}
		cfg.TeardownTimeout = val
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("csv-output") {
		val, err := fs.GetString("csv-output")
		if err != nil {
			return err
		}
		cfg.CSVOutput = strings.TrimSpace(val)
	}
	if fs.Changed("metrics-addr") {
		val, err := fs.GetString("metrics-addr")
		if err != nil {
			return err
		}
		cfg.MetricsAddr = strings.TrimSpace(val)
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Isolation selects how worker units are hosted when more than one is used.
type Isolation string

const (
	IsolationGoroutine Isolation = "goroutine"
	IsolationProcess   Isolation = "process"
)

type Config struct {
	Script          string        `mapstructure:"script"`
	Tasks           int           `mapstructure:"tasks"`
	Workers         int           `mapstructure:"workers"`
	Duration        time.Duration `mapstructure:"duration"`
	Filter          string        `mapstructure:"filter"`
	Isolation       Isolation     `mapstructure:"isolation"`
	Rate            float64       `mapstructure:"rate"`
	Arrival         ArrivalConfig `mapstructure:"arrival"`
	TeardownTimeout time.Duration `mapstructure:"teardown_timeout"`
	JSONOutput      bool          `mapstructure:"json_output"`
	CSVOutput       string        `mapstructure:"csv_output"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	LogLevel        string        `mapstructure:"log_level"`
	Thresholds      []string      `mapstructure:"thresholds"`
	Tracing         TracingConfig `mapstructure:"tracing"`
	ConfigFile      string        `mapstructure:"-"`
}

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type ArrivalConfig struct {
	Model ArrivalModel `mapstructure:"model"`
}

// TracingConfig configures OpenTelemetry export. Tracing is enabled when an OTLP
// endpoint is configured here or through OTEL_EXPORTER_OTLP_ENDPOINT.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Propagate   *bool   `mapstructure:"propagate"` // nil follows Enabled()
}

func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether workloads inject W3C trace context into outgoing calls.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate && t.Enabled()
	}
	return t.Enabled()
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string
	var warnings []string

	if strings.TrimSpace(c.Script) == "" {
		issues = append(issues, "script is required (use --help for usage information)")
	}

	if c.Tasks*max(c.Workers, 1) > 5000 {
		warnings = append(warnings, fmt.Sprintf("WARNING: High concurrency configured (%d tasks). Ensure you have authorization to load the target systems.", c.Tasks))
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, w)
	}

	if c.Tasks < 1 {
		issues = append(issues, "tasks must be >= 1")
	}
	if c.Workers < 1 {
		issues = append(issues, "workers must be >= 1")
	}
	if c.Duration <= 0 {
		issues = append(issues, "duration must be > 0")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	if c.TeardownTimeout < 0 {
		issues = append(issues, "teardown_timeout must be >= 0")
	}
	switch c.Isolation {
	case "", IsolationGoroutine, IsolationProcess:
	default:
		issues = append(issues, fmt.Sprintf("isolation must be 'goroutine' or 'process', got %q", c.Isolation))
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log_level %q is not supported", c.LogLevel))
	}

	issues = append(issues, validateArrivalConfig(c.Arrival)...)
	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateArrivalConfig(arr ArrivalConfig) []string {
	model := arr.Model
	if model == "" {
		model = ArrivalModelUniform
	}
	switch model {
	case ArrivalModelUniform, ArrivalModelPoisson:
		return nil
	default:
		return []string{fmt.Sprintf("arrival model %q is not supported", model)}
	}
}

func validateTracingConfig(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, "tracing: sample_rate must be between 0.0 and 1.0")
	}
	return issues
}

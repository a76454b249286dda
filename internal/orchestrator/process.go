package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/crankbench/internal/fixture"
	"github.com/torosent/crankbench/internal/results"
	"github.com/torosent/crankbench/internal/runner"
	"github.com/torosent/crankbench/internal/suite"
)

const (
	defaultWaitDelay = 10 * time.Second
	maxStderrTail    = 2048
)

// Error kinds reported by worker processes.
const (
	KindDiscovery = "discovery"
	KindConfig    = "config"
	KindExecution = "execution"
	KindProcess   = "process"
)

// WorkerRequest is written to a worker process on stdin.
type WorkerRequest struct {
	Benchmark       string        `json:"benchmark"`
	Worker          int           `json:"worker"`
	Tasks           int           `json:"tasks"`
	Duration        time.Duration `json:"duration"`
	Script          string        `json:"script,omitempty"`
	StrictNames     *bool         `json:"strict_names,omitempty"`
	Rate            float64       `json:"rate,omitempty"`
	ArrivalModel    string        `json:"arrival_model,omitempty"`
	TeardownTimeout time.Duration `json:"teardown_timeout,omitempty"`
}

// WorkerReply is read back from a worker process on stdout.
type WorkerReply struct {
	Batch     results.Batch `json:"batch"`
	Error     string        `json:"error,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
}

// WorkerError is a unit failure reported across a process boundary. The original
// error type does not survive serialization; Kind tells the broad category.
type WorkerError struct {
	Benchmark string
	Worker    int
	Kind      string
	Message   string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("benchmark %q worker %d (%s): %s", e.Benchmark, e.Worker, e.Kind, e.Message)
}

// ProcessLauncher runs each worker unit in a child process speaking the
// WorkerRequest/WorkerReply protocol, typically "crankbench worker".
type ProcessLauncher struct {
	Path      string   // executable; defaults to the running binary
	Args      []string // arguments selecting worker mode
	Env       []string // nil inherits the parent environment
	Template  WorkerRequest
	Observer  runner.Observer // receives replayed calls once a unit returns
	Logger    *zap.Logger
	WaitDelay time.Duration // grace period after interrupt before the child is killed
}

// Launch implements Launcher. Cancelling ctx interrupts the child, which stops its
// executors between calls, releases fixtures and still replies.
func (p *ProcessLauncher) Launch(ctx context.Context, spec UnitSpec) (results.Batch, error) {
	empty := results.Batch{Benchmark: spec.Benchmark.Name, Worker: spec.Worker}
	fail := func(kind, msg string) error {
		return &WorkerError{Benchmark: spec.Benchmark.Name, Worker: spec.Worker, Kind: kind, Message: msg}
	}

	req := p.Template
	req.Benchmark = spec.Benchmark.Name
	req.Worker = spec.Worker
	req.Tasks = spec.Tasks
	req.Duration = spec.Duration
	payload, err := json.Marshal(req)
	if err != nil {
		return empty, fail(KindProcess, err.Error())
	}

	path := p.Path
	if path == "" {
		if path, err = os.Executable(); err != nil {
			return empty, fail(KindProcess, err.Error())
		}
	}

	cmd := exec.CommandContext(ctx, path, p.Args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = p.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}
	cmd.Env = p.Env
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("starting worker process", zap.String("path", path), zap.String("benchmark", req.Benchmark), zap.Int("worker", req.Worker))

	runErr := cmd.Run()
	var reply WorkerReply
	if decErr := json.Unmarshal(stdout.Bytes(), &reply); decErr != nil {
		cause := runErr
		if cause == nil {
			cause = fmt.Errorf("invalid reply: %w", decErr)
		}
		return empty, fail(KindProcess, fmt.Sprintf("%v%s", cause, stderrTail(stderr.String())))
	}

	batch := reply.Batch
	batch.Benchmark = spec.Benchmark.Name
	batch.Worker = spec.Worker
	if p.Observer != nil {
		for _, s := range batch.Samples {
			p.Observer.Observe(batch.Benchmark, s.Latency, nil)
		}
		if reply.ErrorKind == KindExecution {
			p.Observer.Observe(batch.Benchmark, 0, errors.New(reply.Error))
		}
	}

	if reply.Error != "" {
		return batch, fail(reply.ErrorKind, reply.Error)
	}
	if runErr != nil {
		return batch, fail(KindProcess, fmt.Sprintf("%v%s", runErr, stderrTail(stderr.String())))
	}
	return batch, nil
}

func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) > maxStderrTail {
		s = "..." + s[len(s)-maxStderrTail:]
	}
	return ": " + s
}

// LoadFunc discovers the suite a worker process runs from.
type LoadFunc func(ctx context.Context, req WorkerRequest) (*suite.Suite, error)

// ServeWorker is the child side of ProcessLauncher: it reads one WorkerRequest from
// in, runs the unit and writes one WorkerReply to out. Unit failures are reported
// in the reply; the returned error is only about the protocol itself.
func ServeWorker(ctx context.Context, in io.Reader, out io.Writer, load LoadFunc, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	var req WorkerRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("decode worker request: %w", err)
	}

	reply := WorkerReply{Batch: results.Batch{Benchmark: req.Benchmark, Worker: req.Worker}}
	batch, err := serveUnit(ctx, req, load, logger)
	if err != nil {
		reply.Error = err.Error()
		reply.ErrorKind = errorKind(err)
	}
	if batch.Benchmark != "" {
		reply.Batch = batch
	}
	sanitizeValues(reply.Batch.Samples)

	if err := json.NewEncoder(out).Encode(reply); err != nil {
		return fmt.Errorf("encode worker reply: %w", err)
	}
	return nil
}

func serveUnit(ctx context.Context, req WorkerRequest, load LoadFunc, logger *zap.Logger) (results.Batch, error) {
	s, err := load(ctx, req)
	if err != nil {
		return results.Batch{}, err
	}
	b, ok := s.Benchmark(req.Benchmark)
	if !ok {
		return results.Batch{}, &fixture.ConfigError{Reason: fmt.Sprintf("benchmark %q is not declared", req.Benchmark)}
	}
	if err := fixture.CheckGraph(s, b.Dependencies); err != nil {
		return results.Batch{}, err
	}

	resolver := fixture.NewResolver(s,
		fixture.WithTeardownTimeout(req.TeardownTimeout),
		fixture.WithLogger(logger),
	)
	unit := runner.NewUnit(resolver, runner.Options{
		RatePerSecond: req.Rate,
		ArrivalModel:  runner.ArrivalModel(req.ArrivalModel),
		Logger:        logger,
	}, req.Worker)
	return unit.Run(ctx, b, req.Tasks, req.Duration)
}

func errorKind(err error) string {
	var discErr *suite.DiscoveryError
	switch {
	case errors.As(err, &discErr):
		return KindDiscovery
	case fixture.IsConfigError(err):
		return KindConfig
	default:
		return KindExecution
	}
}

// sanitizeValues replaces return values that cannot be encoded with their
// printed form.
func sanitizeValues(samples []results.Sample) {
	for i := range samples {
		if samples[i].Value == nil {
			continue
		}
		if _, err := json.Marshal(samples[i].Value); err != nil {
			samples[i].Value = fmt.Sprint(samples[i].Value)
		}
	}
}

package script

import (
	"context"
	"fmt"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/crankbench/internal/tracing"
)

// valueType tags what a fixture type produces and what consumers expect.
type valueType string

const (
	typeAny       valueType = "any"
	typeString    valueType = "string"
	typeHTTP      valueType = "http_client"
	typeWebSocket valueType = "websocket"
	typeGRPC      valueType = "grpc_conn"
	typeRedis     valueType = "redis"
	typePostgres  valueType = "postgres"
	typeDataset   valueType = "dataset"
	typeSSE       valueType = "sse"
)

func (t valueType) accepts(got valueType) bool {
	return t == typeAny || got == typeAny || t == got
}

// input is one positional argument a fixture type or action reads.
type input struct {
	typ      valueType
	optional bool
}

// ExpectationError reports a call that completed but returned something the
// script declared unacceptable.
type ExpectationError struct {
	Action string
	Want   string
	Got    string
}

func (e *ExpectationError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Action, e.Want, e.Got)
}

type buildEnv struct {
	owner     string
	baseDir   string
	logger    *zap.Logger
	tracer    trace.Tracer
	propagate bool
}

// span starts a client span when tracing is on. The returned func ends it.
func (e buildEnv) span(ctx context.Context, protocol, endpoint string) (context.Context, func(error)) {
	if e.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := tracing.StartRequestSpan(ctx, e.tracer, protocol, endpoint)
	return ctx, func(err error) { tracing.EndSpan(span, err) }
}

// resolve makes a relative path relative to the script's directory.
func (e buildEnv) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || e.baseDir == "" {
		return path
	}
	return filepath.Join(e.baseDir, path)
}

func argAs[T any](args []any, i int, what valueType) (T, error) {
	var zero T
	if i >= len(args) {
		return zero, fmt.Errorf("missing argument %d (%s)", i+1, what)
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, fmt.Errorf("argument %d must be a %s, got %T", i+1, what, args[i])
	}
	return v, nil
}

// addressFrom returns the static address, or the first argument when it is a
// string and no static address was configured.
func addressFrom(static string, args []any, what string) (string, error) {
	if static != "" {
		return static, nil
	}
	if len(args) > 0 {
		if s, ok := args[0].(string); ok && s != "" {
			return s, nil
		}
		return "", fmt.Errorf("%s must come from params or a string dependency, got %T", what, args[0])
	}
	return "", fmt.Errorf("%s is required", what)
}

package runner

import "fmt"

// HTTPError represents an HTTP request failure with status details.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// ExecutionError reports a benchmark call that failed during the measurement loop.
type ExecutionError struct {
	Benchmark string
	Calls     int // successful calls before the failure
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("benchmark %q failed after %d calls: %v", e.Benchmark, e.Calls, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

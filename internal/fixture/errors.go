package fixture

import "fmt"

// ConfigError reports an invalid fixture graph: a dependency cycle, an undeclared
// fixture, or a descriptor whose shape does not match its kind.
type ConfigError struct {
	Fixture string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Fixture == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: fixture %q: %s", e.Fixture, e.Reason)
}

// ProduceError wraps a failure raised by a fixture's produce or acquire step.
type ProduceError struct {
	Fixture string
	Err     error
}

func (e *ProduceError) Error() string {
	return fmt.Sprintf("fixture %q setup failed: %v", e.Fixture, e.Err)
}

func (e *ProduceError) Unwrap() error { return e.Err }

// TeardownError reports a release step that failed, panicked or did not finish in
// time. It never aborts a run.
type TeardownError struct {
	Fixture string
	Err     error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("fixture %q teardown failed: %v", e.Fixture, e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }

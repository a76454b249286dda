package suite

import (
	"context"
	"fmt"
)

// Source discovers a suite from a user-provided artifact.
type Source interface {
	Load(ctx context.Context) (*Suite, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*Suite, error)

// Load implements Source.
func (f SourceFunc) Load(ctx context.Context) (*Suite, error) {
	return f(ctx)
}

// Static returns a Source that always yields s.
func Static(s *Suite) Source {
	return SourceFunc(func(context.Context) (*Suite, error) { return s, nil })
}

// DiscoveryError reports a source artifact that could not be loaded or parsed.
type DiscoveryError struct {
	Source string
	Err    error
}

func (e *DiscoveryError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("discovery failed: %v", e.Err)
	}
	return fmt.Sprintf("discovery failed for %s: %v", e.Source, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Package fixture resolves the named setup/teardown dependencies that benchmarks
// request.
//
// A fixture is declared with a [Descriptor]. A [OneShot] fixture produces one value
// and has no teardown step. A [Scoped] fixture acquires a value together with a
// [ReleaseFunc] that the owning executor calls exactly once after its measurement
// loop ends, on every exit path.
//
// Resolved values live in a [Cache] owned by a single task executor. Caches are never
// shared, so a [Resolver] needs no locking: each executor resolves its own graph.
package fixture

import (
	"context"
	"fmt"
	"strings"
)

// Kind selects the lifecycle of a fixture.
type Kind int

const (
	// OneShot fixtures return a value once and have no teardown step.
	OneShot Kind = iota
	// Scoped fixtures return a value and a release step run after the loop.
	Scoped
)

func (k Kind) String() string {
	switch k {
	case OneShot:
		return "one_shot"
	case Scoped:
		return "scoped"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind converts a textual kind ("one_shot", "scoped") into a Kind.
// An empty string selects OneShot.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "one_shot", "oneshot", "one-shot":
		return OneShot, nil
	case "scoped":
		return Scoped, nil
	default:
		return OneShot, fmt.Errorf("unknown fixture kind %q (expected one_shot or scoped)", s)
	}
}

// ProduceFunc builds a one-shot fixture value from its resolved dependencies.
type ProduceFunc func(ctx context.Context, args []any) (any, error)

// AcquireFunc builds a scoped fixture value and the step that releases it.
// A nil ReleaseFunc means there is nothing to tear down.
type AcquireFunc func(ctx context.Context, args []any) (any, ReleaseFunc, error)

// ReleaseFunc tears down a scoped fixture. It is called at most once.
type ReleaseFunc func(ctx context.Context) error

// Descriptor declares a fixture. Dependencies are resolved depth-first in order and
// passed positionally to Produce or Acquire.
type Descriptor struct {
	Name         string
	Dependencies []string
	Kind         Kind
	Produce      ProduceFunc
	Acquire      AcquireFunc
}

// Validate reports a *ConfigError when the descriptor's shape does not match its kind.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return &ConfigError{Reason: "fixture name is required"}
	}
	switch d.Kind {
	case OneShot:
		if d.Produce == nil || d.Acquire != nil {
			return &ConfigError{Fixture: d.Name, Reason: "one_shot fixture must define exactly a produce step"}
		}
	case Scoped:
		if d.Acquire == nil || d.Produce != nil {
			return &ConfigError{Fixture: d.Name, Reason: "scoped fixture must define exactly an acquire step"}
		}
	default:
		return &ConfigError{Fixture: d.Name, Reason: fmt.Sprintf("unsupported fixture kind %s", d.Kind)}
	}
	for _, dep := range d.Dependencies {
		if strings.TrimSpace(dep) == "" {
			return &ConfigError{Fixture: d.Name, Reason: "empty dependency name"}
		}
	}
	return nil
}

// Lookup finds fixture descriptors by name.
type Lookup interface {
	Fixture(name string) (Descriptor, bool)
}

// Set is a map-backed Lookup.
type Set map[string]Descriptor

// Fixture implements Lookup.
func (s Set) Fixture(name string) (Descriptor, bool) {
	d, ok := s[name]
	return d, ok
}

// Add registers d under its own name, replacing any previous declaration.
func (s Set) Add(d Descriptor) {
	s[d.Name] = d
}

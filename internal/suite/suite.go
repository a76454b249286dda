// Package suite holds the benchmarks and fixtures discovered from a benchmark source.
package suite

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/torosent/crankbench/internal/fixture"
)

// InvokeFunc runs one benchmark call with its resolved fixtures passed positionally.
// The returned value is recorded with the sample.
type InvokeFunc func(ctx context.Context, args []any) (any, error)

// Benchmark is a named unit of work measured under repeated invocation.
type Benchmark struct {
	Name         string
	Dependencies []string
	Invoke       InvokeFunc
}

// Suite is an ordered set of benchmarks plus the fixtures they may request.
// A Suite is built once during discovery and read-only afterwards.
type Suite struct {
	benchmarks []Benchmark
	index      map[string]int
	fixtures   fixture.Set
}

// New returns an empty suite.
func New() *Suite {
	return &Suite{
		index:    make(map[string]int),
		fixtures: fixture.Set{},
	}
}

// AddBenchmark appends b. Names must be unique within the suite.
func (s *Suite) AddBenchmark(b Benchmark) error {
	name := strings.TrimSpace(b.Name)
	if name == "" {
		return fmt.Errorf("benchmark name is required")
	}
	if b.Invoke == nil {
		return fmt.Errorf("benchmark %q has no invocable", name)
	}
	if _, exists := s.index[name]; exists {
		return fmt.Errorf("benchmark %q declared twice", name)
	}
	b.Name = name
	b.Dependencies = append([]string(nil), b.Dependencies...)
	s.index[name] = len(s.benchmarks)
	s.benchmarks = append(s.benchmarks, b)
	return nil
}

// AddFixture registers d. Fixture names must be unique within the suite.
func (s *Suite) AddFixture(d fixture.Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, exists := s.fixtures[d.Name]; exists {
		return fmt.Errorf("fixture %q declared twice", d.Name)
	}
	d.Dependencies = append([]string(nil), d.Dependencies...)
	s.fixtures.Add(d)
	return nil
}

// Fixture implements fixture.Lookup.
func (s *Suite) Fixture(name string) (fixture.Descriptor, bool) {
	return s.fixtures.Fixture(name)
}

// Benchmark returns the benchmark registered under name.
func (s *Suite) Benchmark(name string) (Benchmark, bool) {
	i, ok := s.index[name]
	if !ok {
		return Benchmark{}, false
	}
	return s.benchmarks[i], true
}

// Benchmarks returns all benchmarks in discovery order.
func (s *Suite) Benchmarks() []Benchmark {
	return append([]Benchmark(nil), s.benchmarks...)
}

// Len returns the number of benchmarks.
func (s *Suite) Len() int {
	return len(s.benchmarks)
}

// Filter returns, in discovery order, the benchmarks whose name matches pattern.
// An empty pattern selects everything.
func (s *Suite) Filter(pattern string) []Benchmark {
	if pattern == "" {
		return s.Benchmarks()
	}
	m := NewMatcher(pattern)
	var selected []Benchmark
	for _, b := range s.benchmarks {
		if m.Match(b.Name) {
			selected = append(selected, b)
		}
	}
	return selected
}

// Matcher selects benchmark names. A name matches when the pattern, read as a
// regular expression, matches at the start of the name, or when the name contains
// the pattern literally. Patterns that fail to compile fall back to the literal test.
type Matcher struct {
	pattern string
	re      *regexp.Regexp
}

// NewMatcher compiles pattern.
func NewMatcher(pattern string) Matcher {
	m := Matcher{pattern: pattern}
	if re, err := regexp.Compile(`^(?:` + pattern + `)`); err == nil {
		m.re = re
	}
	return m
}

// Match reports whether name is selected.
func (m Matcher) Match(name string) bool {
	if m.pattern == "" {
		return true
	}
	if m.re != nil && m.re.MatchString(name) {
		return true
	}
	return strings.Contains(name, m.pattern)
}

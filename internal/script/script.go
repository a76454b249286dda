// Package script discovers benchmark suites from YAML (or JSON) script files.
//
// A script declares fixtures and benchmarks by type:
//
//	fixtures:
//	  - name: api
//	    type: http_client
//	    params: {base_url: "http://localhost:8080", timeout: 5s}
//	benchmarks:
//	  - name: benchmark_list_users
//	    depends_on: [api]
//	    action: http_request
//	    params: {method: GET, path: /users, extract: "data.0.id"}
//
// Dependencies are resolved by the fixture package and passed positionally in
// depends_on order. Each action and fixture type declares which argument types it
// consumes; mismatches are reported when the script is loaded.
package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/torosent/crankbench/internal/fixture"
	"github.com/torosent/crankbench/internal/suite"
)

// BenchmarkPrefix is required on benchmark names unless strict naming is off.
const BenchmarkPrefix = "benchmark_"

var reservedSuffixes = []string{"_setup", "_teardown"}

// Document is the decoded form of a script file.
type Document struct {
	StrictNames *bool           `yaml:"strict_names,omitempty"`
	Fixtures    []FixtureSpec   `yaml:"fixtures,omitempty"`
	Benchmarks  []BenchmarkSpec `yaml:"benchmarks"`
}

// FixtureSpec declares one fixture.
type FixtureSpec struct {
	Name      string         `yaml:"name"`
	Type      string         `yaml:"type"`
	Kind      string         `yaml:"kind,omitempty"`
	DependsOn []string       `yaml:"depends_on,omitempty"`
	Params    map[string]any `yaml:"params,omitempty"`
}

// BenchmarkSpec declares one benchmark.
type BenchmarkSpec struct {
	Name      string         `yaml:"name"`
	Action    string         `yaml:"action"`
	DependsOn []string       `yaml:"depends_on,omitempty"`
	Params    map[string]any `yaml:"params,omitempty"`
}

// Option configures a Loader.
type Option func(*Loader)

// WithStrictNames overrides the document's strict_names setting.
func WithStrictNames(strict bool) Option {
	return func(l *Loader) { l.strict = &strict }
}

// WithLogger sets the logger used by fixtures and actions.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithTracer makes network actions record one client span per call.
func WithTracer(tracer trace.Tracer) Option {
	return func(l *Loader) { l.tracer = tracer }
}

// WithPropagation injects trace context into outgoing HTTP headers and gRPC
// metadata.
func WithPropagation(enabled bool) Option {
	return func(l *Loader) { l.propagate = enabled }
}

// Loader turns script documents into suites.
type Loader struct {
	strict    *bool
	logger    *zap.Logger
	tracer    trace.Tracer
	propagate bool
	baseDir   string
}

// NewLoader creates a loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Source returns a suite.Source reading path on every Load.
func (l *Loader) Source(path string) suite.Source {
	return suite.SourceFunc(func(ctx context.Context) (*suite.Suite, error) {
		return l.LoadFile(path)
	})
}

// LoadFile reads and parses the script at path.
func (l *Loader) LoadFile(path string) (*suite.Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &suite.DiscoveryError{Source: path, Err: err}
	}
	return l.parse(data, path, filepath.Dir(path))
}

// Parse builds a suite from script content. source names the content in errors.
// Relative file params resolve against the working directory.
func (l *Loader) Parse(data []byte, source string) (*suite.Suite, error) {
	return l.parse(data, source, "")
}

func (l *Loader) parse(data []byte, source, baseDir string) (*suite.Suite, error) {
	doc, err := decode(data)
	if err != nil {
		return nil, &suite.DiscoveryError{Source: source, Err: err}
	}
	b := *l
	b.baseDir = baseDir
	s, err := b.build(doc)
	if err != nil {
		return nil, &suite.DiscoveryError{Source: source, Err: err}
	}
	return s, nil
}

func decode(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("script is empty")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("script is empty")
		}
		return nil, fmt.Errorf("parse script: %w", err)
	}
	return &doc, nil
}

func (l *Loader) build(doc *Document) (*suite.Suite, error) {
	strict := true
	if doc.StrictNames != nil {
		strict = *doc.StrictNames
	}
	if l.strict != nil {
		strict = *l.strict
	}

	s := suite.New()
	outputs := make(map[string]valueType, len(doc.Fixtures))
	for i, spec := range doc.Fixtures {
		if strings.TrimSpace(spec.Name) == "" {
			return nil, fmt.Errorf("fixtures[%d]: name is required", i)
		}
		ft, ok := fixtureTypes[spec.Type]
		if !ok {
			return nil, fmt.Errorf("fixture %q: unknown type %q (known: %s)", spec.Name, spec.Type, strings.Join(fixtureTypeNames(), ", "))
		}
		desc, err := l.buildFixture(spec, ft)
		if err != nil {
			return nil, err
		}
		if err := s.AddFixture(desc); err != nil {
			return nil, err
		}
		outputs[spec.Name] = ft.output
	}

	for _, spec := range doc.Fixtures {
		ft := fixtureTypes[spec.Type]
		if err := checkInputs("fixture "+spec.Name, ft.inputs, spec.DependsOn, outputs); err != nil {
			return nil, err
		}
	}

	for i, spec := range doc.Benchmarks {
		if err := checkBenchmarkName(spec.Name, strict); err != nil {
			return nil, fmt.Errorf("benchmarks[%d]: %w", i, err)
		}
		at, ok := actionTypes[spec.Action]
		if !ok {
			return nil, fmt.Errorf("benchmark %q: unknown action %q (known: %s)", spec.Name, spec.Action, strings.Join(actionTypeNames(), ", "))
		}
		if err := checkInputs("benchmark "+spec.Name, at.inputs, spec.DependsOn, outputs); err != nil {
			return nil, err
		}
		p := newParams("benchmark "+spec.Name, spec.Params)
		invoke, err := at.build(p, l.env(spec.Name))
		if err != nil {
			return nil, err
		}
		if err := p.Unused(); err != nil {
			return nil, err
		}
		if err := s.AddBenchmark(suite.Benchmark{Name: spec.Name, Dependencies: spec.DependsOn, Invoke: invoke}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (l *Loader) buildFixture(spec FixtureSpec, ft fixtureType) (fixture.Descriptor, error) {
	kind := ft.kind
	if spec.Kind != "" {
		parsed, err := fixture.ParseKind(spec.Kind)
		if err != nil {
			return fixture.Descriptor{}, fmt.Errorf("fixture %q: %w", spec.Name, err)
		}
		if parsed != ft.kind {
			return fixture.Descriptor{}, fmt.Errorf("fixture %q: type %s is %s, not %s", spec.Name, spec.Type, ft.kind, parsed)
		}
	}

	p := newParams("fixture "+spec.Name, spec.Params)
	desc := fixture.Descriptor{Name: spec.Name, Dependencies: spec.DependsOn, Kind: kind}
	env := l.env(spec.Name)
	var err error
	switch kind {
	case fixture.OneShot:
		desc.Produce, err = ft.produce(p, env)
	case fixture.Scoped:
		desc.Acquire, err = ft.acquire(p, env, len(spec.DependsOn) > 0)
	}
	if err != nil {
		return fixture.Descriptor{}, err
	}
	if err := p.Unused(); err != nil {
		return fixture.Descriptor{}, err
	}
	return desc, nil
}

func (l *Loader) env(owner string) buildEnv {
	return buildEnv{
		owner:     owner,
		baseDir:   l.baseDir,
		logger:    l.logger.With(zap.String("owner", owner)),
		tracer:    l.tracer,
		propagate: l.propagate,
	}
}

func checkBenchmarkName(name string, strict bool) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("benchmark name is required")
	}
	if !strict {
		return nil
	}
	if !strings.HasPrefix(name, BenchmarkPrefix) {
		return fmt.Errorf("benchmark %q must start with %q (set strict_names: false to allow any name)", name, BenchmarkPrefix)
	}
	for _, suffix := range reservedSuffixes {
		if strings.HasSuffix(name, suffix) {
			return fmt.Errorf("benchmark %q must not end with %q", name, suffix)
		}
	}
	return nil
}

// checkInputs verifies the declared output type of each positional dependency
// the consumer reads. Undeclared fixtures are left to the graph check.
func checkInputs(owner string, inputs []input, deps []string, outputs map[string]valueType) error {
	for i, in := range inputs {
		if i >= len(deps) {
			if in.optional {
				continue
			}
			return fmt.Errorf("%s: argument %d must be a %s fixture, but only %d dependencies are declared", owner, i+1, in.typ, len(deps))
		}
		got, declared := outputs[deps[i]]
		if !declared {
			continue
		}
		if !in.typ.accepts(got) {
			return fmt.Errorf("%s: argument %d (%s) is a %s fixture, want %s", owner, i+1, deps[i], got, in.typ)
		}
	}
	return nil
}

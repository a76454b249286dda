// Package results defines the samples produced by task executors and the
// per-unit and per-benchmark collections they are merged into.
package results

import "time"

// Sample is one benchmark invocation.
type Sample struct {
	Timestamp time.Time     `json:"timestamp"`
	Latency   time.Duration `json:"latency"`
	Value     any           `json:"value,omitempty"`
	Worker    int           `json:"worker"`
	Task      int           `json:"task"`
}

// Seconds returns the invocation start as float seconds since the Unix epoch.
func (s Sample) Seconds() float64 {
	return float64(s.Timestamp.UnixNano()) / float64(time.Second)
}

// LatencyMs returns the latency in milliseconds.
func (s Sample) LatencyMs() float64 {
	return float64(s.Latency) / float64(time.Millisecond)
}

// Batch is the output of one worker unit for one benchmark: the samples of all its
// executors, concatenated in task-start order.
type Batch struct {
	Benchmark string   `json:"benchmark"`
	Worker    int      `json:"worker"`
	Samples   []Sample `json:"samples"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Set holds every sample collected for one benchmark. Err is non-nil when the
// benchmark failed; the samples gathered before the failure are kept for inspection.
type Set struct {
	Benchmark string
	Samples   []Sample
	Warnings  []string
	Err       error
}

// NewSet returns an empty set for benchmark.
func NewSet(benchmark string) *Set {
	return &Set{Benchmark: benchmark}
}

// Merge appends b without reordering, tagging each sample with b.Worker.
func (s *Set) Merge(b Batch) {
	for _, sample := range b.Samples {
		sample.Worker = b.Worker
		s.Samples = append(s.Samples, sample)
	}
	s.Warnings = append(s.Warnings, b.Warnings...)
}

// Failed reports whether the benchmark run ended with an error.
func (s Set) Failed() bool {
	return s.Err != nil
}

// Succeeded returns the sets that completed without error.
func Succeeded(sets []Set) []Set {
	var ok []Set
	for _, s := range sets {
		if !s.Failed() {
			ok = append(ok, s)
		}
	}
	return ok
}

// Total returns the number of samples across sets.
func Total(sets []Set) int {
	n := 0
	for _, s := range sets {
		n += len(s.Samples)
	}
	return n
}

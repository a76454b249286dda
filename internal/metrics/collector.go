package metrics

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Collector aggregates live call metrics per benchmark while a run is in progress.
// It is safe for concurrent use and satisfies runner.Observer. Each benchmark's
// series is split into shards with their own lock so that concurrent executors
// rarely contend; Stats merges the shards.
type Collector struct {
	mu         sync.RWMutex
	benchmarks map[string]*series
	current    string
	start      time.Time
}

type series struct {
	next   atomic.Uint64
	shards []*shard
}

type shard struct {
	mu           sync.Mutex
	hist         *hdrhistogram.Histogram
	successes    int64
	failures     int64
	minLatency   time.Duration
	maxLatency   time.Duration
	sumLatency   time.Duration
	errorsByType map[string]int64
	first        time.Time
	last         time.Time
}

// Stats represents aggregated live metrics for one benchmark.
type Stats struct {
	Benchmark      string        `json:"benchmark"`
	Total          int64         `json:"total"`
	Successes      int64         `json:"successes"`
	Failures       int64         `json:"failures"`
	MinLatency     time.Duration `json:"-"`
	MaxLatency     time.Duration `json:"-"`
	MeanLatency    time.Duration `json:"-"`
	P50Latency     time.Duration `json:"-"`
	P90Latency     time.Duration `json:"-"`
	P99Latency     time.Duration `json:"-"`
	Duration       time.Duration `json:"-"`
	CallsPerSecond float64       `json:"calls_per_sec"`

	MinLatencyMs  float64        `json:"min_latency_ms"`
	MaxLatencyMs  float64        `json:"max_latency_ms"`
	MeanLatencyMs float64        `json:"mean_latency_ms"`
	P50LatencyMs  float64        `json:"p50_latency_ms"`
	P90LatencyMs  float64        `json:"p90_latency_ms"`
	P99LatencyMs  float64        `json:"p99_latency_ms"`
	DurationMs    float64        `json:"duration_ms"`
	Errors        map[string]int `json:"errors,omitempty"`
}

func NewCollector() *Collector {
	return &Collector{
		benchmarks: make(map[string]*series),
		start:      time.Now(),
	}
}

const maxShards = 8

func newSeries() *series {
	n := min(runtime.GOMAXPROCS(0), maxShards)
	s := &series{shards: make([]*shard, n)}
	for i := range s.shards {
		s.shards[i] = &shard{
			hist:         newHistogram(),
			errorsByType: make(map[string]int64),
		}
	}
	return s
}

// Track latencies from 1µs up to 60s with 3 significant figures.
func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(1, 60_000_000, 3)
}

// Start resets the run clock.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()
}

// Begin marks benchmark as the one currently running.
func (c *Collector) Begin(benchmark string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = benchmark
	if _, ok := c.benchmarks[benchmark]; !ok {
		c.benchmarks[benchmark] = newSeries()
	}
}

// Current returns the benchmark most recently passed to Begin.
func (c *Collector) Current() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Observe records a single call's latency and error state.
func (c *Collector) Observe(benchmark string, latency time.Duration, err error) {
	now := time.Now()
	sh := c.series(benchmark).pick()
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.first.IsZero() {
		sh.first = now.Add(-latency)
	}
	sh.last = now

	if latency > 0 {
		us := latency.Microseconds()
		if us < sh.hist.LowestTrackableValue() {
			us = sh.hist.LowestTrackableValue()
		}
		if us > sh.hist.HighestTrackableValue() {
			us = sh.hist.HighestTrackableValue()
		}
		_ = sh.hist.RecordValue(us)
	}
	sh.sumLatency += latency

	if sh.minLatency == 0 || latency < sh.minLatency {
		sh.minLatency = latency
	}
	if latency > sh.maxLatency {
		sh.maxLatency = latency
	}

	if err == nil {
		sh.successes++
	} else {
		sh.failures++
		sh.errorsByType[FriendlyErrorName(fmt.Sprintf("%T", err))]++
	}
}

func (c *Collector) series(benchmark string) *series {
	c.mu.RLock()
	s, ok := c.benchmarks[benchmark]
	c.mu.RUnlock()
	if ok {
		return s
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.benchmarks[benchmark]; !ok {
		s = newSeries()
		c.benchmarks[benchmark] = s
	}
	return s
}

// pick spreads consecutive observations over the shards round-robin.
func (s *series) pick() *shard {
	return s.shards[s.next.Add(1)%uint64(len(s.shards))]
}

// Stats returns live statistics for benchmark. The rate is computed over the span
// between the benchmark's first call start and its latest completion.
func (c *Collector) Stats(benchmark string) Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.benchmarks[benchmark]
	if !ok {
		return Stats{Benchmark: benchmark}
	}
	return s.stats(benchmark)
}

// All returns statistics for every observed benchmark sorted by name.
func (c *Collector) All() []Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.benchmarks))
	for name := range c.benchmarks {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Stats, 0, len(names))
	for _, name := range names {
		out = append(out, c.benchmarks[name].stats(name))
	}
	return out
}

// Elapsed returns the time since Start.
func (c *Collector) Elapsed() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.start)
}

func (s *series) stats(benchmark string) Stats {
	hist := newHistogram()
	errorsByType := make(map[string]int64)
	var successes, failures int64
	var minLat, maxLat, sumLat time.Duration
	var first, last time.Time
	for _, sh := range s.shards {
		sh.mu.Lock()
		if sh.successes+sh.failures > 0 {
			hist.Merge(sh.hist)
			successes += sh.successes
			failures += sh.failures
			sumLat += sh.sumLatency
			if minLat == 0 || (sh.minLatency > 0 && sh.minLatency < minLat) {
				minLat = sh.minLatency
			}
			maxLat = max(maxLat, sh.maxLatency)
			if first.IsZero() || sh.first.Before(first) {
				first = sh.first
			}
			if sh.last.After(last) {
				last = sh.last
			}
			for k, v := range sh.errorsByType {
				errorsByType[k] += v
			}
		}
		sh.mu.Unlock()
	}

	total := successes + failures
	stats := Stats{
		Benchmark:  benchmark,
		Total:      total,
		Successes:  successes,
		Failures:   failures,
		MinLatency: minLat,
		MaxLatency: maxLat,
	}

	if total > 0 {
		stats.MeanLatency = time.Duration(int64(sumLat) / total)
	}

	if hist.TotalCount() > 0 {
		stats.P50Latency = time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond
		stats.P90Latency = time.Duration(hist.ValueAtQuantile(90)) * time.Microsecond
		stats.P99Latency = time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond
	}

	stats.MinLatencyMs = toMs(stats.MinLatency)
	stats.MaxLatencyMs = toMs(stats.MaxLatency)
	stats.MeanLatencyMs = toMs(stats.MeanLatency)
	stats.P50LatencyMs = toMs(stats.P50Latency)
	stats.P90LatencyMs = toMs(stats.P90Latency)
	stats.P99LatencyMs = toMs(stats.P99Latency)

	if !first.IsZero() {
		stats.Duration = last.Sub(first)
	}
	stats.DurationMs = toMs(stats.Duration)
	if stats.Duration > 0 && total > 0 {
		stats.CallsPerSecond = float64(total) / stats.Duration.Seconds()
	}

	if len(errorsByType) > 0 {
		stats.Errors = make(map[string]int, len(errorsByType))
		for k, v := range errorsByType {
			stats.Errors[k] = int(v)
		}
	}
	return stats
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

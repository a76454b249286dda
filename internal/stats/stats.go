// Package stats reduces merged benchmark samples into calls-per-minute,
// steady-state calls-per-second and latency distribution summaries.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/torosent/crankbench/internal/results"
)

// TrimFraction is the share of samples dropped from each end before computing CPS.
const TrimFraction = 0.1

// CPMRow counts the calls that started within one local wall-clock minute.
type CPMRow struct {
	Benchmark string    `json:"benchmark"`
	Minute    time.Time `json:"minute"`
	Count     int       `json:"count"`
}

// CPSRow is the steady-state call rate of one benchmark.
type CPSRow struct {
	Benchmark      string  `json:"benchmark"`
	CallsPerSecond float64 `json:"calls_per_second"`
}

// LatencyRow summarizes the latency distribution of one benchmark in milliseconds.
type LatencyRow struct {
	Benchmark string  `json:"benchmark"`
	Mean      float64 `json:"mean_ms"`
	P95       float64 `json:"p95_ms"`
	P99       float64 `json:"p99_ms"`
	Min       float64 `json:"min_ms"`
	Max       float64 `json:"max_ms"`
	Median    float64 `json:"median_ms"`
	Count     int     `json:"count"`
}

// Summary bundles the three views plus the overall call count.
type Summary struct {
	CPM     []CPMRow     `json:"cpm"`
	CPS     []CPSRow     `json:"cps"`
	Latency []LatencyRow `json:"latency"`
	Total   int          `json:"total"`
	Failed  []string     `json:"failed,omitempty"`
}

// Reduce computes every view over sets. Minute buckets use the local time zone.
func Reduce(sets []results.Set) Summary {
	sum := Summary{
		CPM:     CPM(sets, time.Local),
		CPS:     CPS(sets),
		Latency: Latency(sets),
	}
	for _, s := range sets {
		if s.Failed() {
			sum.Failed = append(sum.Failed, s.Benchmark)
			continue
		}
		sum.Total += len(s.Samples)
	}
	return sum
}

// CPM buckets every sample's start time to the enclosing minute in loc and counts
// samples per (benchmark, minute). Rows are sorted by benchmark then minute.
func CPM(sets []results.Set, loc *time.Location) []CPMRow {
	if loc == nil {
		loc = time.Local
	}
	type key struct {
		benchmark string
		minute    int64
	}
	counts := make(map[key]int)
	minutes := make(map[key]time.Time)
	for _, s := range reducible(sets) {
		for _, sample := range s.Samples {
			m := floorMinute(sample.Timestamp, loc)
			k := key{s.Benchmark, m.Unix()}
			counts[k]++
			minutes[k] = m
		}
	}

	rows := make([]CPMRow, 0, len(counts))
	for k, n := range counts {
		rows = append(rows, CPMRow{Benchmark: k.benchmark, Minute: minutes[k], Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Benchmark != rows[j].Benchmark {
			return rows[i].Benchmark < rows[j].Benchmark
		}
		return rows[i].Minute.Before(rows[j].Minute)
	})
	return rows
}

func floorMinute(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}

// CPS returns the steady-state call rate per benchmark, sorted by benchmark.
func CPS(sets []results.Set) []CPSRow {
	grouped := groupByBenchmark(sets)
	rows := make([]CPSRow, 0, len(grouped))
	for _, name := range sortedKeys(grouped) {
		rows = append(rows, CPSRow{Benchmark: name, CallsPerSecond: CallsPerSecond(grouped[name])})
	}
	return rows
}

// CallsPerSecond sorts samples by start time, trims floor(n*TrimFraction) from both
// ends and divides the remaining count by the span between the first and last of
// them. Fewer than two remaining samples yield 0; a zero span yields the count.
func CallsPerSecond(samples []results.Sample) float64 {
	ts := make([]time.Time, len(samples))
	for i, s := range samples {
		ts[i] = s.Timestamp
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })

	trim := int(math.Floor(float64(len(ts)) * TrimFraction))
	ts = ts[trim : len(ts)-trim]
	if len(ts) < 2 {
		return 0
	}
	span := ts[len(ts)-1].Sub(ts[0]).Seconds()
	if span == 0 {
		return float64(len(ts))
	}
	return float64(len(ts)) / span
}

// Latency summarizes each benchmark's latency distribution, sorted by benchmark.
func Latency(sets []results.Set) []LatencyRow {
	grouped := groupByBenchmark(sets)
	rows := make([]LatencyRow, 0, len(grouped))
	for _, name := range sortedKeys(grouped) {
		samples := grouped[name]
		ms := make([]float64, len(samples))
		total := 0.0
		for i, s := range samples {
			ms[i] = s.LatencyMs()
			total += ms[i]
		}
		sort.Float64s(ms)
		rows = append(rows, LatencyRow{
			Benchmark: name,
			Mean:      total / float64(len(ms)),
			P95:       Percentile(ms, 95),
			P99:       Percentile(ms, 99),
			Min:       ms[0],
			Max:       ms[len(ms)-1],
			Median:    Percentile(ms, 50),
			Count:     len(ms),
		})
	}
	return rows
}

// Percentile returns the p-th percentile of sorted values using linear
// interpolation between the closest ranks. It returns 0 for no values.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// reducible drops failed sets; their partial samples are not representative.
func reducible(sets []results.Set) []results.Set {
	return results.Succeeded(sets)
}

func groupByBenchmark(sets []results.Set) map[string][]results.Sample {
	grouped := make(map[string][]results.Sample)
	for _, s := range reducible(sets) {
		if len(s.Samples) == 0 {
			continue
		}
		grouped[s.Benchmark] = append(grouped[s.Benchmark], s.Samples...)
	}
	return grouped
}

func sortedKeys(m map[string][]results.Sample) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

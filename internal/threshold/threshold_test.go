package threshold

import (
	"strings"
	"testing"

	"github.com/torosent/crankbench/internal/stats"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Threshold
		wantError bool
	}{
		{
			name:  "p95 latency",
			input: "latency:p95 < 500",
			want:  Threshold{Metric: "latency", Aggregate: "p95", Operator: "<", Value: 500, Raw: "latency:p95 < 500"},
		},
		{
			name:  "cps rate",
			input: "cps:rate > 100",
			want:  Threshold{Metric: "cps", Aggregate: "rate", Operator: ">", Value: 100, Raw: "cps:rate > 100"},
		},
		{
			name:  "calls count without spaces",
			input: "calls:count>=10",
			want:  Threshold{Metric: "calls", Aggregate: "count", Operator: ">=", Value: 10, Raw: "calls:count>=10"},
		},
		{
			name:  "failed count",
			input: "  failed:count == 0 ",
			want:  Threshold{Metric: "failed", Aggregate: "count", Operator: "==", Value: 0, Raw: "failed:count == 0"},
		},
		{name: "empty string", input: "", wantError: true},
		{name: "missing aggregate", input: "latency < 500", wantError: true},
		{name: "unknown metric", input: "http_req_duration:p95 < 500", wantError: true},
		{name: "aggregate not valid for metric", input: "cps:p95 < 5", wantError: true},
		{name: "unsupported operator", input: "latency:p95 != 5", wantError: true},
		{name: "bad value", input: "latency:p95 < 1.2.3", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantError {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got %+v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseMultipleReportsEveryError(t *testing.T) {
	_, err := ParseMultiple([]string{"latency:p95 < 5", "bogus", "cps:count > 1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "threshold[1]") || !strings.Contains(err.Error(), "threshold[2]") {
		t.Errorf("error should mention both bad thresholds: %v", err)
	}

	got, err := ParseMultiple(nil)
	if err != nil || got != nil {
		t.Errorf("ParseMultiple(nil) = %v, %v", got, err)
	}
}

func summary() stats.Summary {
	return stats.Summary{
		Latency: []stats.LatencyRow{
			{Benchmark: "benchmark_fast", Mean: 5, Median: 4, P95: 9, P99: 12, Min: 1, Max: 20, Count: 1000},
			{Benchmark: "benchmark_slow", Mean: 400, Median: 380, P95: 700, P99: 900, Min: 100, Max: 1200, Count: 40},
		},
		CPS: []stats.CPSRow{
			{Benchmark: "benchmark_fast", CallsPerSecond: 250},
			{Benchmark: "benchmark_slow", CallsPerSecond: 2.5},
		},
		Failed: []string{"benchmark_broken"},
	}
}

func TestEvaluatePerBenchmark(t *testing.T) {
	ths, err := ParseMultiple([]string{"latency:p95 < 500", "cps:rate > 10", "calls:count >= 40"})
	if err != nil {
		t.Fatalf("ParseMultiple() error = %v", err)
	}

	results := NewEvaluator(ths).Evaluate(summary())
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}

	want := map[string]bool{
		"latency:p95 < 500/benchmark_fast": true,
		"latency:p95 < 500/benchmark_slow": false,
		"cps:rate > 10/benchmark_fast":     true,
		"cps:rate > 10/benchmark_slow":     false,
		"calls:count >= 40/benchmark_fast": true,
		"calls:count >= 40/benchmark_slow": true,
	}
	for _, r := range results {
		key := r.Threshold.Raw + "/" + r.Benchmark
		if r.Pass != want[key] {
			t.Errorf("%s pass = %v, want %v (%s)", key, r.Pass, want[key], r.Message)
		}
	}
	if Passed(results) {
		t.Error("Passed() = true, want false")
	}
}

func TestEvaluateFailedCount(t *testing.T) {
	th, err := Parse("failed:count == 0")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	results := NewEvaluator([]Threshold{th}).Evaluate(summary())
	if len(results) != 1 {
		t.Fatalf("expected one run-level result, got %d", len(results))
	}
	if results[0].Pass || results[0].Actual != 1 {
		t.Errorf("unexpected result: %+v", results[0])
	}
	if !strings.HasPrefix(results[0].Message, "✗") {
		t.Errorf("message should mark failure: %q", results[0].Message)
	}
}

func TestEvaluateWithoutThresholds(t *testing.T) {
	if got := NewEvaluator(nil).Evaluate(summary()); got != nil {
		t.Errorf("expected nil results, got %v", got)
	}
	if !Passed(nil) {
		t.Error("Passed(nil) = false, want true")
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		actual   float64
		op       string
		expected float64
		want     bool
	}{
		{1, "<", 2, true},
		{2, "<", 2, false},
		{2, "<=", 2, true},
		{3, ">", 2, true},
		{2, ">=", 2.0000000001, true},
		{0.1 + 0.2, "==", 0.3, true},
		{1, "!=", 2, false},
	}
	for _, tt := range tests {
		if got := compareValues(tt.actual, tt.op, tt.expected); got != tt.want {
			t.Errorf("compareValues(%v %s %v) = %v, want %v", tt.actual, tt.op, tt.expected, got, tt.want)
		}
	}
}

// Package threshold evaluates pass/fail assertions against reduced benchmark statistics.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/torosent/crankbench/internal/stats"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric    string  // "latency", "cps", "calls" or "failed"
	Aggregate string  // e.g., "p95", "mean", "rate", "count"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold. Per-benchmark metrics
// produce one result per benchmark; "failed" produces a single run-level result.
type Result struct {
	Threshold Threshold
	Benchmark string
	Actual    float64
	Pass      bool
	Message   string
}

// Evaluator evaluates thresholds against reduced statistics.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the summary.
func (e *Evaluator) Evaluate(sum stats.Summary) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	var results []Result
	for _, t := range e.thresholds {
		if t.Metric == "failed" {
			results = append(results, e.evaluateOne(t, "", float64(len(sum.Failed)), nil))
			continue
		}
		for _, row := range sum.Latency {
			actual, err := extractMetricValue(t, row, sum.CPS)
			results = append(results, e.evaluateOne(t, row.Benchmark, actual, err))
		}
	}
	return results
}

// Passed reports whether every result passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func (e *Evaluator) evaluateOne(t Threshold, benchmark string, actual float64, err error) Result {
	if err != nil {
		return Result{
			Threshold: t,
			Benchmark: benchmark,
			Pass:      false,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	label := t.Raw
	if benchmark != "" {
		label = fmt.Sprintf("%s [%s]", t.Raw, benchmark)
	}
	return Result{
		Threshold: t,
		Benchmark: benchmark,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, label, actual, t.Operator, t.Value),
	}
}

var thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "latency:p95 < 500"   (latency percentile in ms, also p50, p99, median, mean, min, max)
// - "cps:rate > 100"      (steady-state calls per second)
// - "calls:count > 1000"  (successful calls per benchmark)
// - "failed:count == 0"   (benchmarks that ended with an error)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'latency:p95 < 500')", s)
	}

	metric := matches[1]
	aggregate := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	allowed, ok := aggregatesByMetric[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: latency, cps, calls, failed)", metric)
	}
	if !contains(allowed, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(allowed, ", "))
	}
	if !contains([]string{"<", "<=", ">", ">=", "=="}, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

var aggregatesByMetric = map[string][]string{
	"latency": {"p50", "p95", "p99", "median", "avg", "mean", "min", "max"},
	"cps":     {"rate"},
	"calls":   {"count"},
	"failed":  {"count"},
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func extractMetricValue(t Threshold, row stats.LatencyRow, cps []stats.CPSRow) (float64, error) {
	switch t.Metric {
	case "latency":
		return extractLatencyMetric(t.Aggregate, row)
	case "cps":
		for _, c := range cps {
			if c.Benchmark == row.Benchmark {
				return c.CallsPerSecond, nil
			}
		}
		return 0, nil
	case "calls":
		return float64(row.Count), nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
}

func extractLatencyMetric(aggregate string, row stats.LatencyRow) (float64, error) {
	switch aggregate {
	case "p50", "median":
		return row.Median, nil
	case "p95":
		return row.P95, nil
	case "p99":
		return row.P99, nil
	case "avg", "mean":
		return row.Mean, nil
	case "min":
		return row.Min, nil
	case "max":
		return row.Max, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for latency", aggregate)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}

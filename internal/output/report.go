package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/torosent/crankbench/internal/metrics"
	"github.com/torosent/crankbench/internal/results"
	"github.com/torosent/crankbench/internal/stats"
	"github.com/torosent/crankbench/internal/threshold"
)

const minuteLayout = "2006-01-02 15:04"

// Report is everything a finished run prints.
type Report struct {
	RunID      string
	Started    time.Time
	Duration   time.Duration
	Summary    stats.Summary
	Sets       []results.Set
	Live       []metrics.Stats
	Thresholds []threshold.Result
}

// ThresholdSummary counts passing and failing threshold results.
type ThresholdSummary struct {
	Total   int                   `json:"total"`
	Passed  int                   `json:"passed"`
	Failed  int                   `json:"failed"`
	Results []ThresholdResultJSON `json:"results"`
}

// ThresholdResultJSON is the JSON form of a threshold.Result.
type ThresholdResultJSON struct {
	Threshold string  `json:"threshold"`
	Benchmark string  `json:"benchmark,omitempty"`
	Metric    string  `json:"metric"`
	Aggregate string  `json:"aggregate"`
	Operator  string  `json:"operator"`
	Expected  float64 `json:"expected"`
	Actual    float64 `json:"actual"`
	Pass      bool    `json:"pass"`
	Message   string  `json:"message,omitempty"`
}

// BenchmarkOutcome is the per-benchmark status line of the JSON report.
type BenchmarkOutcome struct {
	Benchmark string   `json:"benchmark"`
	Samples   int      `json:"samples"`
	Error     string   `json:"error,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

type jsonReport struct {
	RunID      string             `json:"run_id,omitempty"`
	Started    time.Time          `json:"started"`
	DurationMs float64            `json:"duration_ms"`
	Benchmarks []BenchmarkOutcome `json:"benchmarks"`
	Summary    stats.Summary      `json:"summary"`
	Live       []metrics.Stats    `json:"live,omitempty"`
	Thresholds *ThresholdSummary  `json:"thresholds,omitempty"`
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	fmt.Fprintln(w, "\n--- Benchmark Results ---")
	if r.RunID != "" {
		fmt.Fprintf(w, "Run:               %s\n", r.RunID)
	}
	fmt.Fprintf(w, "Benchmarks:        %d\n", len(r.Sets))
	fmt.Fprintf(w, "Total Calls:       %d\n", r.Summary.Total)
	fmt.Fprintf(w, "Failed Benchmarks: %d\n", len(r.Summary.Failed))
	fmt.Fprintf(w, "Duration:          %s\n", r.Duration.Round(time.Millisecond))

	if len(r.Summary.CPS) > 0 {
		fmt.Fprintln(w, "\nCalls Per Second (steady state):")
		tw := newTable(w)
		fmt.Fprintln(tw, "  BENCHMARK\tCPS\t")
		for _, row := range r.Summary.CPS {
			fmt.Fprintf(tw, "  %s\t%.2f\t\n", row.Benchmark, row.CallsPerSecond)
		}
		_ = tw.Flush()
	}

	if len(r.Summary.Latency) > 0 {
		fmt.Fprintln(w, "\nLatency (ms):")
		tw := newTable(w)
		fmt.Fprintln(tw, "  BENCHMARK\tCOUNT\tMEAN\tMEDIAN\tP95\tP99\tMIN\tMAX\t")
		for _, row := range r.Summary.Latency {
			fmt.Fprintf(tw, "  %s\t%d\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\t\n",
				row.Benchmark, row.Count, row.Mean, row.Median, row.P95, row.P99, row.Min, row.Max)
		}
		_ = tw.Flush()
	}

	if len(r.Summary.CPM) > 0 {
		fmt.Fprintln(w, "\nCalls Per Minute:")
		tw := newTable(w)
		fmt.Fprintln(tw, "  BENCHMARK\tMINUTE\tCALLS\t")
		for _, row := range r.Summary.CPM {
			fmt.Fprintf(tw, "  %s\t%s\t%d\t\n", row.Benchmark, row.Minute.Format(minuteLayout), row.Count)
		}
		_ = tw.Flush()
	}

	writeErrorBreakdown(w, r.Live)
	writeOutcomes(w, r.Sets)

	if len(r.Thresholds) > 0 {
		sum := summarizeThresholds(r.Thresholds)
		fmt.Fprintf(w, "\nThresholds: %d passed, %d failed\n", sum.Passed, sum.Failed)
		for _, res := range r.Thresholds {
			fmt.Fprintf(w, "  %s\n", res.Message)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	out := jsonReport{
		RunID:      r.RunID,
		Started:    r.Started,
		DurationMs: float64(r.Duration) / float64(time.Millisecond),
		Benchmarks: outcomes(r.Sets),
		Summary:    r.Summary,
		Live:       r.Live,
	}
	if len(r.Thresholds) > 0 {
		out.Thresholds = summarizeThresholds(r.Thresholds)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func outcomes(sets []results.Set) []BenchmarkOutcome {
	out := make([]BenchmarkOutcome, 0, len(sets))
	for _, s := range sets {
		o := BenchmarkOutcome{Benchmark: s.Benchmark, Samples: len(s.Samples), Warnings: s.Warnings}
		if s.Err != nil {
			o.Error = s.Err.Error()
		}
		out = append(out, o)
	}
	return out
}

func writeOutcomes(w io.Writer, sets []results.Set) {
	var failed, warned []results.Set
	for _, s := range sets {
		if s.Failed() {
			failed = append(failed, s)
		}
		if len(s.Warnings) > 0 {
			warned = append(warned, s)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		for _, s := range failed {
			fmt.Fprintf(w, "  - %s: %v\n", s.Benchmark, s.Err)
		}
	}
	if len(warned) > 0 {
		fmt.Fprintln(w, "\nWarnings:")
		for _, s := range warned {
			for _, msg := range s.Warnings {
				fmt.Fprintf(w, "  - %s: %s\n", s.Benchmark, msg)
			}
		}
	}
}

// writeErrorBreakdown lists failed calls by error type, as counted live.
func writeErrorBreakdown(w io.Writer, live []metrics.Stats) {
	var lines []string
	for _, st := range live {
		if len(st.Errors) == 0 {
			continue
		}
		kinds := make([]string, 0, len(st.Errors))
		for kind := range st.Errors {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			lines = append(lines, fmt.Sprintf("  %s %s: %d", st.Benchmark, kind, st.Errors[kind]))
		}
	}
	if len(lines) == 0 {
		return
	}
	fmt.Fprintln(w, "\nCall Errors:")
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

func summarizeThresholds(res []threshold.Result) *ThresholdSummary {
	sum := &ThresholdSummary{
		Total:   len(res),
		Results: make([]ThresholdResultJSON, len(res)),
	}
	for i, tr := range res {
		sum.Results[i] = ThresholdResultJSON{
			Threshold: tr.Threshold.Raw,
			Benchmark: tr.Benchmark,
			Metric:    tr.Threshold.Metric,
			Aggregate: tr.Threshold.Aggregate,
			Operator:  tr.Threshold.Operator,
			Expected:  tr.Threshold.Value,
			Actual:    tr.Actual,
			Pass:      tr.Pass,
			Message:   tr.Message,
		}
		if tr.Pass {
			sum.Passed++
		} else {
			sum.Failed++
		}
	}
	return sum
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromObserver exports benchmark calls as Prometheus metrics. It owns a private
// registry so several observers can coexist in one process (tests, embedded use).
type PromObserver struct {
	Calls          *prometheus.CounterVec
	Latency        *prometheus.HistogramVec
	BenchmarkRuns  *prometheus.CounterVec
	ActiveUnits    *prometheus.GaugeVec
	TeardownErrors *prometheus.CounterVec
	registry       *prometheus.Registry
}

// NewPromObserver creates and registers all metrics.
func NewPromObserver() *PromObserver {
	registry := prometheus.NewRegistry()

	p := &PromObserver{
		Calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crankbench_calls_total",
				Help: "Total number of benchmark calls",
			},
			[]string{"benchmark", "outcome"},
		),
		Latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crankbench_call_duration_seconds",
				Help:    "Benchmark call latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"benchmark"},
		),
		BenchmarkRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crankbench_benchmark_runs_total",
				Help: "Finished benchmark runs by result",
			},
			[]string{"benchmark", "result"},
		),
		ActiveUnits: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crankbench_active_units",
				Help: "Worker units currently running",
			},
			[]string{"benchmark"},
		),
		TeardownErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crankbench_teardown_errors_total",
				Help: "Fixture teardowns that failed or did not finish",
			},
			[]string{"benchmark"},
		),
		registry: registry,
	}

	registry.MustRegister(p.Calls)
	registry.MustRegister(p.Latency)
	registry.MustRegister(p.BenchmarkRuns)
	registry.MustRegister(p.ActiveUnits)
	registry.MustRegister(p.TeardownErrors)
	return p
}

// Observe records one benchmark call.
func (p *PromObserver) Observe(benchmark string, latency time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	p.Calls.WithLabelValues(benchmark, outcome).Inc()
	p.Latency.WithLabelValues(benchmark).Observe(latency.Seconds())
}

// UnitStarted increments the active unit gauge for benchmark.
func (p *PromObserver) UnitStarted(benchmark string) {
	p.ActiveUnits.WithLabelValues(benchmark).Inc()
}

// UnitFinished decrements the active unit gauge and counts teardown warnings.
func (p *PromObserver) UnitFinished(benchmark string, teardownWarnings int) {
	p.ActiveUnits.WithLabelValues(benchmark).Dec()
	if teardownWarnings > 0 {
		p.TeardownErrors.WithLabelValues(benchmark).Add(float64(teardownWarnings))
	}
}

// BenchmarkFinished counts a finished benchmark as passed or failed.
func (p *PromObserver) BenchmarkFinished(benchmark string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	p.BenchmarkRuns.WithLabelValues(benchmark, result).Inc()
}

// Handler returns the Prometheus metrics handler.
func (p *PromObserver) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry.
func (p *PromObserver) Registry() *prometheus.Registry {
	return p.registry
}

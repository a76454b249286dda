// Package metrics tracks benchmark calls while a run is in progress.
//
// [Collector] keeps one HdrHistogram per benchmark and feeds the live progress
// line; it receives calls through the runner's Observer hook:
//
//	collector := metrics.NewCollector()
//	opts.Runner.Observer = collector
//	collector.Begin("benchmark_get_users")
//	stats := collector.Stats("benchmark_get_users")
//
// [PromObserver] exports the same call stream as Prometheus metrics on a private
// registry so that /metrics can be scraped during long runs.
//
// Live metrics are approximate (histogram buckets, wall-clock rate). The
// authoritative numbers are computed from the raw samples by package stats once
// a benchmark finishes.
package metrics

package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/crankbench/internal/metrics"
)

// ProgressReporter displays real-time progress of the benchmark currently running.
type ProgressReporter struct {
	collector *metrics.Collector
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(collector *metrics.Collector, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			if line, ok := ProgressLine(p.collector); ok {
				fmt.Fprint(p.writer, "\r"+line)
			}
		case <-p.done:
			return
		}
	}
}

// ProgressLine formats the live state of the current benchmark. It returns false
// before any benchmark has started.
func ProgressLine(c *metrics.Collector) (string, bool) {
	name := c.Current()
	if name == "" {
		return "", false
	}
	st := c.Stats(name)
	return fmt.Sprintf("%s | Calls: %d | Failures: %d | CPS: %.1f | P99: %.1fms | Elapsed: %s",
		name, st.Total, st.Failures, st.CallsPerSecond, st.P99LatencyMs, c.Elapsed().Round(time.Second)), true
}

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/crankbench/internal/metrics"
	"github.com/torosent/crankbench/internal/results"
)

// runListener feeds orchestrator progress into the live collector and the
// Prometheus gauges.
type runListener struct {
	collector *metrics.Collector
	prom      *metrics.PromObserver
}

func (l *runListener) BenchmarkStarted(benchmark string, _ []int) {
	l.collector.Begin(benchmark)
}

func (l *runListener) UnitStarted(benchmark string, _, _ int) {
	l.prom.UnitStarted(benchmark)
}

func (l *runListener) UnitFinished(benchmark string, batch results.Batch, _ error) {
	l.prom.UnitFinished(benchmark, len(batch.Warnings))
}

func (l *runListener) BenchmarkFinished(set results.Set) {
	l.prom.BenchmarkFinished(set.Benchmark, set.Err)
}

type metricsServer struct {
	srv    *http.Server
	done   chan struct{}
	logger *zap.Logger
}

// startMetricsServer listens on addr before returning so a bad address fails the
// run up front.
func startMetricsServer(addr string, prom *metrics.PromObserver, logger *zap.Logger) (*metricsServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler())
	m := &metricsServer{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		done:   make(chan struct{}),
		logger: logger,
	}
	go func() {
		defer close(m.done)
		if err := m.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", lis.Addr().String()))
	return m, nil
}

func (m *metricsServer) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Warn("metrics server shutdown", zap.Error(err))
	}
	<-m.done
}

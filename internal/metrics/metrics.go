// Package metrics exposes prometheus counters for the check loop and an
// optional /metrics listener.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notewatch/pkg/logx"
)

type Set struct {
	registry *prometheus.Registry

	CyclesTotal   *prometheus.CounterVec // result: ok|skipped|empty|fetch_error|send_error|config_error
	ItemsFetched  *prometheus.CounterVec // by category
	FetchErrors   *prometheus.CounterVec // by category (incl. "unspecified")
	AlertsTotal   prometheus.Counter
	PersistErrors prometheus.Counter
}

func New() *Set {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Set{
		registry: reg,
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notewatch",
			Name:      "cycles_total",
			Help:      "Check cycles by outcome.",
		}, []string{"result"}),
		ItemsFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notewatch",
			Name:      "items_fetched_total",
			Help:      "New items fetched, by category.",
		}, []string{"category"}),
		FetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notewatch",
			Name:      "fetch_errors_total",
			Help:      "Content source failures, by category.",
		}, []string{"category"}),
		AlertsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "notewatch",
			Name:      "admin_alerts_total",
			Help:      "Administrative alerts actually dispatched.",
		}),
		PersistErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "notewatch",
			Name:      "persist_errors_total",
			Help:      "Watermark persistence failures (swallowed, best-effort).",
		}),
	}
}

// Serve blocks until ctx is cancelled. Intended to run in its own goroutine.
func (s *Set) Serve(ctx context.Context, addr string, log logx.Logger) error {
	if addr == "" {
		addr = "127.0.0.1:9190"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("metrics listening", logx.String("addr", addr))

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phonemanage/phonemanage-go/internal/conf"
	"github.com/phonemanage/phonemanage-go/internal/errors"
	"github.com/phonemanage/phonemanage-go/internal/logging"
)

// Endpoint serves the metrics registry over HTTP on a local listener.
type Endpoint struct {
	addr    string
	metrics *Metrics
	server  *http.Server
	logger  *slog.Logger
}

// NewEndpoint validates the configured listen address and builds the
// endpoint. Returns nil, nil when telemetry is disabled.
func NewEndpoint(settings *conf.TelemetrySettings, metrics *Metrics) (*Endpoint, error) {
	if settings == nil || !settings.Enabled {
		return nil, nil
	}
	if settings.Listen == "" {
		return nil, errors.Newf("telemetry enabled with empty listen address").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &Endpoint{
		addr:    settings.Listen,
		metrics: metrics,
		logger:  logging.ForService("telemetry"),
	}, nil
}

// Start begins serving /metrics and /healthz and shuts the listener down
// when quitChan closes. The goroutines register on wg.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	if e == nil {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.metrics.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	e.server = &http.Server{
		Addr:         e.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.logger.Info("metrics endpoint listening", "addr", e.addr)
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Error("metrics endpoint failed", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-quitChan
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.server.Shutdown(ctx); err != nil {
			e.logger.Warn("metrics endpoint shutdown error", "error", err)
		}
	}()
}

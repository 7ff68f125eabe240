package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the scrape handler for g, instrumented with the
// promhttp_metric_handler_* series.
func Handler(g prometheus.Gatherer, reg prometheus.Registerer) http.Handler {
	return promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(g, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Timeout:           5 * time.Second,
	}))
}

// StartServer serves GET /metrics from the default registry on its own
// port, away from the beacon listener, and returns the shutdown func.
func StartServer(port int) (shutdown func(context.Context) error) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler(prometheus.DefaultGatherer, prometheus.DefaultRegisterer))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		slog.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()

	return server.Shutdown
}

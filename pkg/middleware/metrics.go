package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/umrum/umrum/pkg/metrics"
)

// Metrics returns middleware that records HTTP request count, latency, and
// in-flight gauge. A nil m disables it.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			duration := time.Since(start).Seconds()
			path := normalizePath(r.URL.Path)

			m.HTTPRequestsTotal.WithLabelValues(
				r.Method,
				path,
				strconv.Itoa(sw.status),
			).Inc()

			m.HTTPRequestDuration.WithLabelValues(
				r.Method,
				path,
			).Observe(duration)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}

// normalizePath collapses per-host and per-asset paths so the path label
// stays low-cardinality.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/assets/"):
		return "/assets/*"
	case strings.HasPrefix(path, "/dashboard/") && path != "/dashboard/create":
		if strings.HasSuffix(path, "/info") {
			return "/dashboard/{host}/info"
		}
		if strings.HasSuffix(path, "/delete") {
			return "/dashboard/{host}/delete"
		}
		return "/dashboard/{host}"
	case path == "/" || path == "/dashboard" || path == "/dashboard/create" ||
		path == "/signin" || path == "/signout" || path == "/auth/github/callback" ||
		path == "/api/ping" || path == "/api/disconnect":
		return path
	default:
		return "other"
	}
}

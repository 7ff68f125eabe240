package middleware

import (
	"net/http"
	"time"

	"github.com/umrum/umrum/pkg/logger"
)

// AccessLog logs one line per request at debug level, and at warn level for
// server errors.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		log := logger.FromContext(r.Context())
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		}
		if sw.status >= http.StatusInternalServerError {
			log.Warn("request failed", attrs...)
			return
		}
		log.Debug("request served", attrs...)
	})
}

// Package middleware provides reusable HTTP middleware for request IDs,
// access logging, CORS, Prometheus metrics, and request deadlines.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/umrum/umrum/pkg/logger"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID propagates the caller's X-Request-ID, or assigns a new one, and
// stores it in the request context for logger.FromContext.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

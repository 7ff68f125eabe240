package middleware

import (
	"context"
	"net/http"
	"time"
)

// Deadline bounds every store call made while serving the request: the
// request context is cancelled after timeout. Handlers are expected to turn
// a context error into a response themselves.
func Deadline(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

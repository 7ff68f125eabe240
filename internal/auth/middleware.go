package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/umrum/umrum/pkg/errors"
	"github.com/umrum/umrum/pkg/logger"
)

type contextKey string

const sessionKey contextKey = "session"

// LoadSession attaches the session named by the cookie to the request
// context. Requests without a valid session pass through anonymously.
func LoadSession(sessions *Sessions, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(cookieName)
			if err != nil || c.Value == "" {
				next.ServeHTTP(w, r)
				return
			}
			sess, err := sessions.Get(r.Context(), c.Value)
			if err != nil {
				if !errors.Is(err, apperrors.ErrUnauthorized) {
					logger.FromContext(r.Context()).Warn("loading session failed", "error", err)
				}
				next.ServeHTTP(w, r)
				return
			}
			ctx := logger.WithUserID(WithSession(r.Context(), sess), sess.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser lets signed-in requests through. Anonymous page requests are
// redirected to /signin; other methods and JSON requests get 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SessionFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		wantsJSON := strings.Contains(r.Header.Get("Accept"), "application/json")
		if (r.Method == http.MethodGet || r.Method == http.MethodHead) && !wantsJSON {
			http.Redirect(w, r, "/signin", http.StatusFound)
			return
		}
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	})
}

func WithSession(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// SessionFromContext returns the session set by LoadSession.
func SessionFromContext(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(sessionKey).(Session)
	return sess, ok
}

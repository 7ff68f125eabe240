// Package logger configures log/slog for the umrum binaries and carries
// per-request fields (request id, signed-in user) through contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type (
	requestIDKey struct{}
	userIDKey    struct{}
)

// Setup installs the process-wide default logger writing to stdout.
func Setup(level string, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// New builds a logger for the given writer, level and format ("json" or
// "text"). Unknown levels fall back to info.
func New(w io.Writer, level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the request id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithUserID records the signed-in user so request logs can name them.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// FromContext returns the default logger annotated with the request id and
// user id found in ctx.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if requestID := RequestID(ctx); requestID != "" {
		logger = logger.With("request_id", requestID)
	}
	if userID, ok := ctx.Value(userIDKey{}).(int64); ok {
		logger = logger.With("user_id", userID)
	}
	return logger
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

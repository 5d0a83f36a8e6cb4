// Package logging provides the structured logger used throughout the
// gateway process.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/iruldev/apigatewaycore/internal/config"
)

// Context keys used to correlate log lines with a request.
const (
	KeyService   = "service"
	KeyEnv       = "env"
	KeyRequestID = "request_id"
	KeyProvider  = "provider"
	KeyTraceID   = "trace_id"
)

type ctxKey int

const requestIDCtxKey ctxKey = iota

// New creates a structured JSON logger with service/env attributes
// attached to every entry. Level is controlled by cfg.LogLevel.
func New(cfg *config.Config) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	})
	return slog.New(handler).With(
		KeyService, cfg.ServiceName,
		KeyEnv, cfg.Env,
	)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRequestID returns a context carrying a request id for log
// correlation, and a logger enriched with that id.
func WithRequestID(ctx context.Context, base *slog.Logger, id string) (context.Context, *slog.Logger) {
	ctx = context.WithValue(ctx, requestIDCtxKey, id)
	return ctx, base.With(KeyRequestID, id)
}

// RequestIDFromContext returns the request id stored by WithRequestID,
// or "" if none was set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey).(string)
	return id
}

// Package logger sets up structured JSON logging with log/slog and carries a
// tick id through context.Context so every line written during one scheduled
// tick can be correlated.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey string

const tickIDKey ctxKey = "tick_id"

// Init creates the service logger, writing JSON to stdout, and installs it as
// the slog default.
func Init(service string, level slog.Level) *slog.Logger {
	return InitWriter(os.Stdout, service, level)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	slog.SetDefault(logger)

	return logger
}

// ParseLevel maps LOG_LEVEL values (debug, info, warn, error) to a slog level.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// WithTickID stores a tick id in the context.
func WithTickID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tickIDKey, id)
}

// TickID extracts the tick id from context. Returns "" if not set.
func TickID(ctx context.Context) string {
	if v, ok := ctx.Value(tickIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTickID builds "{task}-{unixNano}".
func GenerateTickID(task string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", task, ts.UnixNano())
}

// TickAttrs returns the slog attributes for the tick id in ctx, or nil.
// Usage: log.Info("msg", logger.TickAttrs(ctx)...)
func TickAttrs(ctx context.Context) []any {
	id := TickID(ctx)
	if id == "" {
		return nil
	}
	return []any{slog.String("tick_id", id)}
}

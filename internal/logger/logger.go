// Package logger configures the application slog logger and carries a request scoped logger through the context.
//
// Handlers retrieve the request logger with ContextRequestLogger and can add attributes to the
// final request log line with ContextWithLogAttrs (the attributes are emitted by RequestLogging).
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// LevelNone disables all logging
const LevelNone = slog.Level(100)

type ctxKey int

const (
	loggerKey ctxKey = iota
	attrsKey
)

// InitLogger returns a logger for the given level and environment and sets it as the slog default.
//
// dev uses a coloured text handler, all other environments log JSON to stdout.
func InitLogger(level slog.Level, environment string) *slog.Logger {
	var handler slog.Handler

	switch {
	case level == LevelNone:
		handler = slog.NewTextHandler(io.Discard, nil)
	case environment == "dev":
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	default:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLogLevel converts a LOG_LEVEL setting to a slog level. Unknown values default to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none", "off":
		return LevelNone
	default:
		return slog.LevelInfo
	}
}

// ContextWithLogger returns a copy of ctx carrying logger
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// ContextRequestLogger returns the request logger stored in ctx, or the default logger.
func ContextRequestLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// logAttrs collects attributes added by handlers during a request
type logAttrs struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

func contextWithAttrCollector(ctx context.Context) (context.Context, *logAttrs) {
	collector := &logAttrs{}
	return context.WithValue(ctx, attrsKey, collector), collector
}

// ContextWithLogAttrs adds attributes to the request log line written when the request completes.
// It is a no-op outside of a request handled by RequestLogging.
func ContextWithLogAttrs(ctx context.Context, attrs ...slog.Attr) {
	collector, ok := ctx.Value(attrsKey).(*logAttrs)
	if !ok {
		return
	}
	collector.mu.Lock()
	collector.attrs = append(collector.attrs, attrs...)
	collector.mu.Unlock()
}

func (c *logAttrs) snapshot() []slog.Attr {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]slog.Attr, len(c.attrs))
	copy(out, c.attrs)
	return out
}

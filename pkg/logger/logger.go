// Package logger builds the service's slog loggers and carries the
// request-scoped logger through contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options selects the handler. Level overrides the env default when set.
type Options struct {
	Env    string
	Level  string
	Writer io.Writer
}

// New logs to stdout.
func New(env, level string) *slog.Logger {
	return NewWithOptions(Options{Env: env, Level: level})
}

// NewWithWriter is New with an explicit sink and the env default level.
func NewWithWriter(env string, w io.Writer) *slog.Logger {
	return NewWithOptions(Options{Env: env, Writer: w})
}

// NewWithOptions uses a text handler for local runs and JSON everywhere else.
func NewWithOptions(o Options) *slog.Logger {
	w := o.Writer
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(o.Level, o.Env)}

	var h slog.Handler
	if o.Env == "local" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With("service", "onboarding-calls")
}

// ParseLevel falls back to debug for local/dev and info otherwise.
func ParseLevel(level, env string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if env == "local" || env == "dev" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the context logger or slog.Default().
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

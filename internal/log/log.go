// Package log is the structured logging surface used across the service.
//
// Every method takes a context so records can pick up trace and span ids
// from the active otel span. Errors get their type, cause, and wrap chain
// rendered as attributes by Error.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App       string
	Component string
	Version   string
	Commit    string
	BuildId   string

	Level           slog.Level
	StacktraceLevel slog.Level
	JsonFormat      bool

	// error_links rendering, see Logger.Error
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// defaults to os.Stdout
	Writer io.Writer
}

func New(opts Options) (Logger, error) { return newSlogLogger(opts) }

// ParseLevel maps debug|info|warn|error (any case, surrounding space ok) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (valid levels are debug|info|warn|error)", s)
}

type nop struct{}

func (nop) With(...any) Logger                           { return nop{} }
func (nop) Debug(context.Context, string, ...any)        {}
func (nop) Info(context.Context, string, ...any)         {}
func (nop) Warn(context.Context, string, ...any)         {}
func (nop) Error(context.Context, error, string, ...any) {}
func (nop) Sync() error                                  { return nil }

// Nop discards everything. Handy as a default and in tests.
func Nop() Logger { return nop{} }

type ctxKey struct{}

func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger carried by ctx, or Nop when there is none.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
		return l
	}
	return Nop()
}

// Enrich stores a child of the context logger with extra fields back into ctx.
func Enrich(ctx context.Context, kv ...any) context.Context {
	return WithContext(ctx, FromContext(ctx).With(kv...))
}

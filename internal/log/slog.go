package log

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// defaultMaxErrorLinks bounds error_links when the caller leaves it unset
const defaultMaxErrorLinks = 8

type slogLogger struct {
	h     slog.Handler
	attrs []slog.Attr

	links    bool
	maxLinks int
}

func newSlogLogger(opts Options) (Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	if opts.StacktraceLevel == 0 {
		opts.StacktraceLevel = slog.LevelError
	}
	if opts.MaxErrorLinks <= 0 {
		opts.MaxErrorLinks = defaultMaxErrorLinks
	}

	ho := &slog.HandlerOptions{Level: opts.Level, AddSource: true}
	var h slog.Handler
	if opts.JsonFormat {
		h = slog.NewJSONHandler(w, ho)
	} else {
		h = slog.NewTextHandler(w, ho)
	}
	h = traceHandler{next: h}
	h = stackHandler{next: h, min: opts.StacktraceLevel}

	base := []slog.Attr{slog.String("app", opts.App)}
	if opts.Component != "" {
		base = append(base, slog.String("component", opts.Component))
	}
	if opts.Version != "" {
		base = append(base, slog.String("version", opts.Version))
	}

	return &slogLogger{
		h:        h,
		attrs:    base,
		links:    opts.IncludeErrorLinks,
		maxLinks: opts.MaxErrorLinks,
	}, nil
}

// With never mutates the receiver so loggers can be shared between goroutines.
func (s *slogLogger) With(kv ...any) Logger {
	extra := kvAttrs(kv)
	attrs := make([]slog.Attr, 0, len(s.attrs)+len(extra))
	attrs = append(attrs, s.attrs...)
	attrs = append(attrs, extra...)
	return &slogLogger{h: s.h, attrs: attrs, links: s.links, maxLinks: s.maxLinks}
}

func (s *slogLogger) Debug(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelDebug, msg, kv)
}

func (s *slogLogger) Info(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelInfo, msg, kv)
}

func (s *slogLogger) Warn(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelWarn, msg, kv)
}

func (s *slogLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	if err != nil {
		kv = append(kv, errorFields(err, s.links, s.maxLinks)...)
	}
	s.emit(ctx, slog.LevelError, msg, kv)
}

func (s *slogLogger) Sync() error { return nil }

// kvAttrs turns alternating key/value pairs into attrs, dropping non-string
// keys and a trailing key without a value.
func kvAttrs(kv []any) []slog.Attr {
	out := make([]slog.Attr, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			out = append(out, slog.Any(k, kv[i+1]))
		}
	}
	return out
}

func (s *slogLogger) emit(ctx context.Context, lvl slog.Level, msg string, kv []any) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.h.Enabled(ctx, lvl) {
		return
	}
	// skip runtime.Callers, emit, and the exported level method
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(time.Now(), lvl, msg, pcs[0])
	r.AddAttrs(s.attrs...)
	r.AddAttrs(kvAttrs(kv)...)
	_ = s.h.Handle(ctx, r)
}

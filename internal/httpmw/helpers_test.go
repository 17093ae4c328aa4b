package httpmw

import (
	"context"
	"sync"

	"github.com/keithlinneman/ziprehome/internal/log"
)

type logLine struct {
	level  string
	msg    string
	fields []any
	err    error
}

// memLogger records every line with the fields accumulated through With.
type memLogger struct {
	mu     *sync.Mutex
	lines  *[]logLine
	fields []any
}

func newMemLogger() *memLogger {
	return &memLogger{mu: &sync.Mutex{}, lines: &[]logLine{}}
}

func (l *memLogger) With(kv ...any) log.Logger {
	return &memLogger{mu: l.mu, lines: l.lines, fields: append(append([]any{}, l.fields...), kv...)}
}

func (l *memLogger) add(level, msg string, err error, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.lines = append(*l.lines, logLine{level: level, msg: msg, err: err, fields: append(append([]any{}, l.fields...), kv...)})
}

func (l *memLogger) Debug(_ context.Context, msg string, kv ...any) { l.add("debug", msg, nil, kv) }
func (l *memLogger) Info(_ context.Context, msg string, kv ...any)  { l.add("info", msg, nil, kv) }
func (l *memLogger) Warn(_ context.Context, msg string, kv ...any)  { l.add("warn", msg, nil, kv) }
func (l *memLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	l.add("error", msg, err, kv)
}
func (l *memLogger) Sync() error { return nil }

func (l *memLogger) all() []logLine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]logLine(nil), *l.lines...)
}

func field(fields []any, key string) (any, bool) {
	for i := 0; i+1 < len(fields); i += 2 {
		if fields[i] == key {
			return fields[i+1], true
		}
	}
	return nil, false
}

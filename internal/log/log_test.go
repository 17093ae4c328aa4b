package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/ziprehome/internal/xerrors"
)

func newBufLogger(t *testing.T, opts Options) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	opts.Writer = &buf
	opts.JsonFormat = true
	l, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, &buf
}

// lastRecord decodes the last JSON line written to buf.
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("decode %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{" INFO ", slog.LevelInfo, false},
		{"Warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogger_BaseAttrsAndLevelFilter(t *testing.T) {
	l, buf := newBufLogger(t, Options{App: "ziprehome", Component: "server", Level: slog.LevelInfo})
	ctx := context.Background()

	l.Debug(ctx, "hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at info, got %s", buf.String())
	}

	l.Info(ctx, "level walked", "entries", 3)
	m := lastRecord(t, buf)
	if m["msg"] != "level walked" || m["app"] != "ziprehome" || m["component"] != "server" {
		t.Fatalf("unexpected record %v", m)
	}
	if m["entries"] != float64(3) {
		t.Fatalf("entries = %v", m["entries"])
	}
	if _, ok := m["source"]; !ok {
		t.Fatal("source should be recorded")
	}
}

func TestLogger_WithDoesNotLeakIntoParent(t *testing.T) {
	l, buf := newBufLogger(t, Options{App: "a"})
	ctx := context.Background()

	child := l.With("level_path", "a.zip/inner.zip", 42, "dropped", "dangling")
	child.Info(ctx, "child")
	m := lastRecord(t, buf)
	if m["level_path"] != "a.zip/inner.zip" {
		t.Fatalf("child attr missing: %v", m)
	}
	if _, ok := m["dangling"]; ok {
		t.Fatal("dangling key should be dropped")
	}

	l.Info(ctx, "parent")
	if _, ok := lastRecord(t, buf)["level_path"]; ok {
		t.Fatal("With must not mutate the parent")
	}
}

func TestLogger_ErrorEnrichment(t *testing.T) {
	l, buf := newBufLogger(t, Options{App: "a", IncludeErrorLinks: true, MaxErrorLinks: 4})
	root := errors.New("connection reset")
	err := xerrors.Wrap(fmt.Errorf("put object: %w", root), "upload leaf")

	l.Error(context.Background(), err, "leaf failed", "path", "a.zip/x.bin")
	m := lastRecord(t, buf)

	if m["error_type"] != "*errors.errorString" && !strings.Contains(fmt.Sprint(m["error_type"]), "errors") {
		t.Fatalf("error_type = %v", m["error_type"])
	}
	if m["cause_type"] != "*errors.errorString" {
		t.Fatalf("cause_type = %v", m["cause_type"])
	}
	chain, ok := m["error_chain"].([]any)
	if !ok || len(chain) != 3 {
		t.Fatalf("error_chain = %v", m["error_chain"])
	}
	if chain[0] != "upload leaf: put object: connection reset" {
		t.Fatalf("chain[0] = %v", chain[0])
	}
	links, ok := m["error_links"].([]any)
	if !ok || len(links) == 0 {
		t.Fatalf("error_links = %v", m["error_links"])
	}
	first := links[0].(map[string]any)
	if !strings.Contains(fmt.Sprint(first["func"]), "TestLogger_ErrorEnrichment") {
		t.Fatalf("first link should point at the wrap site, got %v", first)
	}
	if _, ok := m["stack"]; !ok {
		t.Fatal("error level should carry a stack")
	}
}

func TestLogger_ErrorWithoutLinks(t *testing.T) {
	l, buf := newBufLogger(t, Options{App: "a"})
	l.Error(context.Background(), errors.New("x"), "boom")
	if _, ok := lastRecord(t, buf)["error_links"]; ok {
		t.Fatal("error_links should be off by default")
	}
}

func TestLogger_NilErrorIsPlainRecord(t *testing.T) {
	l, buf := newBufLogger(t, Options{App: "a"})
	l.Error(context.Background(), nil, "nothing wrong")
	m := lastRecord(t, buf)
	if _, ok := m["err"]; ok {
		t.Fatal("nil error should not add err")
	}
}

func TestLogger_StackBelowThresholdOmitted(t *testing.T) {
	l, buf := newBufLogger(t, Options{App: "a", StacktraceLevel: slog.LevelError})
	l.Warn(context.Background(), "slow store")
	if _, ok := lastRecord(t, buf)["stack"]; ok {
		t.Fatal("warn should not carry a stack at error threshold")
	}
}

func TestLogger_TraceIDs(t *testing.T) {
	l, buf := newBufLogger(t, Options{App: "a"})
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Info(ctx, "traced")
	m := lastRecord(t, buf)
	if m["trace_id"] != sc.TraceID().String() || m["span_id"] != sc.SpanID().String() {
		t.Fatalf("trace fields missing: %v", m)
	}
}

func TestErrorChain_Join(t *testing.T) {
	a, b := errors.New("a"), errors.New("b")
	got := errorChain(errors.Join(a, b))
	want := []string{"a\nb", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("chain = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chain[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestErrorLinks_RespectsMax(t *testing.T) {
	err := xerrors.Wrap(xerrors.Wrap(xerrors.Wrap(errors.New("x"), "1"), "2"), "3")
	if n := len(errorLinks(err, 2)); n != 2 {
		t.Fatalf("links = %d, want 2", n)
	}
}

func TestContextHelpers(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext must never return nil")
	}

	l, buf := newBufLogger(t, Options{App: "a"})
	ctx := WithContext(context.Background(), l)
	ctx = Enrich(ctx, "client_id", "c-1")
	FromContext(ctx).Info(ctx, "enriched")
	if lastRecord(t, buf)["client_id"] != "c-1" {
		t.Fatal("Enrich should add fields to the context logger")
	}

	var typedNil Logger
	ctx = WithContext(context.Background(), typedNil)
	FromContext(ctx).Info(ctx, "safe")
}

func TestNop(t *testing.T) {
	n := Nop()
	n.With("k", "v").Error(context.Background(), errors.New("x"), "ignored")
	if err := n.Sync(); err != nil {
		t.Fatal(err)
	}
}

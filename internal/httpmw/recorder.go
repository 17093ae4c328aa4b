package httpmw

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errNoHijack = errors.New("response writer cannot be hijacked")

// recorder counts the status and body bytes of a response. When the request
// span is recording it also opens a "response.write" child span at the first
// byte, so slow downloads show up separately from slow extraction.
type recorder struct {
	http.ResponseWriter

	ctx     context.Context
	started time.Time

	status  int
	written int64
	blocked time.Duration
	err     error

	span     trace.Span
	spanOnce bool
}

func newRecorder(w http.ResponseWriter, r *http.Request) *recorder {
	return &recorder{ResponseWriter: w, ctx: r.Context(), started: time.Now()}
}

func (rec *recorder) code() int {
	if rec.status == 0 {
		return http.StatusOK
	}
	return rec.status
}

func (rec *recorder) firstByte() {
	if rec.spanOnce {
		return
	}
	rec.spanOnce = true
	if !trace.SpanFromContext(rec.ctx).IsRecording() {
		return
	}
	ttfb := time.Since(rec.started)
	_, rec.span = otel.Tracer("ziprehome/httpmw").Start(rec.ctx, "response.write",
		trace.WithAttributes(attribute.Float64("http.server.ttfb_seconds", ttfb.Seconds())))
}

func (rec *recorder) WriteHeader(code int) {
	rec.firstByte()
	if rec.status == 0 {
		rec.status = code
	}
	t := time.Now()
	rec.ResponseWriter.WriteHeader(code)
	rec.blocked += time.Since(t)
}

func (rec *recorder) Write(p []byte) (int, error) {
	rec.firstByte()
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	t := time.Now()
	n, err := rec.ResponseWriter.Write(p)
	rec.blocked += time.Since(t)
	rec.written += int64(n)
	if err != nil && rec.err == nil {
		rec.err = err
	}
	return n, err
}

// end closes the write span, if one was opened.
func (rec *recorder) end() {
	if rec.span == nil {
		return
	}
	rec.span.SetAttributes(
		attribute.Int("http.response.status_code", rec.code()),
		attribute.Int64("http.response.body.size", rec.written),
		attribute.Float64("http.server.write.block_seconds", rec.blocked.Seconds()),
	)
	if rec.err != nil {
		rec.span.RecordError(rec.err)
		rec.span.SetStatus(codes.Error, rec.err.Error())
	}
	rec.span.End()
}

func (rec *recorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rec *recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rec.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errNoHijack
}

func (rec *recorder) Unwrap() http.ResponseWriter { return rec.ResponseWriter }

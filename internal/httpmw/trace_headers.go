package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// Default response headers carrying the server span, so a client can quote
// them when reporting a failed extraction.
const (
	TraceIDHeader = "X-Trace-Id"
	SpanIDHeader  = "X-Span-Id"
)

// TraceResponseHeaders echoes the active span's ids. Nothing is written when
// the request is not traced (health endpoints, tracing disabled).
func TraceResponseHeaders(traceHeader, spanHeader string) Middleware {
	th := headerOr(traceHeader, TraceIDHeader)
	sh := headerOr(spanHeader, SpanIDHeader)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				h := w.Header()
				h.Set(th, sc.TraceID().String())
				h.Set(sh, sc.SpanID().String())
			}
			next.ServeHTTP(w, r)
		})
	}
}

func headerOr(h, def string) string {
	if h == "" {
		return def
	}
	return h
}

package httpmw

import (
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/ziprehome/internal/log"
)

// statusPaths are liveness and readiness; they never reach the access log.
const statusPaths = "/-/"

// WithLogger puts a request logger into the context. Its fields come from
// values the server resolved itself; query strings, Host and User-Agent are
// client controlled and left out.
func WithLogger(base log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			id := RequestIDFromContext(ctx)
			peer := peerHost(r.RemoteAddr)
			client := ClientIPFromContext(ctx)
			if client == "" {
				client = peer
			}
			scheme := requestScheme(r)

			if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
				span.SetAttributes(
					attribute.String("request_id", id),
					attribute.String("client.address", client),
					attribute.String("network.peer.address", peer),
					attribute.String("url.scheme", scheme),
				)
			}

			L := base.With(
				"request_id", id,
				"client.address", client,
				"network.peer.address", peer,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
				"url.scheme", scheme,
			)
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, L)))
		})
	}
}

// AccessLog writes one "http request" line after each API request.
func AccessLog() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := newRecorder(w, r)
			next.ServeHTTP(rec, r)
			rec.end()

			if strings.HasPrefix(r.URL.Path, statusPaths) {
				return
			}
			ctx := r.Context()
			L := log.FromContext(ctx)
			if L == nil {
				return
			}
			route := routePattern(r)
			if route == UnmatchedRoute {
				route = r.URL.Path
			}
			L.Info(ctx, "http request",
				"http.response.status_code", rec.code(),
				"http.server.request.duration", time.Since(rec.started).Seconds(),
				"http.response.body.size", rec.written,
				"http.request.body.size", max(r.ContentLength, 0),
				"http.route", route,
			)
		})
	}
}

// Scope names the handler group on the request logger and span.
func Scope(handler string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(attribute.String("app.handler", handler))
			}
			ctx = log.WithContext(ctx, log.FromContext(ctx).With("handler", handler))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func peerHost(remote string) string {
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}

// requestScheme is "http" or "https", nothing else. ClientIP already removed
// X-Forwarded-Proto if the peer is not a trusted proxy.
func requestScheme(r *http.Request) string {
	candidates := []string{r.Header.Get("X-Forwarded-Proto")}
	if r.URL != nil {
		candidates = append(candidates, r.URL.Scheme)
	}
	for _, c := range candidates {
		first, _, _ := strings.Cut(c, ",")
		switch s := strings.ToLower(strings.TrimSpace(first)); s {
		case "http", "https":
			return s
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

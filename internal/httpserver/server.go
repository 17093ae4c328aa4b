// Package httpserver assembles the public API listener: the chi router with
// the unzip routes, health endpoints and the request middleware stack.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/ziprehome/internal/health"
	"github.com/keithlinneman/ziprehome/internal/httpmw"
	"github.com/keithlinneman/ziprehome/internal/log"
	"github.com/keithlinneman/ziprehome/internal/xerrors"
)

// statusPrefix holds liveness and readiness; those paths skip tracing and
// access logs.
const statusPrefix = "/-/"

// Listener defaults. Read and write timeouts are raised through Options
// because uploads and whole extractions run inside them.
const (
	DefaultPort              = 8080
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 5 * time.Minute
	DefaultWriteTimeout      = 15 * time.Minute
	DefaultIdleTimeout       = 90 * time.Second
	DefaultMaxHeaderBytes    = 64 << 10
)

// NewHandler returns the API handler. Middleware order, outermost first:
// security headers, recover, request id, client ip, rate limit, tracing,
// trace headers, metrics, request logger, then the router.
func NewHandler(opts Options) http.Handler {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}

	var recoverMW httpmw.Middleware
	if opts.UseRecoverMW {
		recoverMW = httpmw.Recover(L, opts.OnPanic)
	}

	return httpmw.Chain(newRouter(opts),
		httpmw.SecurityHeaders,
		recoverMW,
		httpmw.RequestID("X-Request-Id"),
		httpmw.ClientIPWithOptions(opts.ClientIPOpts),
		opts.RateLimitMW,
		traced,
		httpmw.TraceResponseHeaders("", ""),
		opts.MetricsMW,
		httpmw.WithLogger(L),
	)
}

func newRouter(opts Options) chi.Router {
	r := chi.NewRouter()

	// tree responses repeat path prefixes heavily; downloads stay uncompressed
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(opts.MaxBodyBytes))

	if opts.Health != nil {
		r.Get(statusPrefix+"healthy", health.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get(statusPrefix+"ready", health.ReadyzHandler(opts.Readiness))
	}
	if opts.APIRoutes != nil {
		r.Group(func(api chi.Router) {
			api.Use(httpmw.Scope("unzip"))
			opts.APIRoutes(api)
		})
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmw.WriteJSONError(w, http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmw.WriteJSONError(w, http.StatusMethodNotAllowed)
	})
	return r
}

// traced starts the server span. AnnotateHTTPRoute renames it to the route
// pattern once routing is done.
func traced(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !strings.HasPrefix(r.URL.Path, statusPrefix)
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + httpmw.UnmatchedRoute
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
}

// NewServer applies the listener defaults to handler.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start listens on opts.Port and serves in the background. The returned stop
// drains in-flight requests until its context ends and is safe to call more
// than once.
func Start(ctx context.Context, opts Options) (func(context.Context) error, error) {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := fmt.Sprintf(":%d", port)

	srv := NewServer(addr, NewHandler(opts))
	if opts.ReadTimeout > 0 {
		srv.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		srv.WriteTimeout = opts.WriteTimeout
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen on %s", addr)
	}

	L.Info(ctx, "api listener started", "addr", ln.Addr().String(),
		"read_timeout", srv.ReadTimeout, "write_timeout", srv.WriteTimeout)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, "api listener failed")
		}
	}()

	var (
		once    sync.Once
		stopErr error
	)
	return func(sctx context.Context) error {
		once.Do(func() {
			L.Info(sctx, "api listener draining")
			stopErr = srv.Shutdown(sctx)
		})
		return stopErr
	}, nil
}

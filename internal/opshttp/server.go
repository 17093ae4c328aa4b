// Package opshttp runs the operator listener next to the API: health checks,
// Prometheus scrape and pprof. Nothing on it is reachable from public
// addresses.
package opshttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"net/netip"
	"sync"
	"time"

	"github.com/keithlinneman/ziprehome/internal/health"
	"github.com/keithlinneman/ziprehome/internal/log"
	"github.com/keithlinneman/ziprehome/internal/xerrors"
)

// NewHandler builds the ops mux behind the peer address check.
func NewHandler(L log.Logger, opts *Options) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", health.HealthzHandler(opts.Health))
	mux.Handle("GET /readyz", health.ReadyzHandler(opts.Readiness))
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	if opts.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		mux.HandleFunc("/debug/pprof/", http.NotFound)
	}
	return internalOnly(L, mux)
}

// Start listens on opts.Port and returns a once-only stop.
func Start(ctx context.Context, L log.Logger, opts *Options) (func(context.Context) error, error) {
	if L == nil {
		L = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := fmt.Sprintf(":%d", port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(L, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// a CPU profile streams for 30s by default
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen on ops addr %s", addr)
	}
	L.Info(ctx, "ops listener started", "addr", ln.Addr().String(), "pprof", opts.EnablePprof)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, "ops listener failed")
		}
	}()

	var (
		once sync.Once
		err2 error
	)
	return func(sctx context.Context) error {
		once.Do(func() {
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			err2 = srv.Shutdown(c)
		})
		return err2
	}, nil
}

// internalOnly answers 403 unless the peer is loopback, private (RFC 1918 or
// ULA) or link-local. IPv4-mapped IPv6 peers are judged as IPv4.
func internalOnly(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ap, err := netip.ParseAddrPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ip := ap.Addr().Unmap()
		if !ip.IsLoopback() && !ip.IsPrivate() && !ip.IsLinkLocalUnicast() {
			L.Warn(r.Context(), "ops request from public address rejected",
				"network.peer.address", ip.String(), "url.path", r.URL.Path)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

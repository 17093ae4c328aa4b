package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// ClientIPOptions says how far to trust X-Forwarded-For.
type ClientIPOptions struct {
	// TrustedHops counts the reverse proxies in front of the service. 0
	// ignores X-Forwarded-For, 1 takes its last entry (one load balancer),
	// 2 the one before that (CDN plus load balancer), and so on.
	TrustedHops int
}

// ClientIPWithOptions resolves the caller address once per request and
// stores it for the rate limiter and request logger.
func ClientIPWithOptions(opts ClientIPOptions) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// resolveClientIP falls back to the peer address whenever the forwarded
// chain cannot be trusted, and then drops the forwarded headers so nothing
// downstream reads them.
func resolveClientIP(r *http.Request, hops int) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	switch {
	case r.RemoteAddr == "":
		return "0.0.0.0"
	case err != nil:
		return r.RemoteAddr
	}
	peer := net.ParseIP(host)
	if peer == nil {
		return "0.0.0.0"
	}

	if xff := forwardedFor(r, peer, hops); xff != "" {
		return xff
	}
	return host
}

func forwardedFor(r *http.Request, peer net.IP, hops int) string {
	untrusted := func() string {
		r.Header.Del("X-Forwarded-For")
		r.Header.Del("X-Forwarded-Proto")
		return ""
	}
	if hops <= 0 || !peer.IsPrivate() {
		return untrusted()
	}
	chain := r.Header.Get("X-Forwarded-For")
	if chain == "" {
		return ""
	}
	entries := strings.Split(chain, ",")
	if len(entries) < hops {
		return untrusted()
	}
	candidate := strings.TrimSpace(entries[len(entries)-hops])
	if net.ParseIP(candidate) == nil {
		return ""
	}
	return candidate
}

// ClientIPFromContext returns the resolved caller address, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}

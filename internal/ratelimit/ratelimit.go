// Package ratelimit throttles the unzip endpoints per client address. Each
// upload can fan out into many store writes, so a single caller is held to a
// token bucket before any archive is read.
package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/ziprehome/internal/httpmw"
)

// Defaults for New.
const (
	DefaultPerSecond   = 10
	DefaultBurst       = 30
	DefaultTTL         = 5 * time.Minute
	DefaultMaxVisitors = 100_000
)

type bucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
	// reported is set at the first denial and cleared by eviction
	reported bool
}

type hooks struct {
	firstDenied func(ip string)
	denied      func(ip string)
	capacity    func()
}

// Limiter keeps one token bucket per client address and evicts idle ones.
type Limiter struct {
	perSecond   rate.Limit
	burst       int
	ttl         time.Duration
	maxVisitors int
	on          hooks

	mu   sync.Mutex
	ips  map[string]*bucket
	full bool
}

type Option func(*Limiter)

// WithRate sets the refill rate and bucket size: WithRate(1, 5) admits five
// uploads at once and one more per second after that.
func WithRate(perSecond float64, burst int) Option {
	return func(l *Limiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL sets how long an idle address keeps its bucket.
func WithTTL(d time.Duration) Option {
	return func(l *Limiter) { l.ttl = d }
}

// WithMaxVisitors caps tracked addresses; unknown addresses are refused once
// it is reached. 0 removes the cap.
func WithMaxVisitors(n int) Option {
	return func(l *Limiter) { l.maxVisitors = n }
}

// WithOnFirstDenied runs once per bucket lifetime, at its first denial.
func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *Limiter) { l.on.firstDenied = fn }
}

// WithOnDenied runs on every refused request.
func WithOnDenied(fn func(ip string)) Option {
	return func(l *Limiter) { l.on.denied = fn }
}

// WithOnCapacity runs when the address table fills up.
func WithOnCapacity(fn func()) Option {
	return func(l *Limiter) { l.on.capacity = fn }
}

// New returns a Limiter whose eviction loop runs until ctx is done.
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		perSecond:   DefaultPerSecond,
		burst:       DefaultBurst,
		ttl:         DefaultTTL,
		maxVisitors: DefaultMaxVisitors,
		ips:         make(map[string]*bucket),
	}
	for _, o := range opts {
		o(l)
	}
	go l.evictLoop(ctx)
	return l
}

// verdict is computed under the lock; hooks run after it is released.
type verdict struct {
	ok          bool
	firstDenial bool
	filledUp    bool
}

func (l *Limiter) take(ip string, now time.Time) verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.ips[ip]
	if !ok {
		if l.maxVisitors > 0 && len(l.ips) >= l.maxVisitors {
			filled := !l.full
			l.full = true
			return verdict{filledUp: filled}
		}
		b = &bucket{tokens: rate.NewLimiter(l.perSecond, l.burst)}
		l.ips[ip] = b
	}
	b.lastSeen = now
	if b.tokens.AllowN(now, 1) {
		return verdict{ok: true}
	}
	first := !b.reported
	b.reported = true
	return verdict{firstDenial: first}
}

// Allow reports whether ip may proceed and fires the denial hooks if not.
func (l *Limiter) Allow(ip string) bool {
	v := l.take(ip, time.Now())
	if v.ok {
		return true
	}
	if v.filledUp && l.on.capacity != nil {
		l.on.capacity()
	}
	if v.firstDenial && l.on.firstDenied != nil {
		l.on.firstDenied(ip)
	}
	if l.on.denied != nil {
		l.on.denied(ip)
	}
	return false
}

// Len returns the number of tracked addresses.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ips)
}

func (l *Limiter) evictLoop(ctx context.Context) {
	t := time.NewTicker(l.ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.evict(now)
		}
	}
}

func (l *Limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, b := range l.ips {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.ips, ip)
		}
	}
	if l.maxVisitors == 0 || len(l.ips) < l.maxVisitors {
		l.full = false
	}
}

// Middleware refuses throttled callers with a JSON 429. The address comes
// from httpmw.ClientIPWithOptions, so forwarded headers only count behind
// configured proxies. The body does not reveal the limit or refill time.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(httpmw.ClientIPFromContext(r.Context())) {
			w.Header().Set("Retry-After", "30")
			httpmw.WriteJSONError(w, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

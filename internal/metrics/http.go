package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute keeps raw request paths out of label values.
const unmatchedRoute = "unmatched"

type httpMetrics struct {
	inflight  prometheus.Gauge
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	respBytes *prometheus.HistogramVec

	panics          prometheus.Counter
	limited         prometheus.Counter
	limiterCapacity prometheus.Counter
}

func newHTTPMetrics(f promauto.Factory) httpMetrics {
	return httpMetrics{
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "API requests currently being served",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "API requests by method, route and status",
		}, []string{"method", "route", "status"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "API responses with a 5xx status, by method and route",
		}, []string{"method", "route"}),
		// extractions of large uploads run for minutes
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "API request latency by method and route",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"method", "route"}),
		respBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "API response size by method and route",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		}, []string{"method", "route"}),
		panics: f.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Handler panics turned into 500s",
		}),
		limited: f.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Requests refused with 429 by the per-address limiter",
		}),
		limiterCapacity: f.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Times the limiter's address table filled up",
		}),
	}
}

func (m *ServerMetrics) IncHttpPanic()         { m.http.panics.Inc() }
func (m *ServerMetrics) IncRateLimitDenied()   { m.http.limited.Inc() }
func (m *ServerMetrics) IncRateLimitCapacity() { m.http.limiterCapacity.Inc() }

type countingWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *countingWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *countingWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func (w *countingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Middleware records request metrics under the chi route pattern. It sits
// outside the router, so it seeds a route context for chi to fill in.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if chi.RouteContext(r.Context()) == nil {
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
		}

		m.http.inflight.Inc()
		defer m.http.inflight.Dec()

		cw := &countingWriter{ResponseWriter: w}
		next.ServeHTTP(cw, r)

		status := cw.status
		if status == 0 {
			status = http.StatusOK
		}
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = unmatchedRoute
		}

		m.http.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		if status >= http.StatusInternalServerError {
			m.http.errors.WithLabelValues(r.Method, route).Inc()
		}
		observe(r.Context(), m.http.duration.WithLabelValues(r.Method, route), time.Since(start).Seconds())
		m.http.respBytes.WithLabelValues(r.Method, route).Observe(float64(cw.bytes))
	})
}

// observe attaches the trace id as an exemplar when the request is sampled.
func observe(ctx context.Context, o prometheus.Observer, v float64) {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() && sc.IsSampled() {
		if eo, ok := o.(prometheus.ExemplarObserver); ok {
			eo.ObserveWithExemplar(v, prometheus.Labels{"trace_id": sc.TraceID().String()})
			return
		}
	}
	o.Observe(v)
}

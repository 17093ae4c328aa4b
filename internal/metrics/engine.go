package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type engineMetrics struct {
	levels        *prometheus.CounterVec
	levelDuration prometheus.Histogram
	levelDepth    prometheus.Histogram
	entries       *prometheus.CounterVec
	bytes         prometheus.Counter
	leafStore     *prometheus.HistogramVec
	failures      *prometheus.CounterVec
	auditFailures prometheus.Counter

	poolWait *prometheus.HistogramVec
	poolBusy *prometheus.GaugeVec
}

func newEngineMetrics(f promauto.Factory) engineMetrics {
	return engineMetrics{
		levels: f.NewCounterVec(prometheus.CounterOpts{
			Name: "extract_levels_total",
			Help: "Archive levels walked, by result",
		}, []string{"result"}),
		levelDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "extract_level_duration_seconds",
			Help:    "Time to walk one archive level and join its children",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}),
		levelDepth: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "extract_level_depth",
			Help:    "Nesting depth of walked archive levels, root is 0",
			Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 12, 16},
		}),
		entries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "extract_entries_total",
			Help: "Archive entries walked, by kind",
		}, []string{"kind"}),
		bytes: f.NewCounter(prometheus.CounterOpts{
			Name: "extract_extracted_bytes_total",
			Help: "Decompressed bytes drained from archive entries",
		}),
		leafStore: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "extract_leaf_store_duration_seconds",
			Help:    "Time to store one leaf, including the wait for an upload slot",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"result"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "extract_failures_total",
			Help: "Failed extraction calls, by failure kind",
		}, []string{"kind"}),
		auditFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "extract_audit_failures_total",
			Help: "Audit records that could not be written",
		}),
		poolWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workpool_wait_seconds",
			Help:    "Time tasks waited for a pool slot, by pool",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"pool"}),
		poolBusy: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "workpool_busy_slots",
			Help: "Pool slots currently held, by pool",
		}, []string{"pool"}),
	}
}

// ServerMetrics satisfies extract.Observer.

func (m *ServerMetrics) ObserveLevel(depth, _ int, d time.Duration, err error) {
	m.engine.levels.WithLabelValues(result(err)).Inc()
	m.engine.levelDuration.Observe(d.Seconds())
	m.engine.levelDepth.Observe(float64(depth))
}

func (m *ServerMetrics) ObserveEntry(kind string, bytes int64) {
	m.engine.entries.WithLabelValues(kind).Inc()
	if bytes > 0 {
		m.engine.bytes.Add(float64(bytes))
	}
}

func (m *ServerMetrics) ObserveLeafStore(d time.Duration, err error) {
	m.engine.leafStore.WithLabelValues(result(err)).Observe(d.Seconds())
}

func (m *ServerMetrics) ObserveFailure(kind string) { m.engine.failures.WithLabelValues(kind).Inc() }
func (m *ServerMetrics) ObserveAuditFailure()       { m.engine.auditFailures.Inc() }

// ObservePoolWait and SetPoolBusy match the workpool hook signatures.
func (m *ServerMetrics) ObservePoolWait(pool string, d time.Duration) {
	m.engine.poolWait.WithLabelValues(pool).Observe(d.Seconds())
}

func (m *ServerMetrics) SetPoolBusy(pool string, busy int) {
	m.engine.poolBusy.WithLabelValues(pool).Set(float64(busy))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

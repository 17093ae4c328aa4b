// Package metrics owns the service's Prometheus registry: HTTP request
// metrics for the unzip API, extraction engine and worker pool metrics, and
// build and profiling state.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/ziprehome/internal/version"
)

// ServerMetrics is created once per process. Labels are bounded: method,
// route pattern, status, result, failure kind, entry kind and pool name.
type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	http   httpMetrics
	engine engineMetrics

	buildInfo *prometheus.GaugeVec
	profiling prometheus.Gauge
}

func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &ServerMetrics{
		reg:    reg,
		http:   newHTTPMetrics(f),
		engine: newEngineMetrics(f),
		buildInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata, always 1",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profiling: f.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "1 while continuous profiling is running",
		}),
		handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}),
	}
	return m
}

// Handler serves the registry for the ops listener.
func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// SetBuildInfoFromVersion publishes the build_info series. Call once.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.WithLabelValues(app, component, vi.Version, vi.Commit, vi.CommitDate,
		vi.BuildId, vi.BuildDate, dirty, vi.GoVersion).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	v := 0.0
	if active {
		v = 1
	}
	m.profiling.Set(v)
}

package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	dto "github.com/prometheus/client_model/go"

	"github.com/keithlinneman/ziprehome/internal/version"
)

func family(t *testing.T, m *ServerMetrics, name string) *dto.MetricFamily {
	t.Helper()
	fams, err := m.reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range fams {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric %q not registered or has no samples", name)
	return nil
}

func labels(pm *dto.Metric) map[string]string {
	out := map[string]string{}
	for _, lp := range pm.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func scrape(t *testing.T, m *ServerMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Post("/unzip_upload_doc/{clientId}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"doc_ids":["a"]}`))
	})
	r.Get("/fetch_file_documentum/{documentLinkId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	h := m.Middleware(r)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/unzip_upload_doc/acme", nil),
		httptest.NewRequest(http.MethodPost, "/unzip_upload_doc/globex", nil),
		httptest.NewRequest(http.MethodGet, "/fetch_file_documentum/77", nil),
		httptest.NewRequest(http.MethodGet, "/does/not/exist", nil),
	} {
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	got := map[string]float64{}
	for _, pm := range family(t, m, "http_requests_total").GetMetric() {
		l := labels(pm)
		got[l["method"]+" "+l["route"]+" "+l["status"]] = pm.GetCounter().GetValue()
	}
	want := map[string]float64{
		"POST /unzip_upload_doc/{clientId} 200":          2,
		"GET /fetch_file_documentum/{documentLinkId} 502": 1,
		"GET unmatched 404":                                1,
	}
	if len(got) != len(want) {
		t.Fatalf("series = %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}

	errs := family(t, m, "http_errors_total").GetMetric()
	if len(errs) != 1 || labels(errs[0])["route"] != "/fetch_file_documentum/{documentLinkId}" {
		t.Fatalf("errors = %v", errs)
	}
	if v := family(t, m, "http_inflight_requests").GetMetric()[0].GetGauge().GetValue(); v != 0 {
		t.Fatalf("inflight after requests = %v", v)
	}
}

func TestEngineObserver(t *testing.T) {
	m := New()
	m.ObserveLevel(0, 3, 120*time.Millisecond, nil)
	m.ObserveLevel(2, 1, 10*time.Millisecond, errors.New("corrupt"))
	m.ObserveEntry("leaf", 100)
	m.ObserveEntry("leaf", 50)
	m.ObserveEntry("directory", 0)
	m.ObserveLeafStore(5*time.Millisecond, nil)
	m.ObserveFailure("store_transport")
	m.ObserveAuditFailure()
	m.ObservePoolWait("upload", 3*time.Millisecond)
	m.SetPoolBusy("upload", 4)
	m.SetPoolBusy("upload", 2)

	body := scrape(t, m)
	for _, line := range []string{
		`extract_levels_total{result="ok"} 1`,
		`extract_levels_total{result="error"} 1`,
		`extract_level_depth_count 2`,
		`extract_entries_total{kind="leaf"} 2`,
		`extract_entries_total{kind="directory"} 1`,
		`extract_extracted_bytes_total 150`,
		`extract_leaf_store_duration_seconds_count{result="ok"} 1`,
		`extract_failures_total{kind="store_transport"} 1`,
		`extract_audit_failures_total 1`,
		`workpool_wait_seconds_count{pool="upload"} 1`,
		`workpool_busy_slots{pool="upload"} 2`,
	} {
		if !strings.Contains(body, line) {
			t.Errorf("scrape missing %q", line)
		}
	}
}

func TestServerState(t *testing.T) {
	m := New()
	dirty := true
	m.SetBuildInfoFromVersion("ziprehome", "server", version.Info{Version: "1.4.0", Commit: "abc123", VCSDirty: &dirty})
	m.SetProfilingActive(true)
	m.IncHttpPanic()
	m.IncRateLimitDenied()
	m.IncRateLimitDenied()
	m.IncRateLimitCapacity()

	b := labels(family(t, m, "build_info").GetMetric()[0])
	if b["app"] != "ziprehome" || b["component"] != "server" || b["version"] != "1.4.0" || b["vcs_dirty"] != "true" {
		t.Fatalf("build_info labels = %v", b)
	}

	body := scrape(t, m)
	for _, line := range []string{
		"profiling_active 1",
		"http_panic_total 1",
		"http_requests_rate_limited_total 2",
		"http_requests_rate_limited_capacity_total 1",
		"go_goroutines",
		"process_",
	} {
		if !strings.Contains(body, line) {
			t.Errorf("scrape missing %q", line)
		}
	}
}

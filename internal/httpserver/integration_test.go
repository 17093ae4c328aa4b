package httpserver_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/ziprehome/internal/audit"
	"github.com/keithlinneman/ziprehome/internal/docstore"
	"github.com/keithlinneman/ziprehome/internal/extract"
	"github.com/keithlinneman/ziprehome/internal/health"
	"github.com/keithlinneman/ziprehome/internal/httpserver"
	"github.com/keithlinneman/ziprehome/internal/log"
	"github.com/keithlinneman/ziprehome/internal/metrics"
	"github.com/keithlinneman/ziprehome/internal/unziphttp"
	"github.com/keithlinneman/ziprehome/internal/unzipsvc"
	"github.com/keithlinneman/ziprehome/internal/workpool"
)

func zipUpload(t *testing.T) (io.Reader, string) {
	t.Helper()
	var inner bytes.Buffer
	iw := zip.NewWriter(&inner)
	w, _ := iw.Create("deep.txt")
	_, _ = io.WriteString(w, "deep")
	if err := iw.Close(); err != nil {
		t.Fatal(err)
	}

	var outer bytes.Buffer
	ow := zip.NewWriter(&outer)
	w, _ = ow.Create("top.txt")
	_, _ = io.WriteString(w, "top")
	w, _ = ow.Create("nested.zip")
	_, _ = w.Write(inner.Bytes())
	if err := ow.Close(); err != nil {
		t.Fatal(err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(unziphttp.FileField, "bundle.zip")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(outer.Bytes())
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &body, mw.FormDataContentType()
}

// TestIntegration_FullStack wires httpserver.NewHandler with the real unzip
// API, engine and in-memory store, then checks that middleware, routing and
// metrics work end to end.
func TestIntegration_FullStack(t *testing.T) {
	m := metrics.New()

	ep, err := workpool.New("extract", 2, workpool.WithOnWait(m.ObservePoolWait), workpool.WithOnBusy(m.SetPoolBusy))
	if err != nil {
		t.Fatal(err)
	}
	up, err := workpool.New("upload", 10, workpool.WithOnWait(m.ObservePoolWait), workpool.WithOnBusy(m.SetPoolBusy))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ep.Shutdown(ctx)
		_ = up.Shutdown(ctx)
	})

	store := docstore.NewMemStore()
	tmp := t.TempDir()
	eng, err := extract.New(extract.Options{
		ExtractPool: ep,
		UploadPool:  up,
		Store:       store,
		Audit:       audit.NewMemory(),
		TempDir:     tmp,
		Observer:    m,
	})
	if err != nil {
		t.Fatal(err)
	}
	svc, err := unzipsvc.New(unzipsvc.Options{Engine: eng, Store: store, TempDir: tmp})
	if err != nil {
		t.Fatal(err)
	}

	var gate health.ShutdownGate
	handler := httpserver.NewHandler(httpserver.Options{
		Logger:       log.Nop(),
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		Health:       health.Fixed(true, ""),
		Readiness:    gate.Ready(),
		MaxBodyBytes: 1 << 20,
		APIRoutes: func(r chi.Router) {
			unziphttp.NewAPI(svc, nil).RegisterRoutes(r)
		},
	})

	t.Run("unzip upload returns tree with security headers", func(t *testing.T) {
		body, ct := zipUpload(t)
		req := httptest.NewRequest(http.MethodPost, "/unzip", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "X-Request-Id"} {
			if rec.Header().Get(h) == "" {
				t.Errorf("%s missing", h)
			}
		}

		var res unzipsvc.Response
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(res.IDs) != 2 {
			t.Fatalf("ids = %v, want 2 leaves", res.IDs)
		}
		if res.Root == nil || res.Root.Find("bundle.zip/nested.zip/deep.txt") == nil {
			t.Fatalf("nested leaf missing from tree: %+v", res.Root)
		}
		if store.Len() != 2 {
			t.Fatalf("store holds %d docs, want 2", store.Len())
		}
	})

	t.Run("unknown route is JSON 404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", http.NoBody))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
		if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
			t.Fatalf("Content-Type = %q", rec.Header().Get("Content-Type"))
		}
	})

	t.Run("fetch of unknown document is 404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fetch_file_documentum/missing", http.NoBody))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("readiness follows shutdown gate", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/ready", http.NoBody))
		if rec.Code != http.StatusOK {
			t.Fatalf("ready: status = %d", rec.Code)
		}

		gate.Set("draining")
		defer gate.Clear()
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/ready", http.NoBody))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("draining: status = %d, want 503", rec.Code)
		}
	})

	t.Run("metrics use route patterns and engine counters", func(t *testing.T) {
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
		out := rec.Body.String()

		for _, want := range []string{
			`route="/unzip"`,
			`route="/fetch_file_documentum/{documentLinkId}"`,
			`route="unmatched"`,
			`extract_levels_total{result="ok"} 2`,
			`workpool_wait_seconds_count{pool="upload"}`,
		} {
			if !strings.Contains(out, want) {
				t.Errorf("metrics output missing %s", want)
			}
		}
		if strings.Contains(out, `route="/nope"`) {
			t.Error("raw path leaked into route label")
		}
	})
}

package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestAll(t *testing.T) {
	ctx := context.Background()
	calls := 0
	counting := CheckFunc(func(context.Context) error { calls++; return nil })
	dbDown := errors.New("audit db: connection refused")

	if err := All().Check(ctx); err != nil {
		t.Fatalf("empty All = %v", err)
	}
	if err := All(nil, counting, Fixed(true, "")).Check(ctx); err != nil || calls != 1 {
		t.Fatalf("passing All = %v, calls %d", err, calls)
	}
	err := All(CheckFunc(func(context.Context) error { return dbDown }), Fixed(false, "second"), counting).Check(ctx)
	if !errors.Is(err, dbDown) || calls != 1 {
		t.Fatalf("failing All = %v, calls %d; want first error and no further checks", err, calls)
	}
	if err := Fixed(false, "").Check(ctx); err == nil || err.Error() != "unhealthy" {
		t.Fatalf("Fixed default reason = %v", err)
	}
}

func TestShutdownGate(t *testing.T) {
	ctx := context.Background()
	var g ShutdownGate
	p := g.Ready()

	if err := p.Check(ctx); err != nil {
		t.Fatalf("zero gate = %v", err)
	}
	g.Set("")
	if err := p.Check(ctx); err == nil || err.Error() != "draining" {
		t.Fatalf("closed gate = %v", err)
	}
	g.Set("shutting down")
	if err := p.Check(ctx); err == nil || err.Error() != "shutting down" {
		t.Fatalf("reason not replaced: %v", err)
	}
	g.Clear()
	if err := p.Check(ctx); err != nil {
		t.Fatalf("cleared gate = %v", err)
	}

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				g.Set("draining")
			} else {
				_ = p.Check(ctx)
			}
		}()
	}
	wg.Wait()
}

func TestHandlers(t *testing.T) {
	var g ShutdownGate
	ready := ReadyzHandler(All(g.Ready()))

	serve := func(h http.HandlerFunc) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/-/ready", nil))
		return rec
	}

	if rec := serve(HealthzHandler(nil)); rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Fatalf("healthz nil checker = %d %q", rec.Code, rec.Body.String())
	}
	rec := serve(ready)
	if rec.Code != http.StatusOK || rec.Body.String() != "ready\n" || rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("ready = %d %q", rec.Code, rec.Body.String())
	}

	g.Set("draining")
	rec = serve(ready)
	if rec.Code != http.StatusServiceUnavailable || rec.Body.String() != "draining\n" {
		t.Fatalf("draining = %d %q", rec.Code, rec.Body.String())
	}
}

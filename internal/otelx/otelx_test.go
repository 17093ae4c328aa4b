package otelx

import (
	"context"
	"net/http"
	"slices"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestInit_DisabledInstallsProviderAndPropagators(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false, Endpoint: "ignored:4317"})
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown = %v", err)
	}

	fields := otel.GetTextMapPropagator().Fields()
	for _, f := range []string{"traceparent", "baggage"} {
		if !slices.Contains(fields, f) {
			t.Errorf("propagator fields %v missing %s", fields, f)
		}
	}

	// the SDK provider mints valid span contexts, which the trace response
	// headers and metric exemplars depend on
	ctx, span := otel.Tracer("test").Start(context.Background(), "extract")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Fatal("span context not valid with tracing disabled")
	}

	h := http.Header{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
	if h.Get("traceparent") == "" {
		t.Fatal("traceparent not injected")
	}
}

func TestInit_EnabledUnreachableCollectorIsBounded(t *testing.T) {
	start := time.Now()
	shutdown, err := Init(context.Background(), Options{
		Enabled:   true,
		Endpoint:  "127.0.0.1:1",
		Insecure:  true,
		Sample:    1,
		Service:   "ziprehome",
		Component: "test",
		Version:   "v0.0.0",
	})
	if elapsed := time.Since(start); elapsed > dialTimeout+2*time.Second {
		t.Fatalf("Init took %v", elapsed)
	}
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

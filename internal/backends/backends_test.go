package backends

import (
	"context"
	"testing"
	"time"

	"github.com/keithlinneman/ziprehome/internal/audit"
	"github.com/keithlinneman/ziprehome/internal/cfg"
	"github.com/keithlinneman/ziprehome/internal/docstore"
)

func TestExtractWorkers_AtLeastOne(t *testing.T) {
	if got := ExtractWorkers(cfg.App{ExtractMultiplier: 0}); got != 1 {
		t.Fatalf("ExtractWorkers = %d, want 1", got)
	}
	if got := ExtractWorkers(cfg.App{ExtractMultiplier: 2}); got < 2 {
		t.Fatalf("ExtractWorkers = %d, want >= 2", got)
	}
}

func TestNewPools_Sizes(t *testing.T) {
	ep, up, err := NewPools(cfg.App{ExtractMultiplier: 1, UploadWorkers: 12})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ep.Shutdown(ctx)
		_ = up.Shutdown(ctx)
	})
	if ep.Name() != "extract" || up.Name() != "upload" {
		t.Fatalf("names = %q, %q", ep.Name(), up.Name())
	}
	if up.Size() != 12 {
		t.Fatalf("upload size = %d, want 12", up.Size())
	}
}

func TestNewPools_RejectsZeroUploadWorkers(t *testing.T) {
	if _, _, err := NewPools(cfg.App{ExtractMultiplier: 1}); err == nil {
		t.Fatal("expected error for zero upload workers")
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, err := OpenStore(ctx, cfg.App{StoreBackend: cfg.StoreMemory}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*docstore.MemStore); !ok {
		t.Fatalf("memory backend = %T", s)
	}

	s, err = OpenStore(ctx, cfg.App{
		StoreBackend:          cfg.StoreHTTP,
		StoreFetchURL:         "http://docs.internal/fetch",
		StoreUploadURL:        "http://docs.internal/upload",
		StoreTimeout:          time.Second,
		StoreMaxRetries:       1,
		StoreMaxResponseBytes: 1 << 20,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*docstore.HTTPStore); !ok {
		t.Fatalf("http backend = %T", s)
	}

	if _, err := OpenStore(ctx, cfg.App{StoreBackend: "ftp"}, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestOpenAudit(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		backend string
		want    string
	}{
		{cfg.AuditMemory, "*audit.Memory"},
		{cfg.AuditNone, "audit.Nop"},
		{"", "audit.Nop"},
	}
	for _, tt := range tests {
		st, ready, err := OpenAudit(ctx, cfg.App{AuditBackend: tt.backend})
		if err != nil {
			t.Fatalf("%q: %v", tt.backend, err)
		}
		switch st.(type) {
		case *audit.Memory:
			if tt.want != "*audit.Memory" {
				t.Errorf("%q: got *audit.Memory", tt.backend)
			}
		case audit.Nop:
			if tt.want != "audit.Nop" {
				t.Errorf("%q: got audit.Nop", tt.backend)
			}
		default:
			t.Errorf("%q: unexpected store %T", tt.backend, st)
		}
		if err := ready.Check(ctx); err != nil {
			t.Errorf("%q: readiness = %v", tt.backend, err)
		}
	}

	if _, _, err := OpenAudit(ctx, cfg.App{AuditBackend: "mysql"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

package main

import (
	"context"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/ziprehome/internal/backends"
	"github.com/keithlinneman/ziprehome/internal/cfg"
	"github.com/keithlinneman/ziprehome/internal/extract"
	"github.com/keithlinneman/ziprehome/internal/health"
	"github.com/keithlinneman/ziprehome/internal/httpmw"
	"github.com/keithlinneman/ziprehome/internal/httpserver"
	"github.com/keithlinneman/ziprehome/internal/log"
	"github.com/keithlinneman/ziprehome/internal/metrics"
	"github.com/keithlinneman/ziprehome/internal/opshttp"
	"github.com/keithlinneman/ziprehome/internal/ratelimit"
	"github.com/keithlinneman/ziprehome/internal/unziphttp"
	"github.com/keithlinneman/ziprehome/internal/unzipsvc"
	"github.com/keithlinneman/ziprehome/internal/workpool"
	"github.com/keithlinneman/ziprehome/internal/xerrors"
)

// services is everything run starts after telemetry, in shutdown order.
type services struct {
	gate        health.ShutdownGate
	apiStop     func(context.Context) error
	opsStop     func(context.Context) error
	extractPool *workpool.Pool
	uploadPool  *workpool.Pool
	closeAudit  func()
}

func startServices(ctx context.Context, conf cfg.App, L log.Logger, m *metrics.ServerMetrics) (*services, error) {
	store, err := backends.OpenStore(ctx, conf, L.With("subsystem", "docstore"))
	if err != nil {
		return nil, xerrors.Wrapf(err, "content store %q", conf.StoreBackend)
	}
	rec, auditReady, err := backends.OpenAudit(ctx, conf)
	if err != nil {
		return nil, xerrors.Wrapf(err, "audit log %q", conf.AuditBackend)
	}
	s := &services{closeAudit: func() { _ = rec.Close() }}

	s.extractPool, s.uploadPool, err = backends.NewPools(conf,
		workpool.WithOnWait(m.ObservePoolWait),
		workpool.WithOnBusy(m.SetPoolBusy),
	)
	if err != nil {
		s.closeAudit()
		return nil, err
	}
	L.Info(ctx, "worker pools ready",
		"extract_workers", s.extractPool.Size(), "upload_workers", s.uploadPool.Size())

	engine, err := extract.New(extract.Options{
		ExtractPool:     s.extractPool,
		UploadPool:      s.uploadPool,
		Store:           store,
		Audit:           rec,
		TempDir:         conf.TempDir,
		Logger:          L.With("subsystem", "extract"),
		Observer:        m,
		CancelOnFailure: conf.CancelOnFailure,
		MaxEntrySize:    conf.MaxEntrySize,
	})
	if err != nil {
		s.closeAudit()
		return nil, err
	}
	svc, err := unzipsvc.New(unzipsvc.Options{
		Engine:         engine,
		Store:          store,
		Audit:          rec,
		TempDir:        conf.TempDir,
		MaxUploadBytes: conf.MaxUploadBytes,
		Logger:         L.With("subsystem", "unzipsvc"),
	})
	if err != nil {
		s.closeAudit()
		return nil, err
	}
	api := unziphttp.NewAPI(svc, L.With("subsystem", "unziphttp"))

	readiness := health.All(s.gate.Ready(), auditReady)
	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
		ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
		// logged once per bucket lifetime, counted every time
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "client.address", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limiter address table full, refusing new clients until eviction")
		}),
	)

	s.apiStop, err = httpserver.Start(ctx, httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    func(r chi.Router) { api.RegisterRoutes(r) },
		MaxBodyBytes: conf.MaxUploadBytes,
		ReadTimeout:  conf.HTTPReadTimeout,
		WriteTimeout: conf.HTTPWriteTimeout,
	})
	if err != nil {
		s.closeAudit()
		return nil, err
	}

	s.opsStop, err = opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		_ = s.apiStop(context.Background())
		s.closeAudit()
		return nil, err
	}
	return s, nil
}

// stop closes the listeners first so no new extraction starts, then lets the
// pools finish what is running.
func (s *services) stop(ctx context.Context, L log.Logger) {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"api listener", s.apiStop},
		{"ops listener", s.opsStop},
		{"extract pool", s.extractPool.Shutdown},
		{"upload pool", s.uploadPool.Shutdown},
	}
	for _, st := range steps {
		if err := st.fn(ctx); err != nil {
			L.Error(ctx, err, "shutdown step failed", "step", st.name)
		}
	}
}

// Command server runs the ziprehome HTTP API: archive uploads in, rehomed
// documents and a metadata tree out, with an ops listener beside it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/ziprehome/internal/cfg"
	"github.com/keithlinneman/ziprehome/internal/health"
	"github.com/keithlinneman/ziprehome/internal/log"
	"github.com/keithlinneman/ziprehome/internal/metrics"
	"github.com/keithlinneman/ziprehome/internal/otelx"
	"github.com/keithlinneman/ziprehome/internal/prof"
	v "github.com/keithlinneman/ziprehome/internal/version"
)

const (
	// readiness fails this long before the listeners close
	drainPeriod = 30 * time.Second
	// budget for listeners, pools and exporters once draining is over
	stopBudget = 30 * time.Second
)

func main() {
	conf, ok := parseConfig()
	if !ok {
		return
	}
	if err := run(conf); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

// parseConfig reads flags, then ZIPREHOME_* for flags left unset. ok is
// false after -V.
func parseConfig() (cfg.App, bool) {
	var (
		conf        cfg.App
		showVersion bool
	)
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(v.Get().String())
		return conf, false
	}
	cfg.FillFromEnv(flag.CommandLine, "ZIPREHOME_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(2)
	}
	return conf, true
}

func newLogger(conf cfg.App, vi v.Info) (log.Logger, error) {
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	return log.New(log.Options{
		App:               v.AppName,
		Component:         "server",
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
}

func run(conf cfg.App) error {
	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	vi := v.Get()
	L, err := newLogger(conf, vi)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer L.Sync()
	ctx = log.WithContext(ctx, L)
	logStartup(ctx, L, conf, vi)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		ProfileMutexFraction: 5,
		BlockProfileRate:     int(time.Millisecond),
	})
	// a profiler failure is logged by prof and never fatal
	m.SetProfilingActive(conf.EnablePyroscope && err == nil)
	defer stopProf()

	// the collector is a localhost sidecar, so plaintext gRPC
	stopOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "tracing disabled, exporter init failed", "otlp_endpoint", conf.OTLPEndpoint)
		stopOTEL = func(context.Context) error { return nil }
	}

	svc, err := startServices(ctx, conf, L, m)
	if err != nil {
		return err
	}
	defer svc.closeAudit()

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd readiness not sent", "reason", err.Error())
	}

	<-ctx.Done()
	stopSignals()
	drain(L, &svc.gate)

	bg := context.Background()
	sctx, cancel := context.WithTimeout(bg, stopBudget)
	defer cancel()
	svc.stop(sctx, L)
	if err := stopOTEL(sctx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	L.Info(bg, "shutdown complete")
	return nil
}

func logStartup(ctx context.Context, L log.Logger, conf cfg.App, vi v.Info) {
	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"trace_sample", conf.TraceSample,
		"upload_workers", conf.UploadWorkers,
		"upload_rate", conf.UploadRate,
		"cancel_on_failure", conf.CancelOnFailure,
		"temp_dir", conf.TempDir,
		"max_entry_size", conf.MaxEntrySize,
		"max_upload_bytes", conf.MaxUploadBytes,
		"store_backend", conf.StoreBackend,
		"audit_backend", conf.AuditBackend,
	)
}

// drain closes the readiness gate and waits out drainPeriod so load
// balancers stop sending uploads. A second signal cuts the wait short.
func drain(L log.Logger, gate *health.ShutdownGate) {
	bg := context.Background()
	gate.Set("draining")
	L.Info(bg, "shutdown signal received, readiness failing", "drain_period", drainPeriod)

	again := make(chan os.Signal, 1)
	signal.Notify(again, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(again)

	select {
	case <-time.After(drainPeriod):
	case <-again:
		L.Warn(bg, "second signal received, skipping drain")
	}
}

// Package prof pushes continuous profiles to a Pyroscope server.
package prof

import (
	"context"
	"runtime"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/ziprehome/internal/log"
	"github.com/keithlinneman/ziprehome/internal/version"
	"github.com/keithlinneman/ziprehome/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	AuthToken     string
	TenantID      string
	Tags          map[string]string

	// Zero leaves the runtime's mutex and block profiling off.
	ProfileMutexFraction int
	BlockProfileRate     int
}

func noop() {}

// Start begins profiling. The returned stop is never nil and is safe to
// call even when err is set.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	if !opts.Enabled {
		L.Info(ctx, "pyroscope disabled")
		return noop, nil
	}
	if opts.ServerAddress == "" {
		err := xerrors.New("pyroscope enabled without a server address")
		L.Error(ctx, err, "pyroscope options")
		return noop, err
	}
	if opts.AppName == "" {
		opts.AppName = version.AppName
	}

	types := profileTypes(opts)
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		AuthToken:       opts.AuthToken,
		TenantID:        opts.TenantID,
		Tags:            opts.Tags,
		ProfileTypes:    types,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "server_address", opts.ServerAddress)
		return noop, err
	}
	L.Info(ctx, "pyroscope started", "server_address", opts.ServerAddress,
		"app_name", opts.AppName, "profile_types", len(types))

	return func() {
		_ = profiler.Stop()
		L.Info(context.Background(), "pyroscope stopped")
	}, nil
}

// profileTypes enables mutex and block profiling as a side effect; pool slot
// contention during extraction shows up there.
func profileTypes(opts Options) []pyroscope.ProfileType {
	types := []pyroscope.ProfileType{
		pyroscope.ProfileCPU,
		pyroscope.ProfileAllocObjects,
		pyroscope.ProfileAllocSpace,
		pyroscope.ProfileInuseObjects,
		pyroscope.ProfileInuseSpace,
		pyroscope.ProfileGoroutines,
	}
	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
		types = append(types, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
		types = append(types, pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration)
	}
	return types
}

package prof

import (
	"context"
	"runtime"
	"strings"
	"testing"

	"github.com/keithlinneman/ziprehome/internal/log"
)

func TestStart_Disabled(t *testing.T) {
	ctx := log.WithContext(context.Background(), log.Nop())
	stop, err := Start(ctx, Options{Enabled: false, ServerAddress: "http://pyroscope:4040"})
	if err != nil || stop == nil {
		t.Fatalf("stop nil = %v, err = %v", stop == nil, err)
	}
	stop()
	stop()
}

func TestStart_EnabledWithoutAddress(t *testing.T) {
	stop, err := Start(context.Background(), Options{Enabled: true, AppName: "ziprehome", TenantID: "t1"})
	if err == nil || !strings.Contains(err.Error(), "server address") {
		t.Fatalf("err = %v", err)
	}
	if stop == nil {
		t.Fatal("stop must be callable after an error")
	}
	stop()
}

func TestProfileTypes(t *testing.T) {
	prevMutex := runtime.SetMutexProfileFraction(-1)
	t.Cleanup(func() {
		runtime.SetMutexProfileFraction(prevMutex)
		runtime.SetBlockProfileRate(0)
	})

	base := len(profileTypes(Options{}))
	if got := len(profileTypes(Options{ProfileMutexFraction: 5, BlockProfileRate: 1000})); got != base+4 {
		t.Fatalf("types with mutex and block = %d, want %d", got, base+4)
	}
	if runtime.SetMutexProfileFraction(-1) != 5 {
		t.Fatal("mutex profile fraction not applied")
	}
}

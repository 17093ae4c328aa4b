package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func mustPool(t *testing.T, size int, opts ...Option) *Pool {
	t.Helper()
	p, err := New("test", size, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func TestNew_RejectsZeroSize(t *testing.T) {
	if _, err := New("bad", 0); err == nil {
		t.Fatal("expected error for size 0")
	}
}

func TestDo_BoundsConcurrency(t *testing.T) {
	const size = 3
	p := mustPool(t, size)

	var cur, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Do(context.Background(), func(context.Context) error {
				n := cur.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				cur.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > size {
		t.Fatalf("peak concurrency = %d, want <= %d", got, size)
	}
	if p.Busy() != 0 {
		t.Fatalf("Busy = %d after all tasks returned", p.Busy())
	}
}

func TestDo_ReturnsTaskError(t *testing.T) {
	p := mustPool(t, 1)
	want := errors.New("boom")
	if err := p.Do(context.Background(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestDo_ContextCancelledWhileWaiting(t *testing.T) {
	p := mustPool(t, 1)

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started
	defer close(hold)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := p.Do(ctx, func(context.Context) error { ran = true; return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if ran {
		t.Fatal("fn must not run when the wait is abandoned")
	}
}

func TestShutdown_RejectsWaitersAndCancelsRunning(t *testing.T) {
	p, err := New("test", 1)
	if err != nil {
		t.Fatal(err)
	}

	started := make(chan struct{})
	runErr := make(chan error, 1)
	go func() {
		runErr <- p.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	<-started

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- p.Do(context.Background(), func(context.Context) error { return nil })
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if err := <-runErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("running task err = %v, want canceled", err)
	}
	if err := <-waitErr; !errors.Is(err, ErrClosed) {
		t.Fatalf("waiting task err = %v, want ErrClosed", err)
	}
	if err := p.Do(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("post-shutdown err = %v, want ErrClosed", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestShutdown_TimesOutOnStuckTask(t *testing.T) {
	p, err := New("stuck", 1)
	if err != nil {
		t.Fatal(err)
	}
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown err = %v, want deadline exceeded", err)
	}
	close(release)
}

func TestHooks(t *testing.T) {
	var mu sync.Mutex
	var waits int
	var busy []int
	p := mustPool(t, 2,
		WithOnWait(func(name string, d time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			if name != "test" || d < 0 {
				t.Errorf("OnWait(%q, %s)", name, d)
			}
			waits++
		}),
		WithOnBusy(func(_ string, n int) {
			mu.Lock()
			defer mu.Unlock()
			busy = append(busy, n)
		}),
	)

	if err := p.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if waits != 1 {
		t.Fatalf("waits = %d, want 1", waits)
	}
	if len(busy) != 2 || busy[0] != 1 || busy[1] != 0 {
		t.Fatalf("busy = %v, want [1 0]", busy)
	}
}

func TestWithRate_Throttles(t *testing.T) {
	p := mustPool(t, 4, WithRate(50, 1))

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := p.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
			t.Fatal(err)
		}
	}
	// burst 1 at 50/s: three waits of ~20ms each
	if el := time.Since(start); el < 40*time.Millisecond {
		t.Fatalf("4 tasks at 50/s finished in %s, expected throttling", el)
	}
}

func TestWithRate_ZeroIsUnlimited(t *testing.T) {
	p := mustPool(t, 1, WithRate(0, 0))
	if p.limiter != nil {
		t.Fatal("rate 0 should leave the pool unthrottled")
	}
}

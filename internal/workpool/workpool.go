// Package workpool provides named, bounded worker pools.
//
// A Pool caps how many tasks run at once. Callers block in Do until a slot
// frees up, their context ends, or the pool shuts down. Pools are built once
// at startup and injected; there are no package-level pools.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrClosed is returned by Do once Shutdown has started.
var ErrClosed = errors.New("workpool: pool closed")

type Pool struct {
	name  string
	slots chan struct{}

	limiter *rate.Limiter

	// OnWait receives how long a task waited for its slot (and the rate limiter).
	OnWait func(name string, d time.Duration)

	// OnBusy receives the number of occupied slots after every acquire and release.
	OnBusy func(name string, busy int)

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	stop    context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

type Option func(*Pool)

// WithRate throttles task starts to perSecond with the given burst.
// perSecond <= 0 leaves the pool unthrottled.
func WithRate(perSecond float64, burst int) Option {
	return func(p *Pool) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithOnWait sets the slot wait hook, used for the pool wait histogram.
func WithOnWait(fn func(name string, d time.Duration)) Option {
	return func(p *Pool) { p.OnWait = fn }
}

// WithOnBusy sets the occupancy hook, used for the pool busy gauge.
func WithOnBusy(fn func(name string, busy int)) Option {
	return func(p *Pool) { p.OnBusy = fn }
}

// New creates a pool with size slots.
func New(name string, size int, opts ...Option) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("workpool %q: size must be >= 1 (got %d)", name, size)
	}
	stop, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:   name,
		slots:  make(chan struct{}, size),
		done:   make(chan struct{}),
		stop:   stop,
		cancel: cancel,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *Pool) Name() string { return p.name }
func (p *Pool) Size() int    { return cap(p.slots) }

// Busy reports the number of occupied slots.
func (p *Pool) Busy() int { return len(p.slots) }

// Do waits for a slot and runs fn with a context that is cancelled when
// either ctx ends or the pool shuts down. The slot is released when fn returns.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	start := time.Now()

	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return ErrClosed
	}
	p.running.Add(1)
	p.mu.Unlock()

	defer func() {
		<-p.slots
		p.busy()
		p.running.Done()
	}()
	p.busy()

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	unhook := context.AfterFunc(p.stop, cancel)
	defer unhook()

	if p.limiter != nil {
		if err := p.limiter.Wait(taskCtx); err != nil {
			if p.stop.Err() != nil {
				return ErrClosed
			}
			return err
		}
	}
	if p.OnWait != nil {
		p.OnWait(p.name, time.Since(start))
	}

	return fn(taskCtx)
}

func (p *Pool) busy() {
	if p.OnBusy != nil {
		p.OnBusy(p.name, len(p.slots))
	}
}

// Shutdown rejects waiting and future tasks with ErrClosed, cancels the
// contexts of running tasks, and waits for them to return or for ctx to end.
// It is safe to call more than once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
		p.cancel()
	}
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.running.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workpool %q: shutdown: %w", p.name, ctx.Err())
	}
}

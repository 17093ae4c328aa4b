package health

import (
	"context"
	"sync/atomic"

	"github.com/keithlinneman/ziprehome/internal/xerrors"
)

// Checker passes with a nil error; the error text explains a failure.
type Checker interface{ Check(context.Context) error }

// CheckFunc adapts a function, such as a database Ping, into a Checker.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason ("unhealthy" if empty).
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	err := xerrors.New(reason)
	return func(context.Context) error { return err }
}

// All runs ps in order and stops at the first failure. Nil checkers are skipped.
func All(ps ...Checker) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// ShutdownGate fails readiness once shutdown starts so load balancers stop
// routing uploads here while running extractions finish. The zero value is
// open.
type ShutdownGate struct {
	reason atomic.Pointer[string]
}

// Set closes the gate; reason becomes the readiness failure text.
func (g *ShutdownGate) Set(reason string) {
	if reason == "" {
		reason = "draining"
	}
	g.reason.Store(&reason)
}

// Clear reopens the gate.
func (g *ShutdownGate) Clear() { g.reason.Store(nil) }

func (g *ShutdownGate) Ready() CheckFunc {
	return func(context.Context) error {
		if r := g.reason.Load(); r != nil {
			return xerrors.New(*r)
		}
		return nil
	}
}

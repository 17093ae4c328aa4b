// Package xerrors adds call-site information to errors without changing
// their identity for errors.Is / errors.As.
//
// New and Newf capture a full stack. Wrap and Wrapf record only the single
// frame that wrapped, which is enough for the logger to render error_links.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// stackHolder is implemented by errors that carry a captured stack.
type stackHolder interface{ StackPCs() []uintptr }

type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }
func (s *stacked) IsXerrorsWrapper()   {}

type annotated struct {
	err error
	msg string
	pc  uintptr
}

func (a *annotated) Error() string     { return a.msg + ": " + a.err.Error() }
func (a *annotated) Unwrap() error     { return a.err }
func (a *annotated) PC() uintptr       { return a.pc }
func (a *annotated) IsXerrorsWrapper() {}

// callers returns the program counters above the caller of the function
// that invoked callers. skip counts frames above that.
func callers(skip, depth int) []uintptr {
	pcs := make([]uintptr, depth)
	// +2 skips runtime.Callers and callers itself
	n := runtime.Callers(skip+2, pcs)
	return pcs[:n]
}

func stack(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: callers(skip+1, maxStackDepth)}
}

func annotate(err error, msg string) error {
	var pc uintptr
	// skip annotate and the exported wrapper
	if pcs := callers(2, 1); len(pcs) == 1 {
		pc = pcs[0]
	}
	return &annotated{err: err, msg: msg, pc: pc}
}

// New returns an error with msg and the caller's stack.
func New(msg string) error { return stack(errors.New(msg), 1) }

// Newf is New with fmt formatting. %w verbs are honored.
func Newf(format string, args ...any) error { return stack(fmt.Errorf(format, args...), 1) }

// WithStack attaches the caller's stack to err unconditionally.
func WithStack(err error) error { return stack(err, 1) }

// EnsureTrace attaches a stack only when nothing in the chain has one.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var sh stackHolder
	if errors.As(err, &sh) && len(sh.StackPCs()) > 0 {
		return err
	}
	return stack(err, 1)
}

// Wrap prefixes err with msg and records the wrapping call site.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return annotate(err, msg)
}

// Wrapf is Wrap with fmt formatting of the prefix.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return annotate(err, fmt.Sprintf(format, args...))
}

package extract

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/keithlinneman/ziprehome/internal/log"
	"github.com/keithlinneman/ziprehome/internal/xerrors"
)

// Arena is the per-call working directory that every temp entry of one
// Extract call lives in. Sweep removes the whole directory.
type Arena struct {
	dir    string
	logger log.Logger
}

// NewArena creates a fresh directory under root.
func NewArena(root string, logger log.Logger) (*Arena, error) {
	if logger == nil {
		logger = log.Nop()
	}
	dir, err := os.MkdirTemp(root, "ziprehome-")
	if err != nil {
		return nil, xerrors.Wrapf(err, "create arena under %s", root)
	}
	return &Arena{dir: dir, logger: logger}, nil
}

func (a *Arena) Dir() string { return a.dir }

// Create opens a new empty temp file for writing.
func (a *Arena) Create(pattern string) (*TempEntry, error) {
	f, err := os.CreateTemp(a.dir, pattern)
	if err != nil {
		return nil, err
	}
	return &TempEntry{f: f, path: f.Name(), logger: a.logger}, nil
}

// Sweep removes the arena directory and anything left in it. Failures are
// logged, never returned.
func (a *Arena) Sweep(ctx context.Context) {
	if err := os.RemoveAll(a.dir); err != nil {
		a.logger.Warn(ctx, "arena sweep failed", "dir", a.dir, "err", err)
	}
}

// TempEntry is one materialized archive entry. It has a single owner at a
// time; the owner that finishes with it calls Release.
type TempEntry struct {
	f      *os.File
	path   string
	logger log.Logger

	// Size and SHA256 describe the drained bytes once the entry is sealed.
	Size   int64
	SHA256 string

	once sync.Once
}

func (t *TempEntry) Path() string { return t.path }

// seal closes the write handle and records what was written.
func (t *TempEntry) seal(size int64, sum string) error {
	t.Size, t.SHA256 = size, sum
	f := t.f
	t.f = nil
	if f == nil {
		return nil
	}
	return f.Close()
}

// Open returns a fresh read handle. The caller closes it.
func (t *TempEntry) Open() (*os.File, error) {
	return os.Open(t.path)
}

// Release closes and removes the file. It is safe to call more than once and
// from a defer; failures are logged.
func (t *TempEntry) Release() {
	t.once.Do(func() {
		if t.f != nil {
			_ = t.f.Close()
			t.f = nil
		}
		if err := os.Remove(t.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			t.logger.Warn(context.Background(), "temp entry removal failed", "path", t.path, "err", err)
		}
	})
}

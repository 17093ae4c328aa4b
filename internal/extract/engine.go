package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/ziprehome/internal/audit"
	"github.com/keithlinneman/ziprehome/internal/docstore"
	"github.com/keithlinneman/ziprehome/internal/log"
	"github.com/keithlinneman/ziprehome/internal/pathutil"
	"github.com/keithlinneman/ziprehome/internal/workpool"
	"github.com/keithlinneman/ziprehome/internal/xerrors"
)

const tracerName = "github.com/keithlinneman/ziprehome/internal/extract"

// Entry kinds reported to the Observer.
const (
	KindDirectory     = "directory"
	KindNestedArchive = "nested_archive"
	KindLeaf          = "leaf"
)

// Store is where leaves are rehomed.
type Store interface {
	Put(ctx context.Context, obj docstore.Object) (string, error)
}

// Observer receives engine events. metrics.ServerMetrics implements it.
type Observer interface {
	ObserveLevel(depth, entries int, d time.Duration, err error)
	ObserveEntry(kind string, bytes int64)
	ObserveLeafStore(d time.Duration, err error)
	ObserveFailure(kind string)
	ObserveAuditFailure()
}

type nopObserver struct{}

func (nopObserver) ObserveLevel(int, int, time.Duration, error) {}
func (nopObserver) ObserveEntry(string, int64)                  {}
func (nopObserver) ObserveLeafStore(time.Duration, error)       {}
func (nopObserver) ObserveFailure(string)                       {}
func (nopObserver) ObserveAuditFailure()                        {}

type Options struct {
	// ExtractPool runs archive walks, one slot per level while it walks.
	ExtractPool *workpool.Pool
	// UploadPool runs Store.Put calls.
	UploadPool *workpool.Pool

	Store Store
	Audit audit.Recorder

	// TempDir is the root the per-call arena is created under.
	TempDir string

	Logger   log.Logger
	Observer Observer

	// CancelOnFailure cancels the remaining siblings of a level as soon as
	// one of them fails. Off by default: every started entry runs to
	// completion and the first failure is reported.
	CancelOnFailure bool

	// MaxEntrySize caps the decompressed size of any single entry. 0 disables it.
	MaxEntrySize int64
}

type Engine struct {
	opts     Options
	logger   log.Logger
	observer Observer
	tracer   trace.Tracer
}

func New(opts Options) (*Engine, error) {
	if opts.ExtractPool == nil || opts.UploadPool == nil {
		return nil, xerrors.New("extract: extract and upload pools are required")
	}
	if opts.Store == nil {
		return nil, xerrors.New("extract: store is required")
	}
	if opts.MaxEntrySize < 0 {
		return nil, xerrors.Newf("extract: max entry size must be >= 0 (got %d)", opts.MaxEntrySize)
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	e := &Engine{
		opts:     opts,
		logger:   opts.Logger,
		observer: opts.Observer,
		tracer:   otel.Tracer(tracerName),
	}
	if e.logger == nil {
		e.logger = log.Nop()
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	return e, nil
}

// Request describes one top-level archive to extract.
type Request struct {
	// ArchivePath is the zip on local disk. The caller owns it.
	ArchivePath string
	// Name is the archive's display name and the root of every node path.
	// It defaults to the base name of ArchivePath.
	Name           string
	CompressedSize int64
	// ParentID is recorded as the parent of every stored leaf, at any depth.
	ParentID string
	ClientID string
}

// call carries per-request state down the recursion.
type call struct {
	req    Request
	walker *walker
	logger log.Logger
}

type levelSpec struct {
	archive    string
	name       string
	path       string
	compressed int64
	sha256     string
	depth      int
}

// Extract walks the archive and every archive nested in it, stores every
// leaf, and returns the finished tree. It is all or nothing: any failure
// returns a single *EntryError and no tree. Temp files are removed on every
// path.
func (e *Engine) Extract(ctx context.Context, req Request) (*Result, error) {
	if req.ArchivePath == "" {
		return nil, xerrors.New("extract: archive path is required")
	}
	if req.Name == "" {
		req.Name = filepath.Base(req.ArchivePath)
	}

	L := e.logger.With("archive", req.Name, "parent_id", req.ParentID, "client_id", req.ClientID)

	arena, err := NewArena(e.opts.TempDir, L)
	if err != nil {
		return nil, entryIO(req.Name, err)
	}
	defer arena.Sweep(ctx)

	c := &call{
		req:    req,
		walker: &walker{arena: arena, maxSize: e.opts.MaxEntrySize},
		logger: L,
	}

	start := time.Now()
	lr, err := e.level(ctx, c, levelSpec{
		archive:    req.ArchivePath,
		name:       req.Name,
		path:       req.Name,
		compressed: req.CompressedSize,
	})
	if err != nil {
		e.observer.ObserveFailure(FailureKind(err))
		L.Error(ctx, err, "extraction failed", "kind", FailureKind(err), "duration", time.Since(start))
		return nil, err
	}

	leaves, nested, dirs := lr.Root.Count()
	L.Info(ctx, "extraction complete",
		"leaves", leaves,
		"nested_archives", nested,
		"directories", dirs,
		"extracted_bytes", lr.Root.ExtractedSize,
		"duration", time.Since(start),
	)
	return &Result{IDs: lr.IDs, Root: lr.Root}, nil
}

// level walks one archive while holding an extraction slot, then releases
// the slot and waits for the children it spawned. Holding the slot across
// the wait could deadlock once every slot belongs to a waiting parent.
func (e *Engine) level(ctx context.Context, c *call, lv levelSpec) (LevelResult, error) {
	ctx, span := e.tracer.Start(ctx, "extract.level", trace.WithAttributes(
		attribute.String("archive.path", lv.path),
		attribute.Int("archive.depth", lv.depth),
	))
	defer span.End()
	start := time.Now()

	g := &errgroup.Group{}
	gctx := ctx
	if e.opts.CancelOnFailure {
		g, gctx = errgroup.WithContext(ctx)
	}

	asm := newAssembler()
	entries := 0
	walkErr := e.opts.ExtractPool.Do(ctx, func(wctx context.Context) error {
		return c.walker.walk(wctx, lv.archive, lv.path, func(ent entry) error {
			if err := gctx.Err(); err != nil {
				if ent.temp != nil {
					ent.temp.Release()
				}
				return err
			}
			entries++
			switch {
			case ent.isDir:
				asm.add(&Node{
					Name:           pathutil.BaseName(ent.name),
					Path:           ent.path,
					CompressedSize: ent.compressedSize,
					IsDirectory:    true,
					Children:       []*Node{},
				})
				e.observer.ObserveEntry(KindDirectory, 0)
			case ent.nested:
				e.observer.ObserveEntry(KindNestedArchive, ent.temp.Size)
				g.Go(func() error { return e.nested(gctx, c, lv, ent, asm) })
			default:
				e.observer.ObserveEntry(KindLeaf, ent.temp.Size)
				g.Go(func() error { return e.leaf(gctx, c, ent, asm) })
			}
			return nil
		})
	})

	// children own their temp files, so wait for them even if the walk failed
	waitErr := g.Wait()

	err := walkErr
	if err == nil || (waitErr != nil && errors.Is(walkErr, context.Canceled) && ctx.Err() == nil) {
		err = waitErr
	}

	span.SetAttributes(attribute.Int("archive.entries", entries))
	e.observer.ObserveLevel(lv.depth, entries, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, FailureKind(err))
		return LevelResult{}, err
	}

	lr := asm.finish(&Node{
		Name:            lv.name,
		Path:            lv.path,
		CompressedSize:  lv.compressed,
		IsNestedArchive: true,
		SHA256:          lv.sha256,
	})
	c.logger.Debug(ctx, "level extracted",
		"level_path", lv.path,
		"depth", lv.depth,
		"entries", entries,
		"ids", len(lr.IDs),
	)
	return lr, nil
}

// nested recurses into a nested archive entry and releases its temp file.
func (e *Engine) nested(ctx context.Context, c *call, parent levelSpec, ent entry, asm *assembler) error {
	defer ent.temp.Release()

	child, err := e.level(ctx, c, levelSpec{
		archive:    ent.temp.Path(),
		name:       pathutil.BaseName(ent.name),
		path:       ent.path,
		compressed: ent.compressedSize,
		sha256:     ent.temp.SHA256,
		depth:      parent.depth + 1,
	})
	if err != nil {
		return err
	}
	asm.add(child.Root, child.IDs...)
	return nil
}

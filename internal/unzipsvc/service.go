// Package unzipsvc is the request layer over the extraction engine. It turns
// an upload or a stored document into a local archive, checks that it is a
// zip, runs the engine, and shapes the result for the REST API.
package unzipsvc

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mholt/archives"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/ziprehome/internal/audit"
	"github.com/keithlinneman/ziprehome/internal/cryptoutil"
	"github.com/keithlinneman/ziprehome/internal/docstore"
	"github.com/keithlinneman/ziprehome/internal/extract"
	"github.com/keithlinneman/ziprehome/internal/log"
	"github.com/keithlinneman/ziprehome/internal/pathutil"
	"github.com/keithlinneman/ziprehome/internal/xerrors"
)

const tracerName = "github.com/keithlinneman/ziprehome/internal/unzipsvc"

const auditTimeout = 10 * time.Second

var (
	ErrEmptyInput        = errors.New("unzipsvc: empty input")
	ErrUnsupportedFormat = errors.New("unzipsvc: not a zip archive")
	ErrTooLarge          = errors.New("unzipsvc: upload exceeds max size")
)

// Extractor is the engine as the service uses it.
type Extractor interface {
	Extract(ctx context.Context, req extract.Request) (*extract.Result, error)
}

type Options struct {
	Engine Extractor
	Store  docstore.Store
	Audit  audit.Recorder

	// TempDir is where uploads and fetched documents are materialized.
	TempDir string
	// MaxUploadBytes caps a materialized archive. 0 disables the cap.
	MaxUploadBytes int64

	Logger log.Logger
}

type Service struct {
	opts   Options
	logger log.Logger
	tracer trace.Tracer
}

func New(opts Options) (*Service, error) {
	if opts.Engine == nil {
		return nil, xerrors.New("unzipsvc: engine is required")
	}
	if opts.Store == nil {
		return nil, xerrors.New("unzipsvc: store is required")
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	s := &Service{opts: opts, logger: opts.Logger, tracer: otel.Tracer(tracerName)}
	if s.logger == nil {
		s.logger = log.Nop()
	}
	return s, nil
}

// Response is the result of a plain unzip.
type Response struct {
	IDs  []string      `json:"doc_ids"`
	Root *extract.Node `json:"metadata"`
}

// Process extracts an uploaded archive without storing the archive itself.
// Leaves are stored with no parent id.
func (s *Service) Process(ctx context.Context, name string, r io.Reader) (*Response, error) {
	ctx, span := s.tracer.Start(ctx, "unzipsvc.process")
	defer span.End()

	work, cleanup, err := s.workDir(ctx)
	if err != nil {
		return nil, endSpan(span, err)
	}
	defer cleanup()

	arc, err := s.materialize(ctx, work, cleanName(name, "upload.zip"), r)
	if err != nil {
		return nil, endSpan(span, err)
	}

	res, err := s.opts.Engine.Extract(ctx, extract.Request{
		ArchivePath:    arc.path,
		Name:           arc.name,
		CompressedSize: arc.size,
	})
	if err != nil {
		return nil, endSpan(span, err)
	}
	return &Response{IDs: res.IDs, Root: res.Root}, nil
}

// ProcessDocument fetches a stored archive by id and extracts it, recording
// linkID as the parent of every leaf.
func (s *Service) ProcessDocument(ctx context.Context, clientID, linkID string) (map[string]UnzipDetail, error) {
	if clientID == "" || linkID == "" {
		return nil, ErrEmptyInput
	}
	ctx, span := s.tracer.Start(ctx, "unzipsvc.process_document", trace.WithAttributes(
		attribute.String("document.link_id", linkID),
	))
	defer span.End()
	L := s.logger.With("client_id", clientID, "document_link_id", linkID)

	rec := audit.NewEntry(clientID, "", "", "", audit.TypeArchive)
	rec.DocumentLinkID = linkID
	s.record(ctx, rec)

	fail := func(err error) (map[string]UnzipDetail, error) {
		s.record(ctx, rec.Failed(err, ""))
		L.Warn(ctx, "document unzip failed", "err", err)
		return nil, endSpan(span, err)
	}

	doc, err := s.opts.Store.Fetch(ctx, linkID)
	if err != nil {
		return fail(err)
	}
	defer doc.Body.Close()

	work, cleanup, err := s.workDir(ctx)
	if err != nil {
		return fail(err)
	}
	defer cleanup()

	arc, err := s.materialize(ctx, work, cleanName(doc.Name, linkID+".zip"), doc.Body)
	if err != nil {
		return fail(err)
	}
	rec.Name = arc.name

	res, err := s.opts.Engine.Extract(ctx, extract.Request{
		ArchivePath:    arc.path,
		Name:           arc.name,
		CompressedSize: arc.size,
		ParentID:       linkID,
		ClientID:       clientID,
	})
	if err != nil {
		return fail(err)
	}

	rec.Name, rec.Path = res.Root.Name, res.Root.Path
	s.record(ctx, rec.Succeeded(linkID))
	L.Info(ctx, "document unzipped", "ids", len(res.IDs))
	return map[string]UnzipDetail{linkID: NewUnzipDetail(linkID, clientID, arc.size, res.Root)}, nil
}

// ProcessUpload stores an uploaded archive first to get its id, then
// extracts it with that id as the parent of every leaf.
func (s *Service) ProcessUpload(ctx context.Context, clientID, name string, r io.Reader) (map[string]UnzipDetail, error) {
	if clientID == "" {
		return nil, ErrEmptyInput
	}
	ctx, span := s.tracer.Start(ctx, "unzipsvc.process_upload")
	defer span.End()
	L := s.logger.With("client_id", clientID)
	name = cleanName(name, "upload.zip")

	// no id exists until the parent is stored
	preUpload := func(err error) (map[string]UnzipDetail, error) {
		rec := audit.NewEntry(clientID, "", name, name, audit.TypeArchive)
		s.record(ctx, rec.Failed(err, audit.FallbackPreUpload))
		L.Warn(ctx, "upload unzip failed before store", "file_name", name, "err", err)
		return nil, endSpan(span, err)
	}

	work, cleanup, err := s.workDir(ctx)
	if err != nil {
		return preUpload(err)
	}
	defer cleanup()

	arc, err := s.materialize(ctx, work, name, r)
	if err != nil {
		return preUpload(err)
	}

	linkID, err := s.storeParent(ctx, arc)
	if err != nil {
		return preUpload(err)
	}
	span.SetAttributes(attribute.String("document.link_id", linkID))
	L = L.With("document_link_id", linkID)

	rec := audit.NewEntry(clientID, "", arc.name, arc.name, audit.TypeArchive)
	rec.DocumentLinkID = linkID
	s.record(ctx, rec)

	res, err := s.opts.Engine.Extract(ctx, extract.Request{
		ArchivePath:    arc.path,
		Name:           arc.name,
		CompressedSize: arc.size,
		ParentID:       linkID,
		ClientID:       clientID,
	})
	if err != nil {
		s.record(ctx, rec.Failed(err, ""))
		L.Warn(ctx, "upload unzip failed", "err", err)
		return nil, endSpan(span, err)
	}

	rec.Name, rec.Path = res.Root.Name, res.Root.Path
	s.record(ctx, rec.Succeeded(linkID))
	L.Info(ctx, "upload unzipped", "ids", len(res.IDs))
	return map[string]UnzipDetail{linkID: NewUnzipDetail(linkID, clientID, arc.size, res.Root)}, nil
}

// Fetch proxies a stored document. The caller closes the body.
func (s *Service) Fetch(ctx context.Context, linkID string) (*docstore.Document, error) {
	if linkID == "" {
		return nil, ErrEmptyInput
	}
	return s.opts.Store.Fetch(ctx, linkID)
}

type archive struct {
	name   string
	path   string
	size   int64
	sha256 string
}

func (s *Service) workDir(ctx context.Context) (string, func(), error) {
	dir, err := os.MkdirTemp(s.opts.TempDir, "ziprehome-req-")
	if err != nil {
		return "", nil, xerrors.Wrap(err, "create request temp dir")
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn(ctx, "request temp dir cleanup failed", "dir", dir, "err", err)
		}
	}, nil
}

// materialize writes r to dir/name and checks it is a zip archive.
func (s *Service) materialize(ctx context.Context, dir, name string, r io.Reader) (archive, error) {
	p := filepath.Join(dir, name)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return archive{}, xerrors.Wrapf(err, "create %s", name)
	}

	src := r
	if s.opts.MaxUploadBytes > 0 {
		src = io.LimitReader(r, s.opts.MaxUploadBytes+1)
	}
	n, sum, err := cryptoutil.CopyWithHash(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return archive{}, xerrors.Wrapf(err, "write %s", name)
	}
	if n == 0 {
		return archive{}, ErrEmptyInput
	}
	if s.opts.MaxUploadBytes > 0 && n > s.opts.MaxUploadBytes {
		return archive{}, ErrTooLarge
	}

	if err := checkZip(ctx, p, name); err != nil {
		return archive{}, err
	}
	return archive{name: name, path: p, size: n, sha256: sum}, nil
}

// checkZip sniffs the zip signature from the content alone. The upload's
// file name is ignored, so a text file named report.zip is unsupported.
func checkZip(ctx context.Context, p, name string) error {
	f, err := os.Open(p)
	if err != nil {
		return xerrors.Wrapf(err, "open %s", name)
	}
	defer f.Close()

	res, err := archives.Zip{}.Match(ctx, "", f)
	if err != nil {
		return xerrors.Wrapf(err, "identify %s", name)
	}
	if !res.ByStream {
		return ErrUnsupportedFormat
	}
	return nil
}

func (s *Service) storeParent(ctx context.Context, arc archive) (string, error) {
	f, err := os.Open(arc.path)
	if err != nil {
		return "", xerrors.Wrapf(err, "open %s", arc.name)
	}
	defer f.Close()
	return s.opts.Store.Put(ctx, docstore.Object{
		Name:   arc.name,
		Size:   arc.size,
		SHA256: arc.sha256,
		Body:   f,
	})
}

func (s *Service) record(ctx context.Context, e audit.Entry) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.opts.Audit.Record(actx, e); err != nil {
		s.logger.Warn(ctx, "audit record failed", "document_link_id", e.DocumentLinkID, "status", e.Status, "err", err)
	}
}

// cleanName reduces a client supplied name to a safe base name.
func cleanName(name, fallback string) string {
	n := pathutil.BaseName(name)
	if n == "." || n == "/" || n == ".." || n == "" {
		return fallback
	}
	return n
}

func endSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

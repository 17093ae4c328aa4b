package extract

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mholt/archives"

	"github.com/keithlinneman/ziprehome/internal/cryptoutil"
	"github.com/keithlinneman/ziprehome/internal/pathutil"
)

var errEntryTooLarge = errors.New("entry exceeds max extracted size")

// entry is one walked archive member. Directory entries carry no temp file.
// For file entries, ownership of temp passes to the yield callback.
type entry struct {
	name           string
	path           string
	compressedSize int64
	isDir          bool
	nested         bool
	temp           *TempEntry
}

type walker struct {
	arena   *Arena
	maxSize int64
}

// IsNestedArchive reports whether an entry name is treated as a zip to
// recurse into. Only the name is checked, never the content.
func IsNestedArchive(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".zip")
}

// walk visits every entry of the zip at archivePath in archive order. File
// entries are drained to a temp file before yield sees them. The first error
// ends the walk; entries already yielded stay owned by whoever took them.
func (w *walker) walk(ctx context.Context, archivePath, levelPath string, yield func(entry) error) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return entryIO(levelPath, err)
	}
	defer f.Close()

	err = archives.Zip{}.Extract(ctx, f, func(ctx context.Context, fi archives.FileInfo) error {
		name := fi.NameInArchive
		p := pathutil.Join(levelPath, name)
		if err := pathutil.CheckEntryName(name); err != nil {
			return corrupt(p, err)
		}

		e := entry{
			name:           name,
			path:           p,
			compressedSize: compressedSize(fi.Header),
			isDir:          fi.IsDir(),
		}
		if !e.isDir {
			e.nested = IsNestedArchive(name)
			temp, err := w.drain(fi, p)
			if err != nil {
				return err
			}
			e.temp = temp
		}
		if err := yield(e); err != nil {
			return &yieldStop{err: err}
		}
		return nil
	})
	if err == nil {
		return nil
	}

	var ee *EntryError
	if errors.As(err, &ee) {
		return ee
	}
	var stop *yieldStop
	if errors.As(err, &stop) {
		return stop.err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return corrupt(levelPath, err)
}

// drain copies one file entry into a new temp entry, hashing as it goes.
func (w *walker) drain(fi archives.FileInfo, p string) (*TempEntry, error) {
	src, err := fi.Open()
	if err != nil {
		return nil, corrupt(p, err)
	}
	defer src.Close()

	temp, err := w.arena.Create("entry-*")
	if err != nil {
		return nil, entryIO(p, err)
	}

	var r io.Reader = sourceReader{r: src}
	if w.maxSize > 0 {
		r = io.LimitReader(r, w.maxSize+1)
	}
	n, sum, err := cryptoutil.CopyWithHash(temp.f, r)
	if err != nil {
		temp.Release()
		var se *sourceError
		if errors.As(err, &se) {
			return nil, corrupt(p, se.err)
		}
		return nil, entryIO(p, err)
	}
	if w.maxSize > 0 && n > w.maxSize {
		temp.Release()
		return nil, corrupt(p, fmt.Errorf("%w (%d bytes)", errEntryTooLarge, w.maxSize))
	}
	if err := temp.seal(n, sum); err != nil {
		temp.Release()
		return nil, entryIO(p, err)
	}
	return temp, nil
}

// compressedSize reads the declared compressed size from the zip header,
// or -1 when it is not available.
func compressedSize(h any) int64 {
	switch v := h.(type) {
	case zip.FileHeader:
		return int64(v.CompressedSize64)
	case *zip.FileHeader:
		if v != nil {
			return int64(v.CompressedSize64)
		}
	}
	return -1
}

// sourceReader marks read errors so a failing archive read is not mistaken
// for a failing temp file write.
type sourceReader struct{ r io.Reader }

func (s sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		err = &sourceError{err: err}
	}
	return n, err
}

type sourceError struct{ err error }

func (e *sourceError) Error() string { return e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

// yieldStop carries an error from yield through the archive library unchanged.
type yieldStop struct{ err error }

func (e *yieldStop) Error() string { return e.err.Error() }
func (e *yieldStop) Unwrap() error { return e.err }

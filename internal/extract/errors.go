package extract

import (
	"context"
	"errors"
	"fmt"
)

// Failure kinds. Every error Extract returns for an entry is an *EntryError
// whose Kind is one of these.
var (
	ErrArchiveCorrupt       = errors.New("archive corrupt")
	ErrEntryIO              = errors.New("entry i/o failure")
	ErrStoreTransport       = errors.New("store transport failure")
	ErrInvalidStoreResponse = errors.New("invalid store response")
)

// EntryError ties a failure to the archive path it happened at.
// errors.Is matches both the Kind sentinel and anything in Err's chain.
type EntryError struct {
	Path string
	Kind error
	Err  error
}

func (e *EntryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Path, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Path, e.Kind, e.Err)
}

func (e *EntryError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func corrupt(path string, err error) error {
	return &EntryError{Path: path, Kind: ErrArchiveCorrupt, Err: err}
}

func entryIO(path string, err error) error {
	return &EntryError{Path: path, Kind: ErrEntryIO, Err: err}
}

// storeFailure classifies a Store.Put error. Errors that report
// InvalidResponse() == true are invalid responses; everything else is a
// transport failure.
func storeFailure(path string, err error) error {
	var ir interface{ InvalidResponse() bool }
	if errors.As(err, &ir) && ir.InvalidResponse() {
		return &EntryError{Path: path, Kind: ErrInvalidStoreResponse, Err: err}
	}
	return &EntryError{Path: path, Kind: ErrStoreTransport, Err: err}
}

// FailureKind names err's kind for metrics and logs.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrArchiveCorrupt):
		return "archive_corrupt"
	case errors.Is(err, ErrEntryIO):
		return "entry_io"
	case errors.Is(err, ErrInvalidStoreResponse):
		return "invalid_store_response"
	case errors.Is(err, ErrStoreTransport):
		return "store_transport"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}

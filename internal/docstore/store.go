// Package docstore is the content store that rehomed documents are written
// to and source archives are fetched from.
//
// Three backends share the Store interface: HTTPStore speaks the document
// service JSON API, S3Store writes objects to a bucket, and MemStore keeps
// everything in process for tests and dry runs.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Object is one document to store. Body is read from offset 0 on every
// attempt, so retries can rewind it.
type Object struct {
	Name     string
	ParentID string
	Size     int64
	SHA256   string
	Body     io.ReadSeeker
}

// Document is a fetched document. The caller closes Body.
type Document struct {
	Name string
	Size int64
	Body io.ReadCloser
}

type Store interface {
	Fetch(ctx context.Context, id string) (*Document, error)
	Put(ctx context.Context, obj Object) (string, error)
}

var (
	ErrNotFound  = errors.New("docstore: document not found")
	ErrTransport = errors.New("docstore: transport failure")
)

// ErrInvalidResponse marks a reply the store sent that could not be used.
// Errors wrapping it report InvalidResponse() == true.
var ErrInvalidResponse error = &invalidResponse{}

type invalidResponse struct{}

func (*invalidResponse) Error() string         { return "docstore: invalid response" }
func (*invalidResponse) InvalidResponse() bool { return true }

func transportErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransport, fmt.Sprintf(format, args...))
}

func invalidErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidResponse, fmt.Sprintf(format, args...))
}

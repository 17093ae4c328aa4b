// Package audit records one row per rehomed document and per request.
//
// Audit writes are best effort. Callers log failures and carry on; nothing in
// the extraction path fails because the audit log is unavailable.
package audit

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Placeholder document link ids for rows written without a real id, since
// document_link_id is NOT NULL.
const (
	FallbackUploadFailed = "ERROR_UPLOAD_FAILED"
	FallbackPreUpload    = "ERROR_PRE_UPLOAD"
)

// MaxErrorLen caps the stored error message, in characters.
const MaxErrorLen = 3000

const (
	TypeFile    = "FILE"
	TypeArchive = "ZIP"
)

const (
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

var ErrNotFound = errors.New("audit: entry not found")

type Entry struct {
	ID                   string    `json:"id"`
	ClientID             string    `json:"client_id,omitempty"`
	DocumentLinkID       string    `json:"document_link_id"`
	Name                 string    `json:"document_name"`
	Type                 string    `json:"document_type"`
	ParentDocumentLinkID string    `json:"parent_document_link_id,omitempty"`
	Path                 string    `json:"document_path"`
	Status               string    `json:"status"`
	Error                string    `json:"error,omitempty"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Recorder persists entries. Record with an existing ID replaces that row.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Store is a Recorder that can also be queried.
type Store interface {
	Recorder
	Get(ctx context.Context, id string) (Entry, error)
	ListByParent(ctx context.Context, parentID string) ([]Entry, error)
	Close() error
}

// NewEntry returns a pending entry with a fresh id.
func NewEntry(clientID, parentID, name, path, typ string) Entry {
	return Entry{
		ID:                   uuid.NewString(),
		ClientID:             clientID,
		ParentDocumentLinkID: parentID,
		Name:                 name,
		Path:                 path,
		Type:                 typ,
		Status:               StatusPending,
		UpdatedAt:            time.Now().UTC(),
	}
}

// Succeeded marks the entry stored under linkID.
func (e Entry) Succeeded(linkID string) Entry {
	e.DocumentLinkID = linkID
	e.Status = StatusSuccess
	e.Error = ""
	e.UpdatedAt = time.Now().UTC()
	return e
}

// Failed marks the entry failed. fallbackID fills DocumentLinkID only when no
// real id was assigned yet.
func (e Entry) Failed(err error, fallbackID string) Entry {
	if e.DocumentLinkID == "" {
		e.DocumentLinkID = fallbackID
	}
	e.Status = StatusFailed
	if err != nil {
		e.Error = Truncate(err.Error())
	}
	e.UpdatedAt = time.Now().UTC()
	return e
}

// Truncate cuts msg to MaxErrorLen characters without splitting a rune.
func Truncate(msg string) string {
	if utf8.RuneCountInString(msg) <= MaxErrorLen {
		return msg
	}
	n := 0
	for i := range msg {
		if n == MaxErrorLen {
			return msg[:i]
		}
		n++
	}
	return msg
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
func (Nop) Get(context.Context, string) (Entry, error) {
	return Entry{}, ErrNotFound
}
func (Nop) ListByParent(context.Context, string) ([]Entry, error) { return nil, nil }
func (Nop) Close() error                                         { return nil }

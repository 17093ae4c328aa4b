package docstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"

	"github.com/google/uuid"
)

// MemStore keeps documents in memory.
type MemStore struct {
	mu   sync.Mutex
	docs map[string]memDoc

	// PutHook runs before every Put. A non-nil error fails the Put.
	PutHook func(ctx context.Context, obj Object) error
}

type memDoc struct {
	name     string
	parentID string
	sha256   string
	data     []byte
}

// StoredDoc is a read-only view of a stored document.
type StoredDoc struct {
	ID       string
	Name     string
	ParentID string
	SHA256   string
	Data     []byte
}

func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string]memDoc)}
}

// Seed stores data directly and returns its id.
func (m *MemStore) Seed(name string, data []byte) string {
	id := uuid.NewString()
	sum := sha256.Sum256(data)
	m.mu.Lock()
	m.docs[id] = memDoc{name: name, sha256: hex.EncodeToString(sum[:]), data: bytes.Clone(data)}
	m.mu.Unlock()
	return id
}

func (m *MemStore) Fetch(ctx context.Context, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	d, ok := m.docs[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &Document{Name: d.name, Size: int64(len(d.data)), Body: io.NopCloser(bytes.NewReader(d.data))}, nil
}

func (m *MemStore) Put(ctx context.Context, obj Object) (string, error) {
	if m.PutHook != nil {
		if err := m.PutHook(ctx, obj); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := obj.Body.Seek(0, io.SeekStart); err != nil {
		return "", transportErr("rewind %s: %v", obj.Name, err)
	}
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return "", transportErr("read %s: %v", obj.Name, err)
	}
	sum := sha256.Sum256(data)
	id := uuid.NewString()

	m.mu.Lock()
	m.docs[id] = memDoc{name: obj.Name, parentID: obj.ParentID, sha256: hex.EncodeToString(sum[:]), data: data}
	m.mu.Unlock()
	return id, nil
}

// Get returns a stored document by id.
func (m *MemStore) Get(id string) (StoredDoc, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return StoredDoc{}, false
	}
	return StoredDoc{ID: id, Name: d.name, ParentID: d.parentID, SHA256: d.sha256, Data: d.data}, true
}

// Len reports how many documents are stored.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

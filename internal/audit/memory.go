package audit

import (
	"context"
	"sort"
	"sync"
)

// Memory keeps entries in process. It backs tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
	order   []string

	// FailWith, when set, makes every Record return it.
	FailWith error
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	if _, ok := m.entries[e.ID]; !ok {
		m.order = append(m.order, e.ID)
	}
	m.entries[e.ID] = e
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// ListByParent returns entries for parentID in path order.
func (m *Memory) ListByParent(_ context.Context, parentID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, id := range m.order {
		if e := m.entries[id]; e.ParentDocumentLinkID == parentID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// All returns every entry in first-recorded order.
func (m *Memory) All() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id])
	}
	return out
}

func (m *Memory) Close() error { return nil }

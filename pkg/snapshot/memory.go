package snapshot

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps encoded snapshots in memory. It suits tests and single
// process deployments that only inspect the latest checkpoints.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]storedSnapshot
	closed    bool
}

type storedSnapshot struct {
	info Info
	data []byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]storedSnapshot)}
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, s *Snapshot) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.snapshots[s.ID] = storedSnapshot{info: s.Info(len(data)), data: data}
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context, id string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	st, ok := m.snapshots[id]
	if !ok {
		return nil, ErrNotFound
	}
	return Decode(st.data)
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	out := make([]Info, 0, len(m.snapshots))
	for _, st := range m.snapshots {
		out = append(out, st.info)
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.snapshots, id)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	clear(m.snapshots)
	return nil
}

var _ Store = (*MemoryStore)(nil)

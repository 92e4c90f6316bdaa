package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps records for the lifetime of the process.
// Records are stored encoded so callers never share pointers with the store.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[string][]byte
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string][]byte)}
}

func (m *MemoryRepository) Get(_ context.Context, id string) (*IssuedRecord, error) {
	m.mu.RLock()
	data, ok := m.rows[id]
	m.mu.RUnlock()
	if !ok {
		return nil, NewNotFoundError(id)
	}
	return decodeRecord(data)
}

func (m *MemoryRepository) Put(_ context.Context, rec *IssuedRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[rec.ID()] = data
	return nil
}

// Delete is idempotent: deleting a missing id is not an error
func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *MemoryRepository) List(_ context.Context) ([]*IssuedRecord, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.rows))
	for k := range m.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	encoded := make([][]byte, 0, len(keys))
	for _, k := range keys {
		encoded = append(encoded, m.rows[k])
	}
	m.mu.RUnlock()

	out := make([]*IssuedRecord, 0, len(encoded))
	for _, data := range encoded {
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *MemoryRepository) Close() error { return nil }

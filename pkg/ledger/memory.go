package ledger

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

// MemoryStore is an in-process Store. Records live as long as the value.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Fields
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Fields)}
}

func (m *MemoryStore) Get(_ context.Context, recordID, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[recordID]
	if !ok {
		return "", eris.Wrapf(ErrNotFound, "record %q", recordID)
	}
	value, ok := record[field]
	if !ok {
		return "", eris.Wrapf(ErrNotFound, "field %q of record %q", field, recordID)
	}
	return value, nil
}

func (m *MemoryStore) Set(_ context.Context, recordID, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[recordID]
	if !ok {
		record = make(Fields)
		m.records[recordID] = record
	}
	record[field] = value
	return nil
}

func (m *MemoryStore) Load(_ context.Context, recordID string) (Fields, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[recordID]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "record %q", recordID)
	}
	return record.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, recordID string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.records[recordID].Clone()
	if err := fn(next); err != nil {
		return err
	}
	m.records[recordID] = next
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

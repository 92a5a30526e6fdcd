package ports_test

import (
	"context"
	"sync"
	"testing"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// MockStore is an in-memory implementation of StateStore for testing purposes.
type MockStore struct {
	mu   sync.Mutex
	data map[string]domain.Record
}

func NewMockStore() *MockStore {
	return &MockStore{
		data: make(map[string]domain.Record),
	}
}

func (m *MockStore) Load(ctx context.Context, id string) (domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[id]
	if !ok {
		return nil, domain.ErrStateNotFound
	}
	return rec.Clone(), nil
}

func (m *MockStore) Commit(ctx context.Context, diffs ...domain.StateDiff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range diffs {
		m.data[d.ID] = d.Apply(m.data[d.ID])
	}
	return nil
}

func (m *MockStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func (m *MockStore) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	return ids, nil
}

func TestStateStore_Contract(t *testing.T) {
	// The mock is the reference the adapters' contract runs are measured against.
	ports.RunStateStoreContract(t, NewMockStore())
}

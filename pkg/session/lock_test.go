package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/aretw0/parley/pkg/domain"
)

// MockStore structure
type MockStore struct{}

func (m *MockStore) Load(ctx context.Context, id string) (domain.Record, error) {
	return domain.Record{}, nil
}
func (m *MockStore) Commit(ctx context.Context, diffs ...domain.StateDiff) error { return nil }
func (m *MockStore) Delete(ctx context.Context, id string) error                 { return nil }
func (m *MockStore) List(ctx context.Context) ([]string, error)                  { return nil, nil }

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager(&MockStore{})
	ctx := context.Background()
	count := 10000

	// 1. Run and Delete many conversations
	for i := 0; i < count; i++ {
		key := fmt.Sprintf("conversation/test/%d", i)
		_ = mgr.Commit(ctx, key, domain.StateDiff{ID: key})
		_ = mgr.Delete(ctx, key)
	}

	// 2. Count locks remaining in map
	lockCount := len(mgr.locks)

	// 3. Assert no leak
	if lockCount != 0 {
		t.Errorf("Memory Leak Detected: %d locks remaining in memory after Delete", lockCount)
	}
}

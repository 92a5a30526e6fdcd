package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SlowStore simulates latency to provoke race conditions if locking is missing.
type SlowStore struct {
	data map[string]domain.Record
	mu   sync.Mutex
}

func (s *SlowStore) Load(ctx context.Context, id string) (domain.Record, error) {
	time.Sleep(5 * time.Millisecond) // Simulate IO
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.data[id]; ok {
		return rec.Clone(), nil
	}
	return nil, domain.ErrStateNotFound
}

func (s *SlowStore) Commit(ctx context.Context, diffs ...domain.StateDiff) error {
	time.Sleep(5 * time.Millisecond) // Simulate IO
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		s.data = make(map[string]domain.Record)
	}
	for _, d := range diffs {
		s.data[d.ID] = d.Apply(s.data[d.ID])
	}
	return nil
}

func (s *SlowStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

func (s *SlowStore) List(ctx context.Context) ([]string, error) {
	return nil, nil
}

func TestManager_ReadModifyWriteIsSerialised(t *testing.T) {
	store := &SlowStore{}
	manager := session.NewManager(store)
	ctx := context.Background()
	key := "conversation/test/race"

	var wg sync.WaitGroup
	concurrentTurns := 10

	// Without the lock, concurrent read-modify-write cycles would lose increments.
	for i := 0; i < concurrentTurns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := manager.WithLock(ctx, key, func(ctx context.Context) error {
				rec, err := store.Load(ctx, key)
				if err != nil && err != domain.ErrStateNotFound {
					return err
				}
				n, _ := rec["n"].(int)
				return store.Commit(ctx, domain.StateDiff{ID: key, Set: map[string]any{"n": n + 1}})
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := manager.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, concurrentTurns, rec["n"])
}

type countingLocker struct {
	locks, unlocks atomic.Int32
	ttl            time.Duration
}

func (l *countingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.locks.Add(1)
	l.ttl = ttl
	return func(context.Context) error {
		l.unlocks.Add(1)
		return nil
	}, nil
}

func TestManager_DistributedLocker(t *testing.T) {
	locker := &countingLocker{}
	manager := session.NewManager(&SlowStore{}, session.WithLocker(locker), session.WithLockTTL(5*time.Second))
	ctx := context.Background()

	require.NoError(t, manager.Commit(ctx, "k", domain.StateDiff{ID: "k", Set: map[string]any{"a": 1}}))
	_, err := manager.Load(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, manager.Delete(ctx, "k"))

	assert.Equal(t, int32(3), locker.locks.Load())
	assert.Equal(t, int32(3), locker.unlocks.Load())
	assert.Equal(t, 5*time.Second, locker.ttl)
}

func TestManager_WithLocksSharedKey(t *testing.T) {
	store := &SlowStore{}
	locker := &countingLocker{}
	manager := session.NewManager(store, session.WithLocker(locker))
	ctx := context.Background()
	userKey := "user/test/u1"

	var wg sync.WaitGroup
	const perConversation = 5
	// Two conversations of one user update the shared user record, naming keys in
	// opposite orders.
	for _, keys := range [][]string{
		{"conversation/test/a", userKey},
		{userKey, "conversation/test/b", userKey},
	} {
		for i := 0; i < perConversation; i++ {
			wg.Add(1)
			go func(keys []string) {
				defer wg.Done()
				err := manager.WithLocks(ctx, keys, func(ctx context.Context) error {
					rec, err := store.Load(ctx, userKey)
					if err != nil && err != domain.ErrStateNotFound {
						return err
					}
					n, _ := rec["n"].(int)
					return store.Commit(ctx, domain.StateDiff{ID: userKey, Set: map[string]any{"n": n + 1}})
				})
				assert.NoError(t, err)
			}(keys)
		}
	}
	wg.Wait()

	rec, err := manager.Load(ctx, userKey)
	require.NoError(t, err)
	assert.Equal(t, 2*perConversation, rec["n"])
	// Duplicate keys are locked once: two keys per call, plus the Load above.
	assert.Equal(t, int32(2*2*perConversation+1), locker.locks.Load())
	assert.Equal(t, locker.locks.Load(), locker.unlocks.Load())
}

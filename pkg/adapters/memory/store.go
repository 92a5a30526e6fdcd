package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
)

// Store implements ports.StateStore in memory.
// Safe for concurrent use. Records are copied through JSON on the way in and out,
// so callers see exactly the value shapes a durable store would give them.
type Store struct {
	data map[string][]byte
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string][]byte),
	}
}

// Load retrieves a copy of the record.
func (s *Store) Load(ctx context.Context, id string) (domain.Record, error) {
	s.mu.RLock()
	raw, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrStateNotFound
	}
	var rec domain.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return rec, nil
}

// Commit applies all diffs under one write lock. Every record is encoded before any
// is replaced, so an encoding failure leaves the store untouched.
func (s *Store) Commit(ctx context.Context, diffs ...domain.StateDiff) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string][]byte, len(diffs))
	for _, d := range diffs {
		var base domain.Record
		if raw, ok := staged[d.ID]; ok {
			_ = json.Unmarshal(raw, &base)
		} else if raw, ok := s.data[d.ID]; ok {
			if err := json.Unmarshal(raw, &base); err != nil {
				return fmt.Errorf("decode %s: %w", d.ID, err)
			}
		}
		raw, err := json.Marshal(d.Apply(base))
		if err != nil {
			return fmt.Errorf("encode %s: %w", d.ID, err)
		}
		staged[d.ID] = raw
	}
	for id, raw := range staged {
		s.data[id] = raw
	}
	return nil
}

// Delete removes the record.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

// List returns the stored record ids, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

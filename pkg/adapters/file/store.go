package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
)

const journalName = "journal.json"

// Store implements ports.StateStore using the local filesystem.
// Each record is a JSON file; its id ("conversation/<channel>/<id>") is the relative path.
//
// A commit first writes every resulting record to a journal, then replaces the record
// files and finally removes the journal. A journal left behind by a crash is replayed
// before the next operation, so a batch is never observed half applied.
type Store struct {
	BasePath string

	mu       sync.Mutex
	replayed bool
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".parley/state".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".parley", "state")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("record id cannot be empty")
	}
	clean := filepath.ToSlash(filepath.Clean(id))
	if clean != id || strings.HasPrefix(clean, "../") || clean == ".." || filepath.IsAbs(id) {
		return "", fmt.Errorf("invalid record id %q", id)
	}
	return filepath.Join(s.BasePath, filepath.FromSlash(id)+".json"), nil
}

// Load retrieves the record from its JSON file.
func (s *Store) Load(ctx context.Context, id string) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recover(); err != nil {
		return nil, err
	}
	return s.read(id)
}

func (s *Store) read(id string) (domain.Record, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}
	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
	}
	return rec, nil
}

// Commit applies all diffs through the journal.
func (s *Store) Commit(ctx context.Context, diffs ...domain.StateDiff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recover(); err != nil {
		return err
	}

	next := make(map[string]domain.Record, len(diffs))
	for _, d := range diffs {
		base, ok := next[d.ID]
		if !ok {
			var err error
			base, err = s.read(d.ID)
			if err != nil && !errors.Is(err, domain.ErrStateNotFound) {
				return err
			}
		}
		next[d.ID] = d.Apply(base)
	}

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal commit: %w", err)
	}
	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure state directory: %w", err)
	}
	journal := filepath.Join(s.BasePath, journalName)
	if err := writeAtomic(journal, data); err != nil {
		return err
	}
	if err := s.apply(next); err != nil {
		return err
	}
	if err := os.Remove(journal); err != nil {
		return fmt.Errorf("failed to clear journal: %w", err)
	}
	return nil
}

func (s *Store) apply(records map[string]domain.Record) error {
	for id, rec := range records {
		p, err := s.path(id)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal record %s: %w", id, err)
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return fmt.Errorf("failed to ensure record directory: %w", err)
		}
		if err := writeAtomic(p, data); err != nil {
			return err
		}
	}
	return nil
}

// recover replays a journal left by an interrupted commit.
func (s *Store) recover() error {
	if s.replayed {
		return nil
	}
	journal := filepath.Join(s.BasePath, journalName)
	data, err := os.ReadFile(journal)
	if os.IsNotExist(err) {
		s.replayed = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	var records map[string]domain.Record
	if err := json.Unmarshal(data, &records); err != nil {
		// A torn journal was never renamed into place, so nothing was applied from it.
		_ = os.Remove(journal)
		s.replayed = true
		return nil
	}
	if err := s.apply(records); err != nil {
		return fmt.Errorf("failed to replay journal: %w", err)
	}
	if err := os.Remove(journal); err != nil {
		return fmt.Errorf("failed to clear journal: %w", err)
	}
	s.replayed = true
	return nil
}

// writeAtomic writes to a temporary file, syncs it and renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "tmp-*.json.partial")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// On Windows, os.Rename fails if dest exists.
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove existing file for overwrite: %w", err)
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Delete removes the record file.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recover(); err != nil {
		return err
	}
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record file: %w", err)
	}
	return nil
}

// List returns all record ids, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recover(); err != nil {
		return nil, err
	}

	var ids []string
	err := filepath.WalkDir(s.BasePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != ".json" || p == filepath.Join(s.BasePath, journalName) {
			return nil
		}
		rel, err := filepath.Rel(s.BasePath, p)
		if err != nil {
			return err
		}
		ids = append(ids, strings.TrimSuffix(filepath.ToSlash(rel), ".json"))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

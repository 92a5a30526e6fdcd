package file_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/parley/pkg/adapters/file"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Ensure Store implements StateStore
var _ ports.StateStore = (*file.Store)(nil)

func TestFileStore_Contract(t *testing.T) {
	ports.RunStateStoreContract(t, file.New(t.TempDir()))
}

func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, domain.StateDiff{ID: "conversation/web/c1", Set: map[string]any{"a": 1}}))
	_, err := os.Stat(filepath.Join(dir, "conversation", "web", "c1.json"))
	assert.NoError(t, err)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"conversation/web/c1"}, ids)
}

func TestFileStore_RejectsTraversal(t *testing.T) {
	store := file.New(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"../escape", "a/../../b", "/etc/passwd", ""} {
		_, err := store.Load(ctx, id)
		assert.Error(t, err, id)
		assert.NotErrorIs(t, err, domain.ErrStateNotFound, id)
	}
}

func TestFileStore_ReplaysJournal(t *testing.T) {
	dir := t.TempDir()
	// A commit that crashed after writing its journal but before touching records.
	journal := map[string]domain.Record{
		"conversation/web/c1": {"step": "two"},
		"user/web/u1":         {"name": "Ana"},
	}
	data, err := json.Marshal(journal)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "journal.json"), data, 0644))

	store := file.New(dir)
	ctx := context.Background()

	rec, err := store.Load(ctx, "user/web/u1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", rec["name"])

	rec, err = store.Load(ctx, "conversation/web/c1")
	require.NoError(t, err)
	assert.Equal(t, "two", rec["step"])

	_, err = os.Stat(filepath.Join(dir, "journal.json"))
	assert.True(t, os.IsNotExist(err), "journal is cleared after replay")

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"conversation/web/c1", "user/web/u1"}, ids)
}

func TestFileStore_DiscardsTornJournal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "journal.json"), []byte(`{"conversation/web/c1": {"st`), 0644))

	store := file.New(dir)
	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStateStoreContract runs a suite of tests to verify that a StateStore implementation
// adheres to the defined interface contract.
func RunStateStoreContract(t *testing.T, store StateStore) {
	ctx := context.Background()
	suffix := time.Now().Format("20060102150405.000000000")
	convID := "conversation/contract/" + suffix
	userID := "user/contract/" + suffix

	t.Run("Commit and Load", func(t *testing.T) {
		err := store.Commit(ctx, domain.StateDiff{
			ID: convID,
			Set: map[string]any{
				"foo":           "bar",
				"count":         42,
				domain.KeyStack: []any{map[string]any{"kind": "root"}},
			},
		})
		require.NoError(t, err, "Commit should not return error")

		loaded, err := store.Load(ctx, convID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, "bar", loaded["foo"])
		// JSON backed stores turn integers into float64; the value must survive either way.
		assert.EqualValues(t, 42, loaded["count"])
		assert.Equal(t, []any{map[string]any{"kind": "root"}}, loaded[domain.KeyStack])
	})

	t.Run("Commit Applies Partial Changes", func(t *testing.T) {
		err := store.Commit(ctx, domain.StateDiff{
			ID:      convID,
			Set:     map[string]any{"foo": "baz", "new": true},
			Deleted: []string{"count"},
		})
		require.NoError(t, err)

		loaded, err := store.Load(ctx, convID)
		require.NoError(t, err)
		assert.Equal(t, "baz", loaded["foo"])
		assert.Equal(t, true, loaded["new"])
		assert.NotContains(t, loaded, "count")
		assert.Contains(t, loaded, domain.KeyStack, "untouched keys survive")
	})

	t.Run("Commit Batch", func(t *testing.T) {
		err := store.Commit(ctx,
			domain.StateDiff{ID: convID, Set: map[string]any{"batch": "c"}},
			domain.StateDiff{ID: userID, Set: map[string]any{"batch": "u"}},
		)
		require.NoError(t, err)

		conv, err := store.Load(ctx, convID)
		require.NoError(t, err)
		user, err := store.Load(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "c", conv["batch"])
		assert.Equal(t, "u", user["batch"])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "conversation/contract/missing-"+suffix)
		assert.ErrorIs(t, err, domain.ErrStateNotFound)
	})

	t.Run("List", func(t *testing.T) {
		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, convID)
		assert.Contains(t, ids, userID)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, convID), "Delete should not return error")
		require.NoError(t, store.Delete(ctx, userID))

		_, err := store.Load(ctx, convID)
		assert.ErrorIs(t, err, domain.ErrStateNotFound, "Load after Delete should return ErrStateNotFound")

		assert.NoError(t, store.Delete(ctx, convID), "Delete is idempotent")
	})
}

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/parley/pkg/adapters/redis"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr, backend.NewClient(&backend.Options{Addr: mr.Addr()})
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunStateStoreContract(t, redis.NewFromClient(client))
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithTTL(1*time.Second))
	ctx := context.Background()
	id := "conversation/test/ttl"

	err := store.Commit(ctx, domain.StateDiff{ID: id, Set: map[string]any{"foo": "bar"}})
	require.NoError(t, err)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, id)

	mr.FastForward(2 * time.Second)

	_, err = store.Load(ctx, id)
	assert.ErrorIs(t, err, domain.ErrStateNotFound)

	// The index is pruned against the wall clock.
	time.Sleep(1200 * time.Millisecond)
	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedisStore_Layout(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()
	id := "user/test/u1"

	require.NoError(t, store.Commit(ctx, domain.StateDiff{ID: id, Set: map[string]any{"name": "Ana", "age": 30}}))

	key := "custom:app:state:" + id
	require.True(t, mr.Exists(key), "record is a hash under the prefix")
	assert.Equal(t, `"Ana"`, mr.HGet(key, "name"))
	assert.Equal(t, "30", mr.HGet(key, "age"))
	assert.True(t, mr.Exists("custom:app:index"))

	require.NoError(t, store.Commit(ctx, domain.StateDiff{ID: id, Deleted: []string{"age"}}))
	assert.Equal(t, "", mr.HGet(key, "age"))
	assert.Equal(t, `"Ana"`, mr.HGet(key, "name"), "untouched fields are not rewritten away")
}

func TestRedisStore_CommitEncodingFailureWritesNothing(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()

	err := store.Commit(ctx,
		domain.StateDiff{ID: "conversation/test/a", Set: map[string]any{"ok": 1}},
		domain.StateDiff{ID: "user/test/a", Set: map[string]any{"bad": func() {}}},
	)
	require.Error(t, err)
	assert.False(t, mr.Exists(redis.DefaultPrefix+"state:conversation/test/a"))
}

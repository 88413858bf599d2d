package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/taskmesh/types"
)

func newRedisTestStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStoreWithClient(client, &Config{TTL: ttl}, nil)
	return s, mr
}

func TestRedisStore_StoreAndGet(t *testing.T) {
	s, _ := newRedisTestStore(t, 0)
	ctx := context.Background()

	id, err := s.Store(ctx, &types.MemoryRecord{
		Category: types.MemoryProject,
		Content:  "service owns its schema",
		Tags:     []string{"conventions"},
		Metadata: map[string]string{"task_id": "t-1"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.MemoryProject, got.Category)
	assert.Equal(t, "service owns its schema", got.Content)
	assert.Equal(t, "t-1", got.Metadata["task_id"])
}

func TestRedisStore_GetMissing(t *testing.T) {
	s, _ := newRedisTestStore(t, 0)

	got, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStore_RejectsInvalidRecords(t *testing.T) {
	s, _ := newRedisTestStore(t, 0)

	_, err := s.Store(context.Background(), &types.MemoryRecord{Category: "gossip", Content: "x"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestRedisStore_RetrieveFiltersAndRanks(t *testing.T) {
	s, _ := newRedisTestStore(t, 0)
	ctx := context.Background()

	_, err := s.Store(ctx, &types.MemoryRecord{Category: types.MemoryPattern, Content: "retry with exponential backoff", Tags: []string{"resilience"}})
	require.NoError(t, err)
	_, err = s.Store(ctx, &types.MemoryRecord{Category: types.MemoryError, Content: "backoff misconfigured caused thundering herd", Tags: []string{"resilience"}})
	require.NoError(t, err)
	_, err = s.Store(ctx, &types.MemoryRecord{Category: types.MemoryTeam, Content: "standup at ten"})
	require.NoError(t, err)

	got, err := s.Retrieve(ctx, Query{
		Categories: []types.MemoryCategory{types.MemoryPattern, types.MemoryError},
		Text:       "exponential backoff",
		Tags:       []string{"resilience"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "retry with exponential backoff", got[0].Content)
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	s, mr := newRedisTestStore(t, time.Minute)
	ctx := context.Background()

	id, err := s.Store(ctx, &types.MemoryRecord{Category: types.MemoryPattern, Content: "ephemeral"})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Expired records drop out of retrieval and the index self-prunes.
	results, err := s.Retrieve(ctx, Query{})
	require.NoError(t, err)
	assert.Empty(t, results)

	size, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestRedisStore_TrimsToCapByRecency(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := newFakeClock()
	s := NewRedisStoreWithClient(client, &Config{MaxRecords: 2, Now: clock.Now}, nil)
	ctx := context.Background()

	idA, err := s.Store(ctx, &types.MemoryRecord{Category: types.MemoryError, Content: "flaky dns"})
	require.NoError(t, err)
	clock.Advance(time.Second)
	idB, err := s.Store(ctx, &types.MemoryRecord{Category: types.MemoryPattern, Content: "retry on dns failure"})
	require.NoError(t, err)
	clock.Advance(time.Second)

	// Reading the error record makes the pattern record least recent.
	_, err = s.Retrieve(ctx, Query{Categories: []types.MemoryCategory{types.MemoryError}})
	require.NoError(t, err)
	clock.Advance(time.Second)

	idC, err := s.Store(ctx, &types.MemoryRecord{Category: types.MemoryTeam, Content: "rotate the pager weekly"})
	require.NoError(t, err)

	evicted, err := s.Get(ctx, idB)
	require.NoError(t, err)
	assert.Nil(t, evicted, "the least recently read record is trimmed")

	for _, id := range []string{idA, idC} {
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, got)
	}

	size, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)
}

func TestRedisStore_Delete(t *testing.T) {
	s, _ := newRedisTestStore(t, 0)
	ctx := context.Background()

	id, err := s.Store(ctx, &types.MemoryRecord{Category: types.MemoryPattern, Content: "to delete"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	size, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	require.NoError(t, s.Delete(ctx, "missing"))
}

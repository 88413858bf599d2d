package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/taskmesh/types"
)

func record(id, content string, created time.Time, tags ...string) *types.MemoryRecord {
	return &types.MemoryRecord{
		ID:        id,
		Category:  types.MemoryPattern,
		Content:   content,
		Tags:      tags,
		CreatedAt: created,
	}
}

func ids(records []*types.MemoryRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestRank_TagOverlapDominates(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candidates := []*types.MemoryRecord{
		record("a", "retry with backoff", base, "debugging"),
		record("b", "unrelated note", base, "debugging", "testing"),
		record("c", "retry with backoff and jitter", base),
	}

	got := rank(candidates, Query{Text: "retry backoff", Tags: []string{"debugging", "testing"}})
	assert.Equal(t, []string{"b", "a", "c"}, ids(got))
}

func TestRank_TokenOverlapBreaksTagTies(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candidates := []*types.MemoryRecord{
		record("a", "nothing relevant", base, "testing"),
		record("b", "flaky integration test timeout", base, "testing"),
	}

	got := rank(candidates, Query{Text: "integration test timeout", Tags: []string{"testing"}})
	assert.Equal(t, []string{"b", "a"}, ids(got))
}

func TestRank_RecencyBreaksScoreTies(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candidates := []*types.MemoryRecord{
		record("old", "same content", base),
		record("new", "same content", base.Add(time.Hour)),
	}

	got := rank(candidates, Query{Text: "same content"})
	assert.Equal(t, []string{"new", "old"}, ids(got))
}

func TestRank_IDBreaksFullTies(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candidates := []*types.MemoryRecord{
		record("b", "same", base),
		record("a", "same", base),
	}

	got := rank(candidates, Query{})
	assert.Equal(t, []string{"a", "b"}, ids(got))
}

func TestRank_Deterministic(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candidates := []*types.MemoryRecord{
		record("c", "alpha beta", base, "x"),
		record("a", "alpha", base.Add(time.Minute), "x", "y"),
		record("b", "beta gamma", base),
	}
	query := Query{Text: "alpha beta", Tags: []string{"x", "y"}}

	first := ids(rank(candidates, query))
	for i := 0; i < 10; i++ {
		require.Equal(t, first, ids(rank(candidates, query)))
	}
}

func TestRank_Limit(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candidates := []*types.MemoryRecord{
		record("a", "one", base),
		record("b", "two", base),
		record("c", "three", base),
	}

	got := rank(candidates, Query{Limit: 2})
	assert.Len(t, got, 2)
}

func TestTokenize(t *testing.T) {
	got := tokenize("Fix the DB-connection pool, fix it NOW")
	assert.Contains(t, got, "fix")
	assert.Contains(t, got, "db")
	assert.Contains(t, got, "connection")
	assert.Contains(t, got, "now")
	assert.NotContains(t, got, "Fix")

	assert.Nil(t, tokenize(""))
}

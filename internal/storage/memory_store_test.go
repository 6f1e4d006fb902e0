package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoped-memory-mcp/internal/scope"
)

func seededStore(t *testing.T) *InMemoryStore {
	t.Helper()
	s := NewInMemoryStore()
	s.now = func() time.Time { return baseTime }
	ctx := context.Background()

	imp := 9.0
	important := projectWrite("alice", "P1", "deploy checklist")
	important.Importance = &imp

	for _, m := range []Memory{
		memoryFor(t, "a1", projectWrite("alice", "P1", "uses postgres"), []float32{1, 0}, time.Hour),
		memoryFor(t, "a2", important, []float32{0.6, 0.8}, 2*time.Hour),
		memoryFor(t, "a3", projectWrite("alice", "P2", "uses mysql"), []float32{1, 0}, 3*time.Hour),
		memoryFor(t, "b1", projectWrite("bob", "P1", "uses postgres too"), []float32{1, 0}, time.Minute),
		memoryFor(t, "p1", scope.RawRequest{Scope: "user_preference", Identity: scope.Identity{UserID: "alice"}, Text: "dark mode"}, []float32{0, 1}, 4*time.Hour),
	} {
		require.NoError(t, s.Remember(ctx, m))
	}
	return s
}

func TestInMemoryStore_RecallIsolatesByFilter(t *testing.T) {
	s := seededStore(t)

	f := filterFor(t, scope.RawQuery{Scope: "project", Identity: scope.Identity{UserID: "alice", ProjectID: "P1"}})
	hits, err := s.Recall(context.Background(), RecallQuery{Embedding: []float32{1, 0}, Filter: f, Limit: 10})
	require.NoError(t, err)

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	assert.Equal(t, []string{"a1", "a2"}, ids, "ranked by similarity, other users and projects excluded")
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestInMemoryStore_RecallWithoutEmbeddingRanksByImportance(t *testing.T) {
	s := seededStore(t)

	f := filterFor(t, scope.RawQuery{Scope: "project", Identity: scope.Identity{UserID: "alice", ProjectID: "P1"}})
	hits, err := s.Recall(context.Background(), RecallQuery{Filter: f, Limit: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a2", hits[0].ID)
}

func TestInMemoryStore_RecallFilters(t *testing.T) {
	s := seededStore(t)
	f := filterFor(t, scope.RawQuery{Scope: "project", Identity: scope.Identity{UserID: "alice", ProjectID: "P1"}})

	hits, err := s.Recall(context.Background(), RecallQuery{Filter: f, MinImportance: 8})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a2", hits[0].ID)

	hits, err = s.Recall(context.Background(), RecallQuery{Filter: f, Since: baseTime.Add(-90 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a1", hits[0].ID)

	hits, err = s.Recall(context.Background(), RecallQuery{Filter: f, Type: scope.TypeGoal})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestInMemoryStore_ExpiredMemoriesAreInvisible(t *testing.T) {
	s := seededStore(t)
	m := memoryFor(t, "exp", projectWrite("alice", "P1", "temporary"), []float32{1, 0}, 0)
	past := baseTime.Add(-time.Second)
	m.ExpiresAt = &past
	require.NoError(t, s.Remember(context.Background(), m))

	_, err := s.Get(context.Background(), "exp")
	assert.ErrorIs(t, err, ErrNotFound)

	f := filterFor(t, scope.RawQuery{Scope: "project", Identity: scope.Identity{UserID: "alice", ProjectID: "P1"}})
	list, err := s.List(context.Background(), ListQuery{Filter: f})
	require.NoError(t, err)
	for _, got := range list {
		assert.NotEqual(t, "exp", got.ID)
	}
}

func TestInMemoryStore_ListSorting(t *testing.T) {
	s := seededStore(t)
	f := filterFor(t, scope.RawQuery{Scope: "user_preference", Identity: scope.Identity{UserID: "alice"}, IncludeRelated: false})
	list, err := s.List(context.Background(), ListQuery{Filter: f})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "p1", list[0].ID)

	related := filterFor(t, scope.RawQuery{Identity: scope.Identity{UserID: "alice"}, IncludeRelated: true})

	newest, err := s.List(context.Background(), ListQuery{Filter: related, SortBy: SortByCreatedAt, Descending: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, idsOf(newest))

	byImportance, err := s.List(context.Background(), ListQuery{Filter: related, SortBy: SortByImportance, Descending: true})
	require.NoError(t, err)
	assert.Equal(t, "a2", byImportance[0].ID)
	assert.Len(t, byImportance, 4)
}

func idsOf(ms []Memory) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func TestInMemoryStore_UpdateKeepsScopeTags(t *testing.T) {
	s := seededStore(t)
	text := "uses postgres 16"
	imp := 7.0

	updated, err := s.Update(context.Background(), "a1", Patch{
		Text:       &text,
		Embedding:  []float32{0, 1},
		Importance: &imp,
		Tags:       []string{"db"},
		Metadata:   map[string]string{"source": "chat"},
	})
	require.NoError(t, err)

	assert.Equal(t, text, updated.Text)
	assert.Equal(t, 7.0, updated.Importance)
	assert.Equal(t, []float32{0, 1}, updated.Embedding)
	assert.Equal(t, baseTime, updated.UpdatedAt)

	d := scope.DecodeTags(updated.Tags)
	assert.Equal(t, scope.Project, d.Scope)
	assert.Equal(t, "alice", d.UserID)
	assert.Equal(t, "P1", d.ProjectID)
	assert.Equal(t, []string{"db"}, d.Tags)
	assert.Equal(t, "chat", updated.Metadata["source"])

	_, err = s.Update(context.Background(), "missing", Patch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	s := seededStore(t)
	got, err := s.Get(context.Background(), "a1")
	require.NoError(t, err)
	got.Tags[0] = "mutated"

	again, err := s.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.Tags[0])
}

func TestInMemoryStore_Delete(t *testing.T) {
	s := seededStore(t)
	require.NoError(t, s.Delete(context.Background(), "a1"))
	assert.ErrorIs(t, s.Delete(context.Background(), "a1"), ErrNotFound)
	assert.Equal(t, 4, s.Len())
}

func TestInMemoryStore_HonoursContext(t *testing.T) {
	s := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Recall(ctx, RecallQuery{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComputeStats(t *testing.T) {
	s := seededStore(t)
	related := filterFor(t, scope.RawQuery{Identity: scope.Identity{UserID: "alice"}, IncludeRelated: true})
	list, err := s.List(context.Background(), ListQuery{Filter: related})
	require.NoError(t, err)

	stats := ComputeStats(list)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.ByScope["project"])
	assert.Equal(t, 1, stats.ByScope["user_preference"])
	assert.Equal(t, 4, stats.ByType["fact"])
	assert.Equal(t, 2, stats.Projects)
	assert.InDelta(t, 6.0, stats.AverageImportance, 1e-9)
	require.NotNil(t, stats.Oldest)
	assert.Equal(t, baseTime.Add(-4*time.Hour), *stats.Oldest)

	empty := ComputeStats(nil)
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.AverageImportance)
}

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoped-memory-mcp/internal/scope"
)

func agentWrite(user, project, agent, vis, text string) scope.RawRequest {
	return scope.RawRequest{
		Scope:      "agent",
		Identity:   scope.Identity{UserID: user, ProjectID: project, AgentID: agent},
		Visibility: vis,
		Text:       text,
	}
}

func TestChromemStore_AgentVisibility(t *testing.T) {
	s := NewChromemStore()
	ctx := context.Background()

	for _, m := range []Memory{
		memoryFor(t, "own", agentWrite("alice", "P1", "A1", "private", "a1 notes"), []float32{1, 0, 0}, time.Minute),
		memoryFor(t, "sibling-private", agentWrite("alice", "P1", "A2", "private", "a2 secrets"), []float32{1, 0, 0}, time.Minute),
		memoryFor(t, "sibling-shared", agentWrite("alice", "P1", "A2", "shared", "a2 shared"), []float32{0.9, 0.1, 0}, time.Minute),
		memoryFor(t, "other-project", agentWrite("alice", "P2", "A2", "public", "elsewhere"), []float32{1, 0, 0}, time.Minute),
	} {
		require.NoError(t, s.Remember(ctx, m))
	}

	f := filterFor(t, scope.RawQuery{Scope: "agent", Identity: scope.Identity{UserID: "alice", ProjectID: "P1", AgentID: "A1"}})
	hits, err := s.Recall(ctx, RecallQuery{Embedding: []float32{1, 0, 0}, Filter: f, Limit: 10})
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, h := range hits {
		ids[h.ID] = true
	}
	assert.Equal(t, map[string]bool{"own": true, "sibling-shared": true}, ids)
}

func TestChromemStore_UserWithoutMemories(t *testing.T) {
	s := NewChromemStore()
	f := filterFor(t, scope.RawQuery{Scope: "user_preference", Identity: scope.Identity{UserID: "nobody"}})

	hits, err := s.Recall(context.Background(), RecallQuery{Embedding: []float32{1, 0}, Filter: f, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChromemStore_RecallRequiresPinnedUser(t *testing.T) {
	s := NewChromemStore()
	_, err := s.Recall(context.Background(), RecallQuery{Embedding: []float32{1}, Filter: scope.Filter{Must: []string{"scope:project"}}})
	assert.Error(t, err)
}

func TestChromemStore_CRUD(t *testing.T) {
	s := NewChromemStore()
	ctx := context.Background()
	m := memoryFor(t, "m1", projectWrite("alice", "P1", "first"), []float32{0, 1}, time.Minute)

	assert.Error(t, s.Remember(ctx, Memory{ID: "no-vector", UserID: "alice"}))
	require.NoError(t, s.Remember(ctx, m))

	got, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Text)

	text := "second"
	updated, err := s.Update(ctx, "m1", Patch{Text: &text, Embedding: []float32{1, 0}})
	require.NoError(t, err)
	assert.Equal(t, "second", updated.Text)

	f := filterFor(t, scope.RawQuery{Scope: "project", Identity: scope.Identity{UserID: "alice", ProjectID: "P1"}})
	hits, err := s.Recall(ctx, RecallQuery{Embedding: []float32{1, 0}, Filter: f, Limit: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "second", hits[0].Text)

	require.NoError(t, s.Delete(ctx, "m1"))
	_, err = s.Get(ctx, "m1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "m1"), ErrNotFound)

	metrics := s.Metrics()
	assert.Equal(t, int64(2), metrics.OperationCounts["delete"])
	assert.Zero(t, metrics.ErrorCounts["delete"], "not found is not a backend error")
}

func TestChromemStore_List(t *testing.T) {
	s := NewChromemStore()
	ctx := context.Background()
	require.NoError(t, s.Remember(ctx, memoryFor(t, "old", projectWrite("alice", "P1", "old"), []float32{1, 0}, time.Hour)))
	require.NoError(t, s.Remember(ctx, memoryFor(t, "new", projectWrite("alice", "P1", "new"), []float32{1, 0}, time.Minute)))

	f := filterFor(t, scope.RawQuery{Scope: "project", Identity: scope.Identity{UserID: "alice", ProjectID: "P1"}})
	list, err := s.List(ctx, ListQuery{Filter: f, SortBy: SortByCreatedAt, Descending: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, idsOf(list))
}

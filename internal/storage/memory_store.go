package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scoped-memory-mcp/internal/embeddings"
)

// InMemoryStore keeps memories in a map. It backs the "memory" provider and
// the service tests; similarity is cosine over whatever embeddings the caller
// supplied, falling back to importance when a query has no vector.
type InMemoryStore struct {
	mu       sync.RWMutex
	memories map[string]Memory
	now      func() time.Time
}

// NewInMemoryStore creates an empty store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{memories: make(map[string]Memory), now: time.Now}
}

func (s *InMemoryStore) Remember(ctx context.Context, m Memory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.ID == "" {
		return fmt.Errorf("memory id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[m.ID] = m.Clone()
	return nil
}

func (s *InMemoryStore) Recall(ctx context.Context, q RecallQuery) ([]ScoredMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	hits := make([]ScoredMemory, 0)
	for _, m := range s.memories {
		if !q.matches(m, now) {
			continue
		}
		score := m.Importance / 10
		if len(q.Embedding) > 0 {
			score = embeddings.Cosine(q.Embedding, m.Embedding)
		}
		hits = append(hits, ScoredMemory{Memory: m.Clone(), Score: score})
	}
	return rank(hits, q.Limit), nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (*Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memories[id]
	if !ok || !m.Live(s.now()) {
		return nil, ErrNotFound
	}
	out := m.Clone()
	return &out, nil
}

func (s *InMemoryStore) Update(ctx context.Context, id string, p Patch) (*Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memories[id]
	if !ok || !m.Live(s.now()) {
		return nil, ErrNotFound
	}
	m = m.Clone()
	applyPatch(&m, p, s.now())
	s.memories[id] = m
	out := m.Clone()
	return &out, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.memories[id]; !ok {
		return ErrNotFound
	}
	delete(s.memories, id)
	return nil
}

func (s *InMemoryStore) List(ctx context.Context, q ListQuery) ([]Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]Memory, 0)
	for _, m := range s.memories {
		if q.matches(m, now) {
			out = append(out, m.Clone())
		}
	}
	sortMemories(out, q.SortBy, q.Descending)
	return truncate(out, q.Limit), nil
}

func (s *InMemoryStore) HealthCheck(ctx context.Context) error { return ctx.Err() }

func (s *InMemoryStore) Close() error { return nil }

// Len returns the number of stored memories, expired ones included
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.memories)
}

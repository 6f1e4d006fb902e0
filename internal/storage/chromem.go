package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"scoped-memory-mcp/internal/logging"
	"scoped-memory-mcp/internal/scope"
)

const chromemTagValue = "1"

var errNoEmbeddingFunc = errors.New("chromem store requires precomputed embeddings")

// ChromemStore is an embedded store built on chromem-go. Each user gets a
// collection; Must tags are pushed down as exact-match metadata and AnyOf
// clauses are evaluated on the results. Memories are indexed by id in process
// for point reads and listing, which chromem does not offer.
type ChromemStore struct {
	db      *chromem.DB
	metrics *metricsRecorder
	now     func() time.Time

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	index       map[string]Memory
}

// NewChromemStore creates an in-process store
func NewChromemStore() *ChromemStore {
	s := &ChromemStore{
		db:          chromem.NewDB(),
		metrics:     newMetricsRecorder(),
		now:         time.Now,
		collections: make(map[string]*chromem.Collection),
		index:       make(map[string]Memory),
	}
	s.metrics.setStatus("embedded")
	return s
}

func noEmbeddingFunc(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// collection returns the collection of a user, creating it on first use
func (s *ChromemStore) collection(userID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[userID]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[userID]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection("user_"+userID, nil, noEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[userID] = col
	return col, nil
}

func documentFor(m Memory) chromem.Document {
	meta := make(map[string]string, len(m.Tags)+2)
	for _, t := range m.Tags {
		meta[t] = chromemTagValue
	}
	meta[payloadUserID] = m.UserID
	meta[payloadMemoryType] = string(m.Type)
	return chromem.Document{
		ID:        m.ID,
		Content:   m.Text,
		Embedding: m.Embedding,
		Metadata:  meta,
	}
}

func (s *ChromemStore) Remember(ctx context.Context, m Memory) (err error) {
	defer s.metrics.observe("remember", time.Now(), &err)

	if len(m.Embedding) == 0 {
		return fmt.Errorf("memory must have an embedding before storing")
	}
	col, err := s.collection(m.UserID)
	if err != nil {
		return err
	}
	if err = col.AddDocument(ctx, documentFor(m)); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	s.mu.Lock()
	s.index[m.ID] = m.Clone()
	s.mu.Unlock()

	logging.Debug("Stored memory in chromem", "id", m.ID, "user_id", m.UserID)
	return nil
}

// userOf returns the user a filter is pinned to
func userOf(f scope.Filter) string {
	for _, t := range f.Must {
		if strings.HasPrefix(t, scope.PrefixUser) {
			return strings.TrimPrefix(t, scope.PrefixUser)
		}
	}
	return ""
}

func (s *ChromemStore) Recall(ctx context.Context, q RecallQuery) (hits []ScoredMemory, err error) {
	defer s.metrics.observe("recall", time.Now(), &err)

	user := userOf(q.Filter)
	if user == "" {
		return nil, fmt.Errorf("recall filter is not pinned to a user")
	}

	if len(q.Embedding) == 0 {
		list, err := s.List(ctx, ListQuery{Filter: q.Filter, Type: q.Type, MinImportance: q.MinImportance, Since: q.Since})
		if err != nil {
			return nil, err
		}
		for _, m := range list {
			hits = append(hits, ScoredMemory{Memory: m, Score: m.Importance / 10})
		}
		return rank(hits, q.Limit), nil
	}

	col, err := s.collection(user)
	if err != nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 {
		return []ScoredMemory{}, nil
	}

	where := make(map[string]string, len(q.Filter.Must)+1)
	for _, t := range q.Filter.Must {
		where[t] = chromemTagValue
	}
	if q.Type != "" {
		where[payloadMemoryType] = string(q.Type)
	}

	// chromem rejects nResults above the collection size; AnyOf is evaluated
	// afterwards, so every candidate is ranked.
	results, err := col.QueryEmbedding(ctx, q.Embedding, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	hits = make([]ScoredMemory, 0, len(results))
	for _, r := range results {
		m, ok := s.index[r.ID]
		if !ok || !q.matches(m, now) {
			continue
		}
		hits = append(hits, ScoredMemory{Memory: m.Clone(), Score: float64(r.Similarity)})
	}
	return rank(hits, q.Limit), nil
}

func (s *ChromemStore) Get(ctx context.Context, id string) (m *Memory, err error) {
	defer s.metrics.observe("get", time.Now(), &err)
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	found, ok := s.index[id]
	if !ok || !found.Live(s.now()) {
		return nil, ErrNotFound
	}
	out := found.Clone()
	return &out, nil
}

func (s *ChromemStore) Update(ctx context.Context, id string, p Patch) (m *Memory, err error) {
	defer s.metrics.observe("update", time.Now(), &err)

	s.mu.RLock()
	found, ok := s.index[id]
	s.mu.RUnlock()
	if !ok || !found.Live(s.now()) {
		return nil, ErrNotFound
	}

	updated := found.Clone()
	applyPatch(&updated, p, s.now())

	col, err := s.collection(updated.UserID)
	if err != nil {
		return nil, err
	}
	if err = col.AddDocument(ctx, documentFor(updated)); err != nil {
		return nil, fmt.Errorf("replace document: %w", err)
	}

	s.mu.Lock()
	s.index[id] = updated.Clone()
	s.mu.Unlock()
	return &updated, nil
}

func (s *ChromemStore) Delete(ctx context.Context, id string) (err error) {
	defer s.metrics.observe("delete", time.Now(), &err)

	s.mu.RLock()
	found, ok := s.index[id]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	col, err := s.collection(found.UserID)
	if err != nil {
		return err
	}
	if err = col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	s.mu.Lock()
	delete(s.index, id)
	s.mu.Unlock()
	return nil
}

func (s *ChromemStore) List(ctx context.Context, q ListQuery) (out []Memory, err error) {
	defer s.metrics.observe("list", time.Now(), &err)
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out = make([]Memory, 0)
	for _, m := range s.index {
		if q.matches(m, now) {
			out = append(out, m.Clone())
		}
	}
	sortMemories(out, q.SortBy, q.Descending)
	return truncate(out, q.Limit), nil
}

func (s *ChromemStore) HealthCheck(ctx context.Context) error { return ctx.Err() }

// Metrics returns a snapshot of operation metrics
func (s *ChromemStore) Metrics() StorageMetrics { return s.metrics.snapshot() }

// Close releases nothing; chromem keeps everything in memory.
func (s *ChromemStore) Close() error {
	s.metrics.setStatus("closed")
	return nil
}

package storage

import (
	"context"
	"errors"
	"time"

	mcperrors "scoped-memory-mcp/internal/errors"
	"scoped-memory-mcp/internal/logging"
	"scoped-memory-mcp/internal/retry"
)

// RetryableStore wraps a MemoryStore with retry logic. Every operation is
// idempotent by id, so a retried write cannot duplicate a memory.
type RetryableStore struct {
	store   MemoryStore
	retrier *retry.Retrier
}

// NewRetryableStore creates a new retryable store
func NewRetryableStore(store MemoryStore, config retry.Config) *RetryableStore {
	if config.RetryIf == nil {
		config.RetryIf = isRetryableStorageError
	}
	if config.OnRetry == nil {
		config.OnRetry = func(attempt int, err error, _ time.Duration) {
			logging.Warn("Retrying store operation", "attempt", attempt, "error", err)
		}
	}
	return &RetryableStore{store: store, retrier: retry.New(config)}
}

// isRetryableStorageError determines if a storage error should be retried
func isRetryableStorageError(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	return mcperrors.IsRetryable(err)
}

func (s *RetryableStore) Remember(ctx context.Context, m Memory) error {
	return s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.store.Remember(ctx, m)
	}).Err
}

func (s *RetryableStore) Recall(ctx context.Context, q RecallQuery) ([]ScoredMemory, error) {
	hits, res := retry.Value(ctx, s.retrier, func(ctx context.Context) ([]ScoredMemory, error) {
		return s.store.Recall(ctx, q)
	})
	return hits, res.Err
}

func (s *RetryableStore) Get(ctx context.Context, id string) (*Memory, error) {
	m, res := retry.Value(ctx, s.retrier, func(ctx context.Context) (*Memory, error) {
		return s.store.Get(ctx, id)
	})
	return m, res.Err
}

func (s *RetryableStore) Update(ctx context.Context, id string, p Patch) (*Memory, error) {
	m, res := retry.Value(ctx, s.retrier, func(ctx context.Context) (*Memory, error) {
		return s.store.Update(ctx, id, p)
	})
	return m, res.Err
}

func (s *RetryableStore) Delete(ctx context.Context, id string) error {
	return s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.store.Delete(ctx, id)
	}).Err
}

func (s *RetryableStore) List(ctx context.Context, q ListQuery) ([]Memory, error) {
	ms, res := retry.Value(ctx, s.retrier, func(ctx context.Context) ([]Memory, error) {
		return s.store.List(ctx, q)
	})
	return ms, res.Err
}

// HealthCheck is not retried; it reports the current state.
func (s *RetryableStore) HealthCheck(ctx context.Context) error {
	return s.store.HealthCheck(ctx)
}

func (s *RetryableStore) Close() error {
	return s.store.Close()
}

package storage

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"scoped-memory-mcp/internal/circuitbreaker"
	mcperrors "scoped-memory-mcp/internal/errors"
	"scoped-memory-mcp/internal/logging"
	"scoped-memory-mcp/internal/retry"
)

// CircuitBreakerStore wraps a MemoryStore with circuit breaker protection.
// A rejected call surfaces as STORE_UNAVAILABLE; results are never faked.
type CircuitBreakerStore struct {
	store MemoryStore
	cb    *circuitbreaker.CircuitBreaker
}

// NewCircuitBreakerStore creates a new circuit breaker wrapped store
func NewCircuitBreakerStore(store MemoryStore, config circuitbreaker.Config) *CircuitBreakerStore {
	if config.Name == "" {
		config.Name = "memory-store"
	}
	if config.IsFailure == nil {
		config.IsFailure = countsAsFailure
	}
	if config.OnStateChange == nil {
		config.OnStateChange = func(name string, from, to circuitbreaker.State) {
			logging.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}
	}
	return &CircuitBreakerStore{store: store, cb: circuitbreaker.New(config)}
}

// NewResilientStore retries transient failures inside a circuit breaker
func NewResilientStore(store MemoryStore, rc retry.Config, cc circuitbreaker.Config) *CircuitBreakerStore {
	return NewCircuitBreakerStore(NewRetryableStore(store, rc), cc)
}

// countsAsFailure keeps caller-side outcomes from tripping the breaker. A
// backend that rejects one caller's request is still serving everyone else.
func countsAsFailure(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, context.Canceled):
		return false
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.OutOfRange, codes.AlreadyExists:
		return false
	}
	var se *mcperrors.StandardError
	if errors.As(err, &se) && se.ErrorInfo.Code != mcperrors.ErrorCodeStoreUnavailable {
		return false
	}
	return true
}

func (s *CircuitBreakerStore) execute(ctx context.Context, op string, fn func(context.Context) error) error {
	err := s.cb.Execute(ctx, fn)
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyConcurrentRequests) {
		return mcperrors.NewStoreUnavailableError(op, err)
	}
	return err
}

func (s *CircuitBreakerStore) Remember(ctx context.Context, m Memory) error {
	return s.execute(ctx, "remember", func(ctx context.Context) error {
		return s.store.Remember(ctx, m)
	})
}

func (s *CircuitBreakerStore) Recall(ctx context.Context, q RecallQuery) ([]ScoredMemory, error) {
	var hits []ScoredMemory
	err := s.execute(ctx, "recall", func(ctx context.Context) error {
		var err error
		hits, err = s.store.Recall(ctx, q)
		return err
	})
	return hits, err
}

func (s *CircuitBreakerStore) Get(ctx context.Context, id string) (*Memory, error) {
	var m *Memory
	err := s.execute(ctx, "get", func(ctx context.Context) error {
		var err error
		m, err = s.store.Get(ctx, id)
		return err
	})
	return m, err
}

func (s *CircuitBreakerStore) Update(ctx context.Context, id string, p Patch) (*Memory, error) {
	var m *Memory
	err := s.execute(ctx, "update", func(ctx context.Context) error {
		var err error
		m, err = s.store.Update(ctx, id, p)
		return err
	})
	return m, err
}

func (s *CircuitBreakerStore) Delete(ctx context.Context, id string) error {
	return s.execute(ctx, "delete", func(ctx context.Context) error {
		return s.store.Delete(ctx, id)
	})
}

func (s *CircuitBreakerStore) List(ctx context.Context, q ListQuery) ([]Memory, error) {
	var ms []Memory
	err := s.execute(ctx, "list", func(ctx context.Context) error {
		var err error
		ms, err = s.store.List(ctx, q)
		return err
	})
	return ms, err
}

// HealthCheck bypasses the breaker so an open circuit can still be diagnosed
func (s *CircuitBreakerStore) HealthCheck(ctx context.Context) error {
	return s.store.HealthCheck(ctx)
}

func (s *CircuitBreakerStore) Close() error {
	return s.store.Close()
}

// BreakerStats reports the breaker state
func (s *CircuitBreakerStore) BreakerStats() circuitbreaker.Stats {
	return s.cb.GetStats()
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"scoped-memory-mcp/internal/circuitbreaker"
	mcperrors "scoped-memory-mcp/internal/errors"
	"scoped-memory-mcp/internal/retry"
)

func fastRetry(attempts int) retry.Config {
	return retry.Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestRetryableStore_RetriesTransientFailures(t *testing.T) {
	inner := new(MockMemoryStore)
	store := NewRetryableStore(inner, fastRetry(3))
	ctx := context.Background()
	m := Memory{ID: "m1", UserID: "alice"}

	inner.On("Remember", ctx, m).Return(errors.New("connection reset by peer")).Once()
	inner.On("Remember", ctx, m).Return(nil).Once()

	require.NoError(t, store.Remember(ctx, m))
	inner.AssertExpectations(t)
}

func TestRetryableStore_DoesNotRetryNotFound(t *testing.T) {
	inner := new(MockMemoryStore)
	store := NewRetryableStore(inner, fastRetry(3))
	ctx := context.Background()

	inner.On("Get", ctx, "gone").Return(nil, ErrNotFound).Once()

	_, err := store.Get(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
	inner.AssertNumberOfCalls(t, "Get", 1)
}

func TestRetryableStore_GivesUp(t *testing.T) {
	inner := new(MockMemoryStore)
	store := NewRetryableStore(inner, fastRetry(2))
	ctx := context.Background()
	q := ListQuery{Limit: 1}

	inner.On("List", ctx, q).Return(nil, errors.New("service unavailable")).Times(2)

	_, err := store.List(ctx, q)
	assert.Error(t, err)
	inner.AssertExpectations(t)
}

func TestCircuitBreakerStore_OpenCircuitIsStoreUnavailable(t *testing.T) {
	inner := new(MockMemoryStore)
	store := NewCircuitBreakerStore(inner, circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Hour})
	ctx := context.Background()
	q := RecallQuery{Limit: 3}

	inner.On("Recall", ctx, q).Return(nil, errors.New("connection refused")).Times(2)

	for i := 0; i < 2; i++ {
		_, err := store.Recall(ctx, q)
		require.Error(t, err)
	}

	_, err := store.Recall(ctx, q)
	require.Error(t, err)
	assert.True(t, mcperrors.Is(err, mcperrors.ErrorCodeStoreUnavailable))
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, circuitbreaker.StateOpen, store.BreakerStats().State)
	inner.AssertNumberOfCalls(t, "Recall", 2)
}

func TestCircuitBreakerStore_SemanticErrorsDoNotTrip(t *testing.T) {
	inner := new(MockMemoryStore)
	store := NewCircuitBreakerStore(inner, circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Hour})
	ctx := context.Background()

	inner.On("Delete", ctx, mock.Anything).Return(ErrNotFound)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, store.Delete(ctx, "x"), ErrNotFound)
	}
	assert.Equal(t, circuitbreaker.StateClosed, store.BreakerStats().State)
}

func TestResilientStore_RejectedRequestsDoNotTrip(t *testing.T) {
	inner := new(MockMemoryStore)
	store := NewResilientStore(inner, fastRetry(3), circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Hour})
	ctx := context.Background()

	rejected := fmt.Errorf("failed to delete memory from Qdrant: %w",
		status.Error(codes.InvalidArgument, "Unable to parse UUID: bogus"))
	inner.On("Delete", ctx, "bogus").Return(rejected)
	inner.On("Remember", ctx, mock.Anything).Return(nil)

	for i := 0; i < 6; i++ {
		err := store.Delete(ctx, "bogus")
		require.Error(t, err)
		assert.False(t, mcperrors.Is(err, mcperrors.ErrorCodeStoreUnavailable))
	}
	assert.Equal(t, circuitbreaker.StateClosed, store.BreakerStats().State)
	inner.AssertNumberOfCalls(t, "Delete", 6)

	require.NoError(t, store.Remember(ctx, Memory{ID: "m1", UserID: "alice"}))
}

func TestNewResilientStore_PassesThrough(t *testing.T) {
	store := NewResilientStore(NewInMemoryStore(), fastRetry(2), circuitbreaker.DefaultConfig())
	ctx := context.Background()

	require.NoError(t, store.Remember(ctx, Memory{ID: "m1", UserID: "alice"}))
	got, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
	require.NoError(t, store.HealthCheck(ctx))
	require.NoError(t, store.Close())
}

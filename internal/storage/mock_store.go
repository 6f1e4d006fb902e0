package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockMemoryStore is a testify mock of MemoryStore
type MockMemoryStore struct {
	mock.Mock
}

func (m *MockMemoryStore) Remember(ctx context.Context, mem Memory) error {
	args := m.Called(ctx, mem)
	return args.Error(0)
}

func (m *MockMemoryStore) Recall(ctx context.Context, q RecallQuery) ([]ScoredMemory, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ScoredMemory), args.Error(1)
}

func (m *MockMemoryStore) Get(ctx context.Context, id string) (*Memory, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Memory), args.Error(1)
}

func (m *MockMemoryStore) Update(ctx context.Context, id string, p Patch) (*Memory, error) {
	args := m.Called(ctx, id, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Memory), args.Error(1)
}

func (m *MockMemoryStore) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockMemoryStore) List(ctx context.Context, q ListQuery) ([]Memory, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Memory), args.Error(1)
}

func (m *MockMemoryStore) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockMemoryStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

package storage

import (
	"context"
	"errors"
	"time"

	"scoped-memory-mcp/internal/scope"
)

// ErrNotFound is returned when no memory exists under an id
var ErrNotFound = errors.New("memory not found")

// Memory is a stored memory. Tags holds the encoded scope tags; the scoped
// identity is recovered from them with scope.DecodeTags.
type Memory struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Text       string            `json:"text"`
	Type       scope.MemoryType  `json:"memory_type"`
	Importance float64           `json:"importance"`
	Tags       []string          `json:"tags"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	Embedding  []float32         `json:"-"`
}

// Live reports whether m has not expired at now
func (m Memory) Live(now time.Time) bool {
	return m.ExpiresAt == nil || m.ExpiresAt.After(now)
}

// Clone returns a deep copy of m
func (m Memory) Clone() Memory {
	out := m
	out.Tags = append([]string(nil), m.Tags...)
	if m.Metadata != nil {
		out.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		out.ExpiresAt = &t
	}
	out.Embedding = append([]float32(nil), m.Embedding...)
	return out
}

// ScoredMemory is a recall hit
type ScoredMemory struct {
	Memory
	Score float64 `json:"score"`
}

// RecallQuery is a similarity search restricted by a scope filter
type RecallQuery struct {
	Text          string
	Embedding     []float32
	Filter        scope.Filter
	Limit         int
	MinImportance float64
	Type          scope.MemoryType
	Since         time.Time
}

// SortField orders list results
type SortField string

const (
	SortByCreatedAt  SortField = "created_at"
	SortByImportance SortField = "importance"
)

// ListQuery enumerates memories matching a scope filter
type ListQuery struct {
	Filter        scope.Filter
	Type          scope.MemoryType
	MinImportance float64
	Since         time.Time
	Limit         int
	SortBy        SortField
	Descending    bool
}

// Patch is a partial update; nil fields are left alone
type Patch struct {
	Text       *string
	Embedding  []float32
	Importance *float64
	Type       *scope.MemoryType
	// Tags, when non-nil, replaces the payload tags; scope tags are kept
	Tags     []string
	Metadata map[string]string
}

// MemoryStore is the backing store the service delegates to. Stores filter by
// scope.Filter but never decide access; that happens before the call.
type MemoryStore interface {
	Remember(ctx context.Context, m Memory) error
	Recall(ctx context.Context, q RecallQuery) ([]ScoredMemory, error)
	Get(ctx context.Context, id string) (*Memory, error)
	Update(ctx context.Context, id string, p Patch) (*Memory, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, q ListQuery) ([]Memory, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

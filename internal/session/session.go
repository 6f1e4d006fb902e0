// Package session persists conversation sessions that SESSION-scoped memories hang off.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session id is unknown
var ErrNotFound = errors.New("session not found")

// Session is one working session of a user
type Session struct {
	ID        string `json:"session_id"`
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id,omitempty"`
	Title     string `json:"title,omitempty"`

	SummaryMarkdown string     `json:"summary,omitempty"`
	SummaryHTML     string     `json:"summary_html,omitempty"`
	SummarizedAt    *time.Time `json:"summarized_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSummary reports whether a summary was stored
func (s *Session) HasSummary() bool {
	return s.SummarizedAt != nil && s.SummaryMarkdown != ""
}

// Repository stores sessions
type Repository interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Session, error)
	SaveSummary(ctx context.Context, id, markdown, html string) (*Session, error)
	Ping(ctx context.Context) error
	Close() error
}

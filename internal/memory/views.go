package memory

import (
	"time"

	"scoped-memory-mcp/internal/scope"
	"scoped-memory-mcp/internal/storage"
)

// MemoryView is a memory as returned to callers: payload tags only, with the
// scoped identity decoded from the stored tag set.
type MemoryView struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	MemoryType scope.MemoryType  `json:"memory_type"`
	Importance float64           `json:"importance"`
	Tags       []string          `json:"tags"`
	Scope      scope.Scope       `json:"scope"`
	UserID     string            `json:"user_id"`
	ProjectID  string            `json:"project_id,omitempty"`
	AgentID    string            `json:"agent_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	Visibility scope.Visibility  `json:"visibility,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	Score      *float64          `json:"score,omitempty"`
}

func viewOf(m storage.Memory) MemoryView {
	d := scope.DecodeTags(m.Tags)
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return MemoryView{
		ID:         m.ID,
		Text:       m.Text,
		MemoryType: m.Type,
		Importance: m.Importance,
		Tags:       tags,
		Scope:      d.Scope,
		UserID:     m.UserID,
		ProjectID:  d.ProjectID,
		AgentID:    d.AgentID,
		SessionID:  d.SessionID,
		Visibility: d.Visibility,
		Metadata:   m.Metadata,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		ExpiresAt:  m.ExpiresAt,
	}
}

func viewsOf(ms []storage.Memory) []MemoryView {
	out := make([]MemoryView, 0, len(ms))
	for _, m := range ms {
		out = append(out, viewOf(m))
	}
	return out
}

func scoredViews(hits []storage.ScoredMemory) []MemoryView {
	out := make([]MemoryView, 0, len(hits))
	for _, h := range hits {
		v := viewOf(h.Memory)
		score := h.Score
		v.Score = &score
		out = append(out, v)
	}
	return out
}

// RecallResult is the data of a recall
type RecallResult struct {
	Query   string       `json:"query"`
	Count   int          `json:"count"`
	Results []MemoryView `json:"results"`
}

// ListResult is the data of a listing
type ListResult struct {
	Count    int          `json:"count"`
	Memories []MemoryView `json:"memories"`
}

// DeleteResult is the data of a delete
type DeleteResult struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// StatsResult is the data of get_memory_statistics
type StatsResult struct {
	UserID string `json:"user_id"`
	storage.Stats
}

package memory

import (
	"strings"

	"scoped-memory-mcp/internal/scope"
)

// Identity carries the scoping fields of a tool call. Project is the legacy
// alias of ProjectID.
type Identity struct {
	UserID    string `mapstructure:"user_id"`
	ProjectID string `mapstructure:"project_id"`
	Project   string `mapstructure:"project"`
	AgentID   string `mapstructure:"agent_id"`
	SessionID string `mapstructure:"session_id"`
}

func (id Identity) scoped() scope.Identity {
	project := id.ProjectID
	if strings.TrimSpace(project) == "" {
		project = id.Project
	}
	return scope.Identity{
		UserID:    id.UserID,
		ProjectID: project,
		AgentID:   id.AgentID,
		SessionID: id.SessionID,
	}
}

type RememberInput struct {
	Scope    string `mapstructure:"scope"`
	Identity `mapstructure:",squash"`

	Text       string            `mapstructure:"text"`
	Visibility string            `mapstructure:"visibility"`
	MemoryType string            `mapstructure:"memory_type"`
	Importance *float64          `mapstructure:"importance"`
	Tags       []string          `mapstructure:"tags"`
	TTLDays    int               `mapstructure:"ttl_days"`
	RunID      string            `mapstructure:"run_id"`
	Metadata   map[string]string `mapstructure:"metadata"`
}

func (in RememberInput) raw() scope.RawRequest {
	id := in.Identity.scoped()
	s := in.Scope
	if strings.TrimSpace(s) == "" {
		s = string(scope.Infer(id))
	}
	return scope.RawRequest{
		Scope:      s,
		Identity:   id,
		Visibility: in.Visibility,
		Text:       in.Text,
		Tags:       in.Tags,
		Importance: in.Importance,
		MemoryType: in.MemoryType,
		TTLDays:    in.TTLDays,
		RunID:      in.RunID,
		Metadata:   in.Metadata,
	}
}

// ReadInput holds the scoping and filter fields shared by recall and list.
// IncludeCrossScope is an alias of IncludeRelated.
type ReadInput struct {
	Scope    string `mapstructure:"scope"`
	Identity `mapstructure:",squash"`

	MemoryType        string   `mapstructure:"memory_type"`
	Tags              []string `mapstructure:"tags"`
	MinImportance     *float64 `mapstructure:"min_importance"`
	IncludeRelated    bool     `mapstructure:"include_related"`
	IncludeCrossScope bool     `mapstructure:"include_cross_scope"`
}

func (in ReadInput) raw() scope.RawQuery {
	return scope.RawQuery{
		Scope:          in.Scope,
		Identity:       in.Identity.scoped(),
		IncludeRelated: in.IncludeRelated || in.IncludeCrossScope,
		MemoryType:     in.MemoryType,
		Tags:           in.Tags,
		MinImportance:  in.MinImportance,
	}
}

type RecallInput struct {
	ReadInput `mapstructure:",squash"`
	Query     string `mapstructure:"query"`
	K         int    `mapstructure:"k"`
}

type ListInput struct {
	ReadInput `mapstructure:",squash"`
	Limit     int    `mapstructure:"limit"`
	SortBy    string `mapstructure:"sort_by"`
	Order     string `mapstructure:"order"`
}

type UpdateInput struct {
	MemoryID   string            `mapstructure:"memory_id"`
	UserID     string            `mapstructure:"user_id"`
	Text       *string           `mapstructure:"text"`
	Importance *float64          `mapstructure:"importance"`
	MemoryType string            `mapstructure:"memory_type"`
	Tags       []string          `mapstructure:"tags"`
	Metadata   map[string]string `mapstructure:"metadata"`
}

type DeleteInput struct {
	MemoryID string `mapstructure:"memory_id"`
	UserID   string `mapstructure:"user_id"`
}

type StatsInput struct {
	UserID string `mapstructure:"user_id"`
}

type CreateSessionInput struct {
	UserID    string `mapstructure:"user_id"`
	ProjectID string `mapstructure:"project_id"`
	Project   string `mapstructure:"project"`
	Title     string `mapstructure:"title"`
}

type SessionMemoriesInput struct {
	UserID    string `mapstructure:"user_id"`
	SessionID string `mapstructure:"session_id"`
	Limit     int    `mapstructure:"limit"`
}

type SummarizeSessionInput struct {
	UserID    string `mapstructure:"user_id"`
	SessionID string `mapstructure:"session_id"`
	Force     bool   `mapstructure:"force"`
}

type AgentMemoriesInput struct {
	UserID     string `mapstructure:"user_id"`
	ProjectID  string `mapstructure:"project_id"`
	Project    string `mapstructure:"project"`
	AgentID    string `mapstructure:"agent_id"`
	MemoryType string `mapstructure:"memory_type"`
	Limit      int    `mapstructure:"limit"`
}

type ExtractFactsInput struct {
	UserID              string  `mapstructure:"user_id"`
	Text                string  `mapstructure:"text"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

type ExtractConversationInput struct {
	Scope    string `mapstructure:"scope"`
	Identity `mapstructure:",squash"`

	Conversation        string   `mapstructure:"conversation"`
	Visibility          string   `mapstructure:"visibility"`
	Tags                []string `mapstructure:"tags"`
	ConfidenceThreshold float64  `mapstructure:"confidence_threshold"`
}

type ClusterInput struct {
	UserID      string `mapstructure:"user_id"`
	MaxClusters int    `mapstructure:"max_clusters"`
}

type RecentInput struct {
	ReadInput  `mapstructure:",squash"`
	TimeWindow string `mapstructure:"time_window"`
	Limit      int    `mapstructure:"limit"`
}

// ScheduleInput is a write with a schedule. ScheduledForISO is the legacy
// spelling of ScheduledFor.
type ScheduleInput struct {
	RememberInput   `mapstructure:",squash"`
	ScheduledFor    string `mapstructure:"scheduled_for"`
	ScheduledForISO string `mapstructure:"scheduled_for_iso"`
	Recurrence      string `mapstructure:"recurrence"`
}

type RecentOperationsInput struct {
	UserID string `mapstructure:"user_id"`
	Limit  int    `mapstructure:"limit"`
}

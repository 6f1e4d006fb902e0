// Package scope defines the memory isolation model: which identity fields a scope
// requires or forbids, how raw requests are validated against it, and how scoped
// identities are encoded into store tags and filters.
package scope

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	mcperrors "scoped-memory-mcp/internal/errors"
)

// Scope is the isolation boundary of a memory
type Scope string

const (
	Project        Scope = "project"
	Agent          Scope = "agent"
	UserPreference Scope = "user_preference"
	Session        Scope = "session"
)

// All returns every scope in declaration order
func All() []Scope {
	return []Scope{Project, Agent, UserPreference, Session}
}

func (s Scope) String() string { return string(s) }

// Valid reports whether s is one of the four scopes
func (s Scope) Valid() bool {
	switch s {
	case Project, Agent, UserPreference, Session:
		return true
	}
	return false
}

// canonical folds case, trims and applies NFC so equivalent spellings compare equal.
// A Caser is stateful, so each call builds its own.
func canonical(v string) string {
	v = norm.NFC.String(strings.TrimSpace(v))
	v = cases.Fold().String(v)
	return strings.NewReplacer("-", "_", " ", "_").Replace(v)
}

// Parse maps a wire value (any case, '-' or '_') to a Scope.
func Parse(v string) (Scope, error) {
	s := Scope(canonical(v))
	if !s.Valid() {
		return "", mcperrors.NewInvalidScopeError(strings.TrimSpace(v))
	}
	return s, nil
}

// Field names an identity or payload field subject to validation
type Field string

const (
	FieldUserID     Field = "user_id"
	FieldProjectID  Field = "project_id"
	FieldAgentID    Field = "agent_id"
	FieldSessionID  Field = "session_id"
	FieldVisibility Field = "visibility"
	FieldText       Field = "text"
	FieldImportance Field = "importance"
	FieldMemoryType Field = "memory_type"
)

// Requirements is the field contract of one scope
type Requirements struct {
	Required             []Field
	Forbidden            []Field
	VisibilityMeaningful bool
}

// Requires reports whether f is required
func (r Requirements) Requires(f Field) bool { return containsField(r.Required, f) }

// Forbids reports whether f is forbidden
func (r Requirements) Forbids(f Field) bool { return containsField(r.Forbidden, f) }

func containsField(fields []Field, f Field) bool {
	for _, x := range fields {
		if x == f {
			return true
		}
	}
	return false
}

var requirements = map[Scope]Requirements{
	Project: {
		Required:  []Field{FieldUserID, FieldProjectID},
		Forbidden: []Field{FieldSessionID},
	},
	Agent: {
		Required:             []Field{FieldUserID, FieldProjectID, FieldAgentID},
		Forbidden:            []Field{FieldSessionID},
		VisibilityMeaningful: true,
	},
	UserPreference: {
		Required:  []Field{FieldUserID},
		Forbidden: []Field{FieldProjectID, FieldAgentID, FieldSessionID},
	},
	Session: {
		Required: []Field{FieldUserID, FieldSessionID},
	},
}

// RequirementsFor returns the required and forbidden field sets of s.
func RequirementsFor(s Scope) (Requirements, error) {
	r, ok := requirements[s]
	if !ok {
		return Requirements{}, mcperrors.NewInvalidScopeError(string(s))
	}
	// callers get their own slices
	return Requirements{
		Required:             append([]Field(nil), r.Required...),
		Forbidden:            append([]Field(nil), r.Forbidden...),
		VisibilityMeaningful: r.VisibilityMeaningful,
	}, nil
}

// Identity is the set of identity fields carried by a request
type Identity struct {
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (id Identity) get(f Field) string {
	switch f {
	case FieldUserID:
		return id.UserID
	case FieldProjectID:
		return id.ProjectID
	case FieldAgentID:
		return id.AgentID
	case FieldSessionID:
		return id.SessionID
	}
	return ""
}

func (id *Identity) clear(f Field) {
	switch f {
	case FieldProjectID:
		id.ProjectID = ""
	case FieldAgentID:
		id.AgentID = ""
	case FieldSessionID:
		id.SessionID = ""
	}
}

func (id Identity) normalized() Identity {
	return Identity{
		UserID:    NormalizeID(id.UserID),
		ProjectID: NormalizeID(id.ProjectID),
		AgentID:   NormalizeID(id.AgentID),
		SessionID: NormalizeID(id.SessionID),
	}
}

// NormalizeID trims and NFC-normalizes an identity value so visually
// identical ids compare and encode identically.
func NormalizeID(v string) string {
	return norm.NFC.String(strings.TrimSpace(v))
}

// Infer picks a scope for a write that did not name one: the most specific
// identity present wins.
func Infer(id Identity) Scope {
	id = id.normalized()
	switch {
	case id.AgentID != "":
		return Agent
	case id.ProjectID != "":
		return Project
	case id.SessionID != "":
		return Session
	default:
		return UserPreference
	}
}

// Visibility controls who may read an AGENT-scoped memory
type Visibility string

const (
	Private Visibility = "private"
	Shared  Visibility = "shared"
	Public  Visibility = "public"
)

// ParseVisibility maps a wire value to a Visibility; empty means private.
func ParseVisibility(v string) (Visibility, bool) {
	if strings.TrimSpace(v) == "" {
		return Private, true
	}
	switch vis := Visibility(canonical(v)); vis {
	case Private, Shared, Public:
		return vis, true
	}
	return "", false
}

// MemoryType is the payload classification carried through to the store
type MemoryType string

const (
	TypeFact       MemoryType = "fact"
	TypePreference MemoryType = "preference"
	TypeGoal       MemoryType = "goal"
	TypeHabit      MemoryType = "habit"
	TypeEvent      MemoryType = "event"
	TypeContext    MemoryType = "context"
)

// MemoryTypes lists the accepted memory types
func MemoryTypes() []MemoryType {
	return []MemoryType{TypeFact, TypePreference, TypeGoal, TypeHabit, TypeEvent, TypeContext}
}

// ParseMemoryType maps a wire value to a MemoryType; empty yields "".
func ParseMemoryType(v string) (MemoryType, bool) {
	if strings.TrimSpace(v) == "" {
		return "", true
	}
	t := MemoryType(canonical(v))
	for _, known := range MemoryTypes() {
		if t == known {
			return t, true
		}
	}
	return "", false
}

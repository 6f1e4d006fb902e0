package memory

import (
	"context"
	"errors"
	"strings"

	"scoped-memory-mcp/internal/access"
	mcperrors "scoped-memory-mcp/internal/errors"
	"scoped-memory-mcp/internal/scope"
	"scoped-memory-mcp/internal/session"
	"scoped-memory-mcp/internal/storage"
)

const (
	ToolCreateSession      = "create_session"
	ToolGetSessionMemories = "get_session_memories"
	ToolSummarizeSession   = "summarize_session"
	ToolGetAgentMemories   = "get_agent_memories"
)

// SessionSummary is the data of summarize_session
type SessionSummary struct {
	*session.Session
	MemoryCount int    `json:"memory_count"`
	Cached      bool   `json:"cached"`
	Source      string `json:"source,omitempty"`
}

func (s *Service) requireSessions() error {
	if s.sessions == nil {
		return mcperrors.NewStoreUnavailableError("sessions", errors.New("session storage is not configured"))
	}
	return nil
}

// CreateSession opens a new session for the caller
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) Envelope {
	project := in.ProjectID
	if strings.TrimSpace(project) == "" {
		project = in.Project
	}
	var owner scope.Identity
	return s.execute(ctx, call{
		tool: ToolCreateSession,
		user: in.UserID,
		validate: func() error {
			owner = scope.Identity{UserID: scope.NormalizeID(in.UserID), ProjectID: scope.NormalizeID(project)}
			if owner.UserID == "" {
				return mcperrors.NewScopeValidationError(string(scope.Session), []mcperrors.ValidationDetail{
					{Field: string(scope.FieldUserID), Reason: mcperrors.ReasonMissing},
				})
			}
			return s.requireSessions()
		},
		delegate: func(ctx context.Context) (interface{}, error) {
			sess := &session.Session{
				UserID:    owner.UserID,
				ProjectID: owner.ProjectID,
				Title:     strings.TrimSpace(in.Title),
				CreatedAt: s.now().UTC(),
			}
			if err := s.sessions.Create(ctx, sess); err != nil {
				return nil, err
			}
			return sess, nil
		},
	})
}

// authorizeSession checks that a known session belongs to actor. Sessions
// that were never created explicitly are accepted: SESSION memories only
// need a session id, and reads stay pinned to the actor anyway.
func (s *Service) authorizeSession(ctx context.Context, actor, id string, mustExist bool) (*session.Session, error) {
	if s.sessions == nil {
		if mustExist {
			return nil, s.requireSessions()
		}
		return nil, nil
	}
	sess, err := s.sessions.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		if mustExist {
			return nil, mcperrors.NewNotFoundError("session", id)
		}
		return nil, nil
	}
	if err != nil {
		return nil, mcperrors.NewStoreUnavailableError("sessions", err)
	}
	if err := s.access.AuthorizeRead(actor, sess.UserID, id); err != nil {
		return nil, err
	}
	return sess, nil
}

func sessionQuery(userID, sessionID string) scope.RawQuery {
	return scope.RawQuery{
		Scope:    string(scope.Session),
		Identity: scope.Identity{UserID: userID, SessionID: sessionID},
	}
}

// SessionMemories lists the memories of one session, oldest first
func (s *Service) SessionMemories(ctx context.Context, in SessionMemoriesInput) Envelope {
	var (
		q scope.Query
		g access.Grant
	)
	return s.execute(ctx, call{
		tool: ToolGetSessionMemories,
		user: in.UserID,
		validate: func() (err error) {
			q, err = scope.ValidateQuery(sessionQuery(in.UserID, in.SessionID))
			return err
		},
		authorize: func(ctx context.Context) (err error) {
			if _, err = s.authorizeSession(ctx, q.UserID, q.SessionID, false); err != nil {
				return err
			}
			g, err = s.access.AuthorizeRecall(q)
			return err
		},
		delegate: func(ctx context.Context) (interface{}, error) {
			ms, err := s.list(ctx, g, storage.ListQuery{
				Limit:  s.limit(in.Limit, s.config.SessionListLimit),
				SortBy: storage.SortByCreatedAt,
			})
			if err != nil {
				return nil, err
			}
			return ListResult{Count: len(ms), Memories: viewsOf(ms)}, nil
		},
	})
}

// SummarizeSession summarizes a session and stores the result on it. A stored
// summary is returned as-is unless Force is set.
func (s *Service) SummarizeSession(ctx context.Context, in SummarizeSessionInput) Envelope {
	var (
		q    scope.Query
		g    access.Grant
		sess *session.Session
	)
	return s.execute(ctx, call{
		tool: ToolSummarizeSession,
		user: in.UserID,
		validate: func() (err error) {
			q, err = scope.ValidateQuery(sessionQuery(in.UserID, in.SessionID))
			return err
		},
		authorize: func(ctx context.Context) (err error) {
			if sess, err = s.authorizeSession(ctx, q.UserID, q.SessionID, true); err != nil {
				return err
			}
			g, err = s.access.AuthorizeRecall(q)
			return err
		},
		delegate: func(ctx context.Context) (interface{}, error) {
			ms, err := s.list(ctx, g, storage.ListQuery{Limit: s.config.SessionListLimit, SortBy: storage.SortByCreatedAt})
			if err != nil {
				return nil, err
			}
			if sess.HasSummary() && !in.Force {
				return SessionSummary{Session: sess, MemoryCount: len(ms), Cached: true}, nil
			}

			sum, err := s.summarizer.Summarize(ctx, sess.Title, ms)
			if err != nil {
				return nil, mcperrors.NewStoreUnavailableError("summarize", err)
			}
			updated, err := s.sessions.SaveSummary(ctx, sess.ID, sum.Markdown, sum.HTML)
			if err != nil {
				return nil, err
			}
			return SessionSummary{Session: updated, MemoryCount: len(ms), Source: sum.Source}, nil
		},
	})
}

// AgentMemories lists what an agent may see in its project: its own memories
// and those its sibling agents shared.
func (s *Service) AgentMemories(ctx context.Context, in AgentMemoriesInput) Envelope {
	project := in.ProjectID
	if strings.TrimSpace(project) == "" {
		project = in.Project
	}
	var (
		q scope.Query
		g access.Grant
	)
	return s.execute(ctx, call{
		tool: ToolGetAgentMemories,
		user: in.UserID,
		validate: func() (err error) {
			q, err = scope.ValidateQuery(scope.RawQuery{
				Scope:      string(scope.Agent),
				Identity:   scope.Identity{UserID: in.UserID, ProjectID: project, AgentID: in.AgentID},
				MemoryType: in.MemoryType,
			})
			return err
		},
		authorize: func(context.Context) (err error) {
			g, err = s.access.AuthorizeRecall(q)
			return err
		},
		delegate: func(ctx context.Context) (interface{}, error) {
			ms, err := s.list(ctx, g, storage.ListQuery{
				Type:       q.MemoryType,
				Limit:      s.limit(in.Limit, s.config.DefaultListLimit),
				SortBy:     storage.SortByCreatedAt,
				Descending: true,
			})
			if err != nil {
				return nil, err
			}
			return ListResult{Count: len(ms), Memories: viewsOf(ms)}, nil
		},
	})
}

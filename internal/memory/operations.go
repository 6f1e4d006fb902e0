package memory

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"

	"scoped-memory-mcp/internal/access"
	mcperrors "scoped-memory-mcp/internal/errors"
	"scoped-memory-mcp/internal/scope"
	"scoped-memory-mcp/internal/storage"
)

// Tool names
const (
	ToolRemember         = "remember"
	ToolRecall           = "recall"
	ToolGetMemories      = "get_memories"
	ToolUpdateMemory     = "update_memory"
	ToolDeleteMemory     = "delete_memory"
	ToolMemoryStatistics = "get_memory_statistics"
)

// Remember stores a memory in the requested or inferred scope
func (s *Service) Remember(ctx context.Context, in RememberInput) Envelope {
	var req scope.Request
	return s.execute(ctx, call{
		tool: ToolRemember,
		user: in.UserID,
		validate: func() (err error) {
			req, err = scope.Validate(in.raw())
			return err
		},
		delegate: func(ctx context.Context) (interface{}, error) {
			m, err := s.write(ctx, req, nil)
			if err != nil {
				return nil, err
			}
			return viewOf(m), nil
		},
	})
}

// write embeds and persists a validated request. extra metadata wins over the
// caller's metadata.
func (s *Service) write(ctx context.Context, req scope.Request, extra map[string]string) (storage.Memory, error) {
	emb, err := s.embed(ctx, req.Text)
	if err != nil {
		return storage.Memory{}, mcperrors.NewStoreUnavailableError("embed", err)
	}

	metadata := make(map[string]string, len(req.Metadata)+len(extra)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.RunID != "" {
		metadata["run_id"] = req.RunID
	}
	for k, v := range extra {
		metadata[k] = v
	}
	if len(metadata) == 0 {
		metadata = nil
	}

	now := s.now().UTC()
	m := storage.Memory{
		ID:         s.newID(),
		UserID:     req.UserID,
		Text:       req.Text,
		Type:       req.MemoryType,
		Importance: req.Importance,
		Tags:       scope.EncodeTags(req),
		Metadata:   metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
		Embedding:  emb,
	}
	if req.TTLDays > 0 {
		exp := now.AddDate(0, 0, req.TTLDays)
		m.ExpiresAt = &exp
	}

	if err := s.store.Remember(ctx, m); err != nil {
		return storage.Memory{}, err
	}
	return m, nil
}

// Recall runs a similarity search inside the caller's scope
func (s *Service) Recall(ctx context.Context, in RecallInput) Envelope {
	var (
		q scope.Query
		g access.Grant
	)
	return s.execute(ctx, call{
		tool: ToolRecall,
		user: in.UserID,
		validate: func() (err error) {
			if in.K < 0 {
				return mcperrors.NewInvalidArgumentError("k", "must be positive", in.K)
			}
			q, err = scope.ValidateQuery(in.raw())
			return err
		},
		authorize: func(context.Context) (err error) {
			g, err = s.access.AuthorizeRecall(q)
			return err
		},
		delegate: func(ctx context.Context) (interface{}, error) {
			hits, err := s.recall(ctx, g, q, in.Query, s.limit(in.K, s.config.DefaultRecallLimit))
			if err != nil {
				return nil, err
			}
			return RecallResult{Query: in.Query, Count: len(hits), Results: scoredViews(hits)}, nil
		},
	})
}

func (s *Service) recall(ctx context.Context, g access.Grant, q scope.Query, text string, k int) ([]storage.ScoredMemory, error) {
	emb, err := s.embed(ctx, strings.TrimSpace(text))
	if err != nil {
		return nil, mcperrors.NewStoreUnavailableError("embed", err)
	}
	hits, err := s.store.Recall(ctx, storage.RecallQuery{
		Text:          text,
		Embedding:     emb,
		Filter:        g.Filter,
		Limit:         k,
		MinImportance: q.MinImportance,
		Type:          q.MemoryType,
	})
	if err != nil {
		return nil, err
	}
	return access.Visible(g, hits, func(h storage.ScoredMemory) []string { return h.Tags }), nil
}

// List enumerates memories inside the caller's scope
func (s *Service) List(ctx context.Context, in ListInput) Envelope {
	var (
		q     scope.Query
		g     access.Grant
		order listOrder
	)
	return s.execute(ctx, call{
		tool: ToolGetMemories,
		user: in.UserID,
		validate: func() (err error) {
			if order, err = parseOrder(in.SortBy, in.Order); err != nil {
				return err
			}
			if in.Limit < 0 {
				return mcperrors.NewInvalidArgumentError("limit", "must be positive", in.Limit)
			}
			q, err = scope.ValidateQuery(in.raw())
			return err
		},
		authorize: func(context.Context) (err error) {
			g, err = s.access.AuthorizeRecall(q)
			return err
		},
		delegate: func(ctx context.Context) (interface{}, error) {
			ms, err := s.list(ctx, g, storage.ListQuery{
				Type:          q.MemoryType,
				MinImportance: q.MinImportance,
				Limit:         s.limit(in.Limit, s.config.DefaultListLimit),
				SortBy:        order.by,
				Descending:    order.desc,
			})
			if err != nil {
				return nil, err
			}
			return ListResult{Count: len(ms), Memories: viewsOf(ms)}, nil
		},
	})
}

func (s *Service) list(ctx context.Context, g access.Grant, lq storage.ListQuery) ([]storage.Memory, error) {
	lq.Filter = g.Filter
	ms, err := s.store.List(ctx, lq)
	if err != nil {
		return nil, err
	}
	return access.Visible(g, ms, func(m storage.Memory) []string { return m.Tags }), nil
}

type listOrder struct {
	by   storage.SortField
	desc bool
}

func parseOrder(sortBy, order string) (listOrder, error) {
	out := listOrder{by: storage.SortByCreatedAt, desc: true}
	switch strings.ToLower(strings.TrimSpace(sortBy)) {
	case "", string(storage.SortByCreatedAt):
	case string(storage.SortByImportance):
		out.by = storage.SortByImportance
	default:
		return out, mcperrors.NewInvalidArgumentError("sort_by", "must be created_at or importance", sortBy)
	}
	switch strings.ToLower(strings.TrimSpace(order)) {
	case "", "desc":
	case "asc":
		out.desc = false
	default:
		return out, mcperrors.NewInvalidArgumentError("order", "must be asc or desc", order)
	}
	return out, nil
}

// Update patches a memory owned by the caller
func (s *Service) Update(ctx context.Context, in UpdateInput) Envelope {
	var (
		patch storage.Patch
		id    string
	)
	return s.execute(ctx, call{
		tool: ToolUpdateMemory,
		user: in.UserID,
		validate: func() (err error) {
			if strings.TrimSpace(in.MemoryID) == "" {
				return mcperrors.NewInvalidArgumentError("memory_id", mcperrors.ReasonMissing, nil)
			}
			patch, err = buildPatch(in)
			return err
		},
		authorize: func(ctx context.Context) (err error) {
			id, err = s.authorizeMutation(ctx, in.UserID, in.MemoryID)
			return err
		},
		delegate: func(ctx context.Context) (interface{}, error) {
			if patch.Text != nil {
				emb, err := s.embed(ctx, *patch.Text)
				if err != nil {
					return nil, mcperrors.NewStoreUnavailableError("embed", err)
				}
				patch.Embedding = emb
			}
			m, err := s.store.Update(ctx, id, patch)
			if errors.Is(err, storage.ErrNotFound) {
				return nil, mcperrors.NewNotFoundError("memory", id)
			}
			if err != nil {
				return nil, err
			}
			return viewOf(*m), nil
		},
	})
}

func buildPatch(in UpdateInput) (storage.Patch, error) {
	var p storage.Patch
	changed := false

	if in.Text != nil {
		text := strings.TrimSpace(*in.Text)
		if text == "" {
			return p, mcperrors.NewInvalidArgumentError("text", "cannot be empty", nil)
		}
		p.Text = &text
		changed = true
	}
	if in.Importance != nil {
		v := *in.Importance
		if math.IsNaN(v) || v < 0 || v > scope.MaxImportance {
			return p, mcperrors.NewInvalidArgumentError("importance", "must be between 0 and 10", v)
		}
		p.Importance = &v
		changed = true
	}
	if strings.TrimSpace(in.MemoryType) != "" {
		t, ok := scope.ParseMemoryType(in.MemoryType)
		if !ok {
			return p, mcperrors.NewInvalidArgumentError("memory_type", mcperrors.ReasonInvalid, in.MemoryType)
		}
		p.Type = &t
		changed = true
	}
	if in.Tags != nil {
		p.Tags = scope.NormalizeTags(in.Tags)
		if p.Tags == nil {
			p.Tags = []string{}
		}
		changed = true
	}
	if len(in.Metadata) > 0 {
		p.Metadata = in.Metadata
		changed = true
	}

	if !changed {
		return p, mcperrors.NewInvalidArgumentError("memory_id", "nothing to update", nil)
	}
	return p, nil
}

// authorizeMutation loads the owner of id and checks it against actor. It
// returns the canonical memory id; an id that is not a UUID names no memory.
func (s *Service) authorizeMutation(ctx context.Context, actor, id string) (string, error) {
	actor = scope.NormalizeID(actor)
	if actor == "" {
		return "", s.access.AuthorizeMutation(actor, "", id)
	}
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", mcperrors.NewNotFoundError("memory", id)
	}
	id = parsed.String()

	m, err := s.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return "", mcperrors.NewNotFoundError("memory", id)
	}
	if err != nil {
		return "", err
	}
	owner := m.UserID
	if owner == "" {
		owner = scope.DecodeTags(m.Tags).UserID
	}
	return id, s.access.AuthorizeMutation(actor, owner, id)
}

// Delete removes a memory owned by the caller
func (s *Service) Delete(ctx context.Context, in DeleteInput) Envelope {
	var id string
	return s.execute(ctx, call{
		tool: ToolDeleteMemory,
		user: in.UserID,
		validate: func() error {
			if strings.TrimSpace(in.MemoryID) == "" {
				return mcperrors.NewInvalidArgumentError("memory_id", mcperrors.ReasonMissing, nil)
			}
			return nil
		},
		authorize: func(ctx context.Context) (err error) {
			id, err = s.authorizeMutation(ctx, in.UserID, in.MemoryID)
			return err
		},
		delegate: func(ctx context.Context) (interface{}, error) {
			err := s.store.Delete(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				return nil, mcperrors.NewNotFoundError("memory", id)
			}
			if err != nil {
				return nil, err
			}
			return DeleteResult{ID: id, Deleted: true}, nil
		},
	})
}

// Stats aggregates every memory the caller owns
func (s *Service) Stats(ctx context.Context, in StatsInput) Envelope {
	var g access.Grant
	return s.execute(ctx, call{
		tool: ToolMemoryStatistics,
		user: in.UserID,
		authorize: func(context.Context) (err error) {
			g, err = s.access.AuthorizeOwner(in.UserID)
			return err
		},
		delegate: func(ctx context.Context) (interface{}, error) {
			ms, err := s.list(ctx, g, storage.ListQuery{Limit: s.config.AggregateLimit, SortBy: storage.SortByCreatedAt})
			if err != nil {
				return nil, err
			}
			return StatsResult{UserID: g.Actor, Stats: storage.ComputeStats(ms)}, nil
		},
	})
}

package memory

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"scoped-memory-mcp/internal/access"
	mcperrors "scoped-memory-mcp/internal/errors"
	"scoped-memory-mcp/internal/intelligence"
	"scoped-memory-mcp/internal/schedule"
	"scoped-memory-mcp/internal/scope"
	"scoped-memory-mcp/internal/storage"
)

const (
	ToolExtractFacts            = "extract_facts"
	ToolExtractFromConversation = "extract_from_conversation"
	ToolClusterMemories         = "cluster_memories"
	ToolGetRecentMemories       = "get_recent_memories"
	ToolScheduleMemory          = "schedule_memory"
)

// ScheduledTag marks memories written by schedule_memory
const ScheduledTag = "scheduled"

// requireUser reports a missing user_id the way the validator does
func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return mcperrors.NewScopeValidationError(string(scope.UserPreference), []mcperrors.ValidationDetail{
			{Field: string(scope.FieldUserID), Reason: mcperrors.ReasonMissing},
		})
	}
	return nil
}

func validateThreshold(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return mcperrors.NewInvalidArgumentError("confidence_threshold", "must be between 0 and 1", v)
	}
	return nil
}

func (s *Service) threshold(v float64) float64 {
	if v == 0 {
		return s.config.ConfidenceThreshold
	}
	return v
}

// ExtractResult is the data of extract_facts
type ExtractResult struct {
	Count  int                 `json:"count"`
	Source string              `json:"source"`
	Facts  []intelligence.Fact `json:"facts"`
}

// ExtractFacts extracts facts from text without storing them
func (s *Service) ExtractFacts(ctx context.Context, in ExtractFactsInput) Envelope {
	return s.execute(ctx, call{
		tool: ToolExtractFacts,
		user: in.UserID,
		validate: func() error {
			if err := requireUser(in.UserID); err != nil {
				return err
			}
			if strings.TrimSpace(in.Text) == "" {
				return mcperrors.NewInvalidArgumentError("text", mcperrors.ReasonMissing, nil)
			}
			return validateThreshold(in.ConfidenceThreshold)
		},
		delegate: func(ctx context.Context) (interface{}, error) {
			out, err := s.extractor.Extract(ctx, in.Text, s.threshold(in.ConfidenceThreshold))
			if err != nil {
				return nil, mcperrors.NewStoreUnavailableError("extract", err)
			}
			return ExtractResult{Count: len(out.Facts), Source: out.Source, Facts: out.Facts}, nil
		},
	})
}

// ConversationResult is the data of extract_from_conversation
type ConversationResult struct {
	ExtractedCount int          `json:"extracted_count"`
	Source         string       `json:"source"`
	Memories       []MemoryView `json:"memories"`
}

// ExtractFromConversation extracts facts from a conversation and remembers
// each one in the requested scope.
func (s *Service) ExtractFromConversation(ctx context.Context, in ExtractConversationInput) Envelope {
	var template scope.Request
	return s.execute(ctx, call{
		tool: ToolExtractFromConversation,
		user: in.UserID,
		validate: func() (err error) {
			if err := validateThreshold(in.ConfidenceThreshold); err != nil {
				return err
			}
			raw := RememberInput{
				Scope:      in.Scope,
				Identity:   in.Identity,
				Text:       in.Conversation,
				Visibility: in.Visibility,
				Tags:       in.Tags,
			}.raw()
			template, err = scope.Validate(raw)
			return err
		},
		delegate: func(ctx context.Context) (interface{}, error) {
			out, err := s.extractor.ExtractConversation(ctx, in.Conversation, s.threshold(in.ConfidenceThreshold))
			if err != nil {
				return nil, mcperrors.NewStoreUnavailableError("extract", err)
			}

			views := make([]MemoryView, 0, len(out.Facts))
			for _, f := range out.Facts {
				text := strings.TrimSpace(f.Fact)
				if text == "" {
					continue
				}
				req := template
				req.Text = text
				req.MemoryType = f.Category
				req.Importance = importanceOf(f.Confidence)
				extra := map[string]string{
					"source":     "conversation",
					"extraction": out.Source,
					"confidence": strconv.FormatFloat(f.Confidence, 'f', 2, 64),
				}
				m, err := s.write(ctx, req, extra)
				if err != nil {
					return nil, partialWriteError(err, views)
				}
				views = append(views, viewOf(m))
			}
			return ConversationResult{ExtractedCount: len(views), Source: out.Source, Memories: views}, nil
		},
	})
}

// importanceOf maps an extraction confidence in [0, 1] onto importance
func importanceOf(confidence float64) float64 {
	if math.IsNaN(confidence) || confidence <= 0 {
		return 0
	}
	return math.Min(scope.MaxImportance, math.Round(confidence*10))
}

// partialWriteError reports which memories were stored before a write failed
func partialWriteError(err error, stored []MemoryView) error {
	if len(stored) == 0 {
		return err
	}
	ids := make([]string, len(stored))
	for i, v := range stored {
		ids[i] = v.ID
	}
	return mcperrors.From(err, ToolExtractFromConversation).WithDetail("stored_ids", ids)
}

// ClusterResult is the data of cluster_memories
type ClusterResult struct {
	ClusterCount int                    `json:"cluster_count"`
	Clusters     []intelligence.Cluster `json:"clusters"`
}

// ClusterMemories groups every memory the caller owns into topics
func (s *Service) ClusterMemories(ctx context.Context, in ClusterInput) Envelope {
	var g access.Grant
	return s.execute(ctx, call{
		tool: ToolClusterMemories,
		user: in.UserID,
		validate: func() error {
			if in.MaxClusters < 0 {
				return mcperrors.NewInvalidArgumentError("max_clusters", "must be positive", in.MaxClusters)
			}
			return nil
		},
		authorize: func(context.Context) (err error) {
			g, err = s.access.AuthorizeOwner(in.UserID)
			return err
		},
		delegate: func(ctx context.Context) (interface{}, error) {
			ms, err := s.list(ctx, g, storage.ListQuery{Limit: s.config.AggregateLimit, SortBy: storage.SortByCreatedAt})
			if err != nil {
				return nil, err
			}
			n := in.MaxClusters
			if n == 0 {
				n = s.config.MaxClusters
			}
			clusters := s.clusterer.Cluster(ms, n)
			return ClusterResult{ClusterCount: len(clusters), Clusters: clusters}, nil
		},
	})
}

var timeWindows = map[string]struct {
	name string
	span time.Duration
}{
	"lasthour":  {"last_hour", time.Hour},
	"lastday":   {"last_day", 24 * time.Hour},
	"lastweek":  {"last_week", 7 * 24 * time.Hour},
	"lastmonth": {"last_month", 30 * 24 * time.Hour},
	"lastyear":  {"last_year", 365 * 24 * time.Hour},
}

// parseTimeWindow accepts last_day, LASTDAY and "last day" alike
func parseTimeWindow(v string) (string, time.Duration, error) {
	key := strings.NewReplacer("_", "", " ", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(v)))
	if key == "" {
		key = "lastday"
	}
	w, ok := timeWindows[key]
	if !ok {
		return "", 0, mcperrors.NewInvalidArgumentError("time_window",
			"must be one of last_hour, last_day, last_week, last_month, last_year", v)
	}
	return w.name, w.span, nil
}

// RecentResult is the data of get_recent_memories
type RecentResult struct {
	TimeWindow string       `json:"time_window"`
	Since      time.Time    `json:"since"`
	Count      int          `json:"count"`
	Memories   []MemoryView `json:"memories"`
}

// RecentMemories lists memories created inside a time window. Without a scope
// it covers everything the caller owns, optionally narrowed to one project.
func (s *Service) RecentMemories(ctx context.Context, in RecentInput) Envelope {
	var (
		window string
		span   time.Duration
		q      scope.Query
		g      access.Grant
	)
	ownerWide := strings.TrimSpace(in.Scope) == "" && !in.IncludeRelated && !in.IncludeCrossScope
	return s.execute(ctx, call{
		tool: ToolGetRecentMemories,
		user: in.UserID,
		validate: func() (err error) {
			if window, span, err = parseTimeWindow(in.TimeWindow); err != nil {
				return err
			}
			if ownerWide {
				t, ok := scope.ParseMemoryType(in.MemoryType)
				if !ok {
					return mcperrors.NewInvalidArgumentError("memory_type", mcperrors.ReasonInvalid, in.MemoryType)
				}
				q.MemoryType = t
				if q.MinImportance, ok = scope.ParseMinImportance(in.MinImportance); !ok {
					return mcperrors.NewScopeValidationError("unscoped", []mcperrors.ValidationDetail{
						{Field: string(scope.FieldImportance), Reason: mcperrors.ReasonInvalid, Value: q.MinImportance},
					})
				}
				return nil
			}
			q, err = scope.ValidateQuery(in.raw())
			return err
		},
		authorize: func(context.Context) (err error) {
			if !ownerWide {
				g, err = s.access.AuthorizeRecall(q)
				return err
			}
			if g, err = s.access.AuthorizeOwner(in.UserID); err != nil {
				return err
			}
			var narrow []string
			if project := scope.NormalizeID(in.Identity.scoped().ProjectID); project != "" {
				narrow = append(narrow, scope.ProjectTag(project))
			}
			for _, t := range scope.NormalizeTags(in.Tags) {
				narrow = append(narrow, scope.PayloadTag(t))
			}
			g.Filter = g.Filter.With(narrow...)
			return nil
		},
		delegate: func(ctx context.Context) (interface{}, error) {
			since := s.now().UTC().Add(-span)
			ms, err := s.list(ctx, g, storage.ListQuery{
				Type:          q.MemoryType,
				MinImportance: q.MinImportance,
				Since:         since,
				Limit:         s.limit(in.Limit, s.config.DefaultListLimit),
				SortBy:        storage.SortByCreatedAt,
				Descending:    true,
			})
			if err != nil {
				return nil, err
			}
			return RecentResult{TimeWindow: window, Since: since, Count: len(ms), Memories: viewsOf(ms)}, nil
		},
	})
}

// ScheduledMemory is the data of schedule_memory
type ScheduledMemory struct {
	Memory   MemoryView    `json:"memory"`
	Schedule schedule.Plan `json:"schedule"`
}

// ScheduleMemory remembers a memory carrying a schedule. Scheduled memories
// default to the event type and carry the scheduled tag.
func (s *Service) ScheduleMemory(ctx context.Context, in ScheduleInput) Envelope {
	var (
		req  scope.Request
		plan schedule.Plan
	)
	return s.execute(ctx, call{
		tool: ToolScheduleMemory,
		user: in.UserID,
		validate: func() (err error) {
			at := in.ScheduledFor
			if strings.TrimSpace(at) == "" {
				at = in.ScheduledForISO
			}
			if _, err := schedule.ParseTime(at); err != nil {
				return mcperrors.NewInvalidArgumentError("scheduled_for", err.Error(), at)
			}
			if plan, err = schedule.NewPlan(at, in.Recurrence, s.now()); err != nil {
				return mcperrors.NewInvalidArgumentError("recurrence", err.Error(), in.Recurrence)
			}

			raw := in.RememberInput.raw()
			if strings.TrimSpace(raw.MemoryType) == "" {
				raw.MemoryType = string(scope.TypeEvent)
			}
			raw.Tags = append(append([]string(nil), raw.Tags...), ScheduledTag)
			req, err = scope.Validate(raw)
			return err
		},
		delegate: func(ctx context.Context) (interface{}, error) {
			m, err := s.write(ctx, req, plan.Metadata())
			if err != nil {
				return nil, err
			}
			return ScheduledMemory{Memory: viewOf(m), Schedule: plan}, nil
		},
	})
}

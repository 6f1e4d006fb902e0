// Package memory runs every tool call through the scoped pipeline:
// validate, authorize, delegate to the store, and shape the envelope.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"scoped-memory-mcp/internal/access"
	"scoped-memory-mcp/internal/embeddings"
	mcperrors "scoped-memory-mcp/internal/errors"
	"scoped-memory-mcp/internal/intelligence"
	"scoped-memory-mcp/internal/logging"
	"scoped-memory-mcp/internal/session"
	"scoped-memory-mcp/internal/storage"
	"scoped-memory-mcp/internal/telemetry"
)

// Config holds service limits
type Config struct {
	DefaultRecallLimit  int
	DefaultListLimit    int
	SessionListLimit    int
	MaxLimit            int
	AggregateLimit      int
	RecentOperations    int
	OperationTimeout    time.Duration
	ConfidenceThreshold float64
	MaxClusters         int
}

// DefaultConfig returns the default service limits
func DefaultConfig() *Config {
	return &Config{
		DefaultRecallLimit:  5,
		DefaultListLimit:    50,
		SessionListLimit:    100,
		MaxLimit:            1000,
		AggregateLimit:      10000,
		RecentOperations:    20,
		OperationTimeout:    30 * time.Second,
		ConfidenceThreshold: intelligence.DefaultConfidenceThreshold,
		MaxClusters:         intelligence.DefaultMaxClusters,
	}
}

// Dependencies are the collaborators of a Service. Store and Access are
// required; the rest degrade gracefully when nil.
type Dependencies struct {
	Store      storage.MemoryStore
	Access     *access.Controller
	Embedder   embeddings.Embedder
	Sessions   session.Repository
	Extractor  *intelligence.FactExtractor
	Clusterer  *intelligence.Clusterer
	Summarizer *intelligence.Summarizer
	Recorder   *telemetry.Recorder
	Tracer     *telemetry.Tracer
	Logger     logging.Logger
	Checks     []HealthCheck
}

// Service implements every memory tool
type Service struct {
	store      storage.MemoryStore
	access     *access.Controller
	embedder   embeddings.Embedder
	sessions   session.Repository
	extractor  *intelligence.FactExtractor
	clusterer  *intelligence.Clusterer
	summarizer *intelligence.Summarizer
	recorder   *telemetry.Recorder
	tracer     *telemetry.Tracer
	logger     logging.Logger
	checks     []HealthCheck
	config     *Config

	now   func() time.Time
	newID func() string
}

// NewService wires a service
func NewService(deps Dependencies, cfg *Config) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultConfig().OperationTimeout
	}
	if deps.Access == nil {
		deps.Access = access.NewController(access.Options{})
	}
	if deps.Extractor == nil {
		deps.Extractor = intelligence.NewFactExtractor(nil)
	}
	if deps.Clusterer == nil {
		deps.Clusterer = intelligence.NewClusterer()
	}
	if deps.Summarizer == nil {
		deps.Summarizer = intelligence.NewSummarizer(nil)
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.NewTracer(nil)
	}
	if deps.Logger == nil {
		deps.Logger = logging.WithComponent("memory_service")
	}
	return &Service{
		store:      deps.Store,
		access:     deps.Access,
		embedder:   deps.Embedder,
		sessions:   deps.Sessions,
		extractor:  deps.Extractor,
		clusterer:  deps.Clusterer,
		summarizer: deps.Summarizer,
		recorder:   deps.Recorder,
		tracer:     deps.Tracer,
		logger:     deps.Logger,
		checks:     deps.Checks,
		config:     cfg,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
}

// Envelope statuses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Envelope is the uniform reply of every tool
type Envelope struct {
	Status string                  `json:"status"`
	Data   interface{}             `json:"data"`
	Error  *mcperrors.ErrorDetails `json:"error"`
}

// OK reports whether the call succeeded
func (e Envelope) OK() bool { return e.Status == StatusOK }

// Stage is a step of the per-call pipeline
type Stage string

const (
	StageReceived   Stage = "RECEIVED"
	StageValidated  Stage = "VALIDATED"
	StageAuthorized Stage = "AUTHORIZED"
	StageDelegated  Stage = "DELEGATED"
	StageResponded  Stage = "RESPONDED"
)

// call describes one tool invocation. validate is pure; authorize may look up
// the owner of an existing record but never writes. A failure in either
// responds without delegating.
type call struct {
	tool      string
	user      string
	validate  func() error
	authorize func(ctx context.Context) error
	delegate  func(ctx context.Context) (interface{}, error)
}

type toolNameKey struct{}

// WithToolName makes the next call report under name instead of the
// operation's own tool name. Fixed-scope tools use it.
func WithToolName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, toolNameKey{}, name)
}

func toolName(ctx context.Context, def string) string {
	if name, ok := ctx.Value(toolNameKey{}).(string); ok && name != "" {
		return name
	}
	return def
}

func (s *Service) execute(ctx context.Context, c call) Envelope {
	c.tool = toolName(ctx, c.tool)
	ctx = logging.WithTraceID(ctx, logging.GetTraceID(ctx))
	tc := logging.StartTool(ctx, s.logger, c.tool, "user_id", c.user)
	ctx, span := s.tracer.StartTool(ctx, c.tool, tc.CorrelationID())

	reached := StageReceived
	data, err := func() (interface{}, error) {
		if c.validate != nil {
			validate := func(context.Context) error { return c.validate() }
			if err := s.stage(ctx, StageValidated, validate); err != nil {
				return nil, err
			}
		}
		reached = StageValidated

		octx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
		defer cancel()

		if c.authorize != nil {
			if err := s.stage(octx, StageAuthorized, c.authorize); err != nil {
				return nil, s.mapDelegateError(c.tool, err)
			}
		}
		reached = StageAuthorized

		dctx, dspan := s.tracer.StartStage(octx, string(StageDelegated))
		out, err := c.delegate(dctx)
		reached = StageDelegated
		if err != nil {
			err = s.mapDelegateError(c.tool, err)
			telemetry.End(dspan, string(mcperrors.Code(err)), err)
			return nil, err
		}
		telemetry.End(dspan, "", nil)
		return out, nil
	}()

	env := Envelope{Status: StatusOK, Data: data}
	code := ""
	if err != nil {
		se := mcperrors.From(err, c.tool).WithCorrelationID(tc.CorrelationID())
		code = string(se.ErrorInfo.Code)
		info := se.ErrorInfo
		env = Envelope{Status: StatusError, Error: &info}
		tc.Failure(code, info.Message, "stage", string(reached))
	} else {
		tc.Success("stage", string(StageResponded))
	}
	telemetry.End(span, code, err)

	if s.recorder != nil {
		s.recorder.Record(telemetry.Operation{
			Tool:          c.tool,
			CorrelationID: tc.CorrelationID(),
			UserID:        c.user,
			Status:        env.Status,
			ErrorCode:     code,
			DurationMs:    float64(tc.Elapsed().Microseconds()) / 1000,
		})
	}
	return env
}

func (s *Service) stage(ctx context.Context, st Stage, fn func(context.Context) error) error {
	ctx, span := s.tracer.StartStage(ctx, string(st), attribute.String("mcp.stage", string(st)))
	err := fn(ctx)
	telemetry.End(span, string(mcperrors.Code(err)), err)
	return err
}

// mapDelegateError turns backend failures into taxonomy errors. Semantic
// errors pass through; anything else is a store failure surfaced as-is.
func (s *Service) mapDelegateError(tool string, err error) error {
	var se *mcperrors.StandardError
	switch {
	case errors.As(err, &se):
		return se
	case errors.Is(err, storage.ErrNotFound):
		return mcperrors.NewNotFoundError("memory", "")
	case errors.Is(err, session.ErrNotFound):
		return mcperrors.NewNotFoundError("session", "")
	default:
		return mcperrors.NewStoreUnavailableError(tool, err)
	}
}

// limit clamps a requested limit to (0, MaxLimit], using def when unset
func (s *Service) limit(requested, def int) int {
	if requested <= 0 {
		requested = def
	}
	if s.config.MaxLimit > 0 && requested > s.config.MaxLimit {
		requested = s.config.MaxLimit
	}
	return requested
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil || text == "" {
		return nil, nil
	}
	return s.embedder.Embed(ctx, text)
}

// Reject answers a call whose arguments could not be decoded. It is logged
// and recorded like any other failed call.
func (s *Service) Reject(ctx context.Context, tool, user string, err error) Envelope {
	return s.execute(ctx, call{
		tool:     tool,
		user:     user,
		validate: func() error { return err },
	})
}

// Package di wires the server's dependencies from configuration
package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scoped-memory-mcp/internal/access"
	"scoped-memory-mcp/internal/circuitbreaker"
	"scoped-memory-mcp/internal/config"
	"scoped-memory-mcp/internal/embeddings"
	mcperrors "scoped-memory-mcp/internal/errors"
	"scoped-memory-mcp/internal/intelligence"
	"scoped-memory-mcp/internal/logging"
	"scoped-memory-mcp/internal/memory"
	"scoped-memory-mcp/internal/ollama"
	"scoped-memory-mcp/internal/retry"
	"scoped-memory-mcp/internal/session"
	"scoped-memory-mcp/internal/storage"
	"scoped-memory-mcp/internal/telemetry"
)

// Container holds all application dependencies
type Container struct {
	Config   *config.Config
	Logger   logging.Logger
	Store    storage.MemoryStore
	Embedder embeddings.Embedder
	Sessions *session.SQLRepository
	LLM      *ollama.Client
	Recorder *telemetry.Recorder
	Service  *memory.Service

	checks  []memory.HealthCheck
	closers []func() error
}

// NewContainer creates every dependency in order. On failure whatever was
// already opened is closed again.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c := &Container{
		Config: cfg,
		Logger: logging.WithComponent("container"),
	}
	if err := c.initialize(ctx); err != nil {
		_ = c.Shutdown(context.Background())
		return nil, err
	}

	c.Logger.Info("Container initialized",
		"store", cfg.Storage.Provider,
		"embeddings", cfg.Embeddings.Provider,
		"sessions", cfg.Sessions.Driver,
		"llm", cfg.Ollama.Enabled,
		"cache", cfg.Redis.Enabled)
	return c, nil
}

func (c *Container) initialize(ctx context.Context) error {
	if c.Config.Ollama.Enabled {
		c.initializeLLM()
	}
	if err := c.initializeEmbedder(); err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	if err := c.initializeStore(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := c.initializeSessions(ctx); err != nil {
		return fmt.Errorf("failed to initialize sessions: %w", err)
	}
	if c.Config.Telemetry.Enabled {
		c.Recorder = telemetry.NewRecorder(c.Config.Telemetry.RecentOperations)
	}
	c.initializeService()
	return nil
}

func (c *Container) initializeLLM() {
	oc := c.Config.Ollama
	c.LLM = ollama.NewClient(ollama.Config{
		BaseURL:        oc.BaseURL,
		ChatModel:      oc.ChatModel,
		EmbeddingModel: oc.EmbeddingModel,
		Dimension:      c.Config.Embeddings.Dimension,
		Timeout:        time.Duration(oc.TimeoutSeconds) * time.Second,
	})
	c.checks = append(c.checks, memory.HealthCheck{Name: "llm", Check: c.LLM.Ping})
}

func (c *Container) initializeEmbedder() error {
	ec := c.Config.Embeddings
	var base embeddings.Embedder
	switch ec.Provider {
	case "", "hash":
		base = embeddings.NewHashEmbedder(ec.Dimension)
	case "ollama":
		if c.LLM == nil {
			return errors.New("ollama embeddings require ollama.enabled")
		}
		base = c.LLM
	default:
		return fmt.Errorf("unknown embeddings provider %q", ec.Provider)
	}

	if ec.CacheSize <= 0 {
		c.Embedder = base
		return nil
	}
	cached, err := embeddings.NewCachedEmbedder(base, embeddings.CacheConfig{
		MaxEntries: ec.CacheSize,
		TTL:        time.Duration(ec.CacheTTLMinutes) * time.Minute,
	})
	if err != nil {
		return err
	}
	c.closers = append(c.closers, func() error { cached.Close(); return nil })
	c.Embedder = cached
	return nil
}

func (c *Container) initializeStore(ctx context.Context) error {
	var base storage.MemoryStore
	switch c.Config.Storage.Provider {
	case "memory":
		base = storage.NewInMemoryStore()
	case "chromem":
		base = storage.NewChromemStore()
	case "", "qdrant":
		qs := storage.NewQdrantStore(&c.Config.Qdrant, c.Embedder.Dimension())
		if err := qs.Initialize(ctx); err != nil {
			return err
		}
		base = qs
	default:
		return fmt.Errorf("unknown storage provider %q", c.Config.Storage.Provider)
	}

	rc := c.Config.Resilience
	store := storage.MemoryStore(storage.NewResilientStore(base,
		retry.Config{
			MaxAttempts:     rc.RetryAttempts,
			InitialDelay:    time.Duration(rc.RetryInitialDelayMs) * time.Millisecond,
			MaxDelay:        time.Duration(rc.RetryMaxDelayMs) * time.Millisecond,
			Multiplier:      retry.DefaultConfig().Multiplier,
			RandomizeFactor: retry.DefaultConfig().RandomizeFactor,
			RetryIf:         mcperrors.IsRetryable,
		},
		circuitbreaker.Config{
			Name:                  "memory-store",
			FailureThreshold:      rc.BreakerFailures,
			SuccessThreshold:      rc.BreakerHalfOpenSuccess,
			Timeout:               time.Duration(rc.BreakerTimeoutSeconds) * time.Second,
			MaxConcurrentRequests: circuitbreaker.DefaultConfig().MaxConcurrentRequests,
		},
	))

	if rdc := c.Config.Redis; rdc.Enabled {
		client, err := storage.NewRedisClient(rdc.URL)
		if err != nil {
			_ = store.Close()
			return err
		}
		cached := storage.NewCachedStore(store, client, rdc.KeyPrefix, time.Duration(rdc.TTLSeconds)*time.Second)
		c.checks = append(c.checks, memory.HealthCheck{Name: "cache", Check: cached.CacheHealth})
		store = cached
	}

	c.Store = store
	c.closers = append(c.closers, store.Close)
	return nil
}

func (c *Container) initializeSessions(ctx context.Context) error {
	repo, err := session.Open(ctx, c.Config.Sessions)
	if err != nil {
		return err
	}
	c.Sessions = repo
	c.checks = append(c.checks, memory.HealthCheck{Name: "sessions", Check: repo.Ping})
	c.closers = append(c.closers, repo.Close)
	return nil
}

func (c *Container) initializeService() {
	// A nil *ollama.Client must not reach the Generator interface
	var llm intelligence.Generator
	if c.LLM != nil {
		llm = c.LLM
	}

	sc := c.Config.Storage
	svcCfg := memory.DefaultConfig()
	svcCfg.DefaultRecallLimit = sc.DefaultRecallLimit
	svcCfg.DefaultListLimit = sc.DefaultListLimit
	svcCfg.SessionListLimit = sc.SessionListLimit
	svcCfg.MaxLimit = sc.MaxLimit
	svcCfg.OperationTimeout = c.Config.OperationTimeout()

	c.Service = memory.NewService(memory.Dependencies{
		Store:      c.Store,
		Access:     access.NewController(access.Options{CollapseNotFound: c.Config.Access.CollapseNotFound}),
		Embedder:   c.Embedder,
		Sessions:   c.Sessions,
		Extractor:  intelligence.NewFactExtractor(llm),
		Clusterer:  intelligence.NewClusterer(),
		Summarizer: intelligence.NewSummarizer(llm),
		Recorder:   c.Recorder,
		Tracer:     telemetry.NewTracer(nil),
		Logger:     logging.WithComponent("memory_service"),
		Checks:     c.checks,
	}, svcCfg)
}

// HealthCheck reports the combined health of the store and its supporting services
func (c *Container) HealthCheck(ctx context.Context) error {
	report := c.Service.Health(ctx)
	if report.Status == "ok" {
		return nil
	}
	var errs []error
	for name, res := range report.Checks {
		if res.Error != "" {
			errs = append(errs, fmt.Errorf("%s: %s", name, res.Error))
		}
	}
	return errors.Join(errs...)
}

// Shutdown closes resources in reverse order of creation
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

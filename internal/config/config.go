package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Qdrant     QdrantConfig     `json:"qdrant" yaml:"qdrant"`
	Redis      RedisConfig      `json:"redis" yaml:"redis"`
	Ollama     OllamaConfig     `json:"ollama" yaml:"ollama"`
	Embeddings EmbeddingsConfig `json:"embeddings" yaml:"embeddings"`
	Sessions   SessionsConfig   `json:"sessions" yaml:"sessions"`
	Access     AccessConfig     `json:"access" yaml:"access"`
	Resilience ResilienceConfig `json:"resilience" yaml:"resilience"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Auth       AuthConfig       `json:"auth" yaml:"auth"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name         string `json:"name" yaml:"name"`
	Version      string `json:"version" yaml:"version"`
	Mode         string `json:"mode" yaml:"mode"` // stdio or http
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeout int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
}

// Addr returns the HTTP listen address
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// StorageConfig selects the memory store and its default page sizes
type StorageConfig struct {
	Provider           string `json:"provider" yaml:"provider"` // qdrant, chromem or memory
	DefaultRecallLimit int    `json:"default_recall_limit" yaml:"default_recall_limit"`
	DefaultListLimit   int    `json:"default_list_limit" yaml:"default_list_limit"`
	SessionListLimit   int    `json:"session_list_limit" yaml:"session_list_limit"`
	MaxLimit           int    `json:"max_limit" yaml:"max_limit"`
	OperationTimeout   int    `json:"operation_timeout_seconds" yaml:"operation_timeout_seconds"`
}

// QdrantConfig represents Qdrant vector database configuration
type QdrantConfig struct {
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	APIKey     string `json:"-" yaml:"api_key"`
	UseTLS     bool   `json:"use_tls" yaml:"use_tls"`
	Collection string `json:"collection" yaml:"collection"`
}

// RedisConfig configures the recall cache
type RedisConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	URL        string `json:"-" yaml:"url"`
	KeyPrefix  string `json:"key_prefix" yaml:"key_prefix"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds"`
}

// OllamaConfig configures the local LLM used for embeddings and generation
type OllamaConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	BaseURL        string `json:"base_url" yaml:"base_url"`
	ChatModel      string `json:"chat_model" yaml:"chat_model"`
	EmbeddingModel string `json:"embedding_model" yaml:"embedding_model"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// EmbeddingsConfig selects the embedder
type EmbeddingsConfig struct {
	Provider        string `json:"provider" yaml:"provider"` // hash or ollama
	Dimension       int    `json:"dimension" yaml:"dimension"`
	CacheSize       int64  `json:"cache_size" yaml:"cache_size"`
	CacheTTLMinutes int    `json:"cache_ttl_minutes" yaml:"cache_ttl_minutes"`
}

// SessionsConfig configures session persistence
type SessionsConfig struct {
	Driver string `json:"driver" yaml:"driver"` // sqlite3 or postgres
	DSN    string `json:"-" yaml:"dsn"`

	MaxOpenConns           int `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `json:"conn_max_lifetime_minutes" yaml:"conn_max_lifetime_minutes"`
}

// AccessConfig tunes how denials are reported
type AccessConfig struct {
	CollapseNotFound bool `json:"collapse_not_found" yaml:"collapse_not_found"`
}

// ResilienceConfig configures retries and the store circuit breaker
type ResilienceConfig struct {
	RetryAttempts          int `json:"retry_attempts" yaml:"retry_attempts"`
	RetryInitialDelayMs    int `json:"retry_initial_delay_ms" yaml:"retry_initial_delay_ms"`
	RetryMaxDelayMs        int `json:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`
	BreakerFailures        int `json:"breaker_failures" yaml:"breaker_failures"`
	BreakerTimeoutSeconds  int `json:"breaker_timeout_seconds" yaml:"breaker_timeout_seconds"`
	BreakerHalfOpenSuccess int `json:"breaker_half_open_successes" yaml:"breaker_half_open_successes"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // json or text
}

// AuthConfig protects the HTTP transport
type AuthConfig struct {
	// APIKeyHash is a bcrypt hash; empty disables authentication
	APIKeyHash string `json:"-" yaml:"api_key_hash"`
}

// TelemetryConfig sizes the in-process operation log and the optional OTLP trace export
type TelemetryConfig struct {
	Enabled          bool `json:"enabled" yaml:"enabled"`
	RecentOperations int  `json:"recent_operations" yaml:"recent_operations"`

	// OTLPEndpoint is host:port of an OTLP/HTTP collector; empty keeps spans in-process
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPInsecure bool   `json:"otlp_insecure" yaml:"otlp_insecure"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:         "scoped-memory-mcp",
			Version:      "1.0.0",
			Mode:         "stdio",
			Host:         "localhost",
			Port:         9080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Storage: StorageConfig{
			Provider:           "qdrant",
			DefaultRecallLimit: 5,
			DefaultListLimit:   50,
			SessionListLimit:   100,
			MaxLimit:           1000,
			OperationTimeout:   30,
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "scoped_memories",
		},
		Redis: RedisConfig{
			URL:        "redis://localhost:6379",
			KeyPrefix:  "mcp-memory",
			TTLSeconds: 300,
		},
		Ollama: OllamaConfig{
			BaseURL:        "http://localhost:11434",
			ChatModel:      "qwen2.5:7b-instruct",
			EmbeddingModel: "nomic-embed-text",
			TimeoutSeconds: 60,
		},
		Embeddings: EmbeddingsConfig{
			Provider:        "hash",
			Dimension:       384,
			CacheSize:       10000,
			CacheTTLMinutes: 60,
		},
		Sessions: SessionsConfig{
			Driver:                 "sqlite3",
			DSN:                    "file:sessions.db?_busy_timeout=5000",
			MaxOpenConns:           10,
			MaxIdleConns:           2,
			ConnMaxLifetimeMinutes: 120,
		},
		Resilience: ResilienceConfig{
			RetryAttempts:          3,
			RetryInitialDelayMs:    200,
			RetryMaxDelayMs:        5000,
			BreakerFailures:        5,
			BreakerTimeoutSeconds:  30,
			BreakerHalfOpenSuccess: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:          true,
			RecentOperations: 200,
		},
	}
}

// LoadConfig loads configuration from .env, an optional YAML file and environment
// variables, in that order of precedence (environment wins).
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := DefaultConfig()

	if path := os.Getenv("MCP_MEMORY_CONFIG_FILE"); path != "" {
		if err := config.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := loadFromEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadFile overlays a YAML file onto c. Keys absent from the file keep their value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(config *Config) error {
	loadServerConfig(config)
	loadStorageConfig(config)
	if err := loadQdrantConfig(config); err != nil {
		return err
	}
	loadRedisConfig(config)
	loadOllamaConfig(config)
	loadSessionConfig(config)
	loadResilienceConfig(config)
	loadLoggingConfig(config)
	return nil
}

func loadServerConfig(config *Config) {
	envString(&config.Server.Mode, "MCP_MEMORY_MODE")
	envString(&config.Server.Host, "MCP_MEMORY_HOST")
	envInt(&config.Server.Port, "MCP_MEMORY_PORT")
	envInt(&config.Server.ReadTimeout, "MCP_MEMORY_READ_TIMEOUT_SECONDS")
	envInt(&config.Server.WriteTimeout, "MCP_MEMORY_WRITE_TIMEOUT_SECONDS")
	envString(&config.Auth.APIKeyHash, "MCP_MEMORY_API_KEY_HASH")
}

func loadStorageConfig(config *Config) {
	envString(&config.Storage.Provider, "MCP_MEMORY_STORAGE_PROVIDER")
	envInt(&config.Storage.DefaultRecallLimit, "MCP_MEMORY_DEFAULT_RECALL_LIMIT")
	envInt(&config.Storage.DefaultListLimit, "MCP_MEMORY_DEFAULT_LIST_LIMIT")
	envInt(&config.Storage.OperationTimeout, "MCP_MEMORY_OPERATION_TIMEOUT_SECONDS")
	envBool(&config.Access.CollapseNotFound, "MCP_MEMORY_COLLAPSE_NOT_FOUND")
	envString(&config.Embeddings.Provider, "MCP_MEMORY_EMBEDDINGS_PROVIDER")
	envInt(&config.Embeddings.Dimension, "MCP_MEMORY_EMBEDDINGS_DIMENSION")
	envBool(&config.Telemetry.Enabled, "MCP_MEMORY_TELEMETRY_ENABLED")
	envString(&config.Telemetry.OTLPEndpoint, "MCP_MEMORY_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	envBool(&config.Telemetry.OTLPInsecure, "MCP_MEMORY_OTLP_INSECURE")
}

// loadQdrantConfig checks prefixed variables first, then the plain ones, then QDRANT_URL.
func loadQdrantConfig(config *Config) error {
	if raw := os.Getenv("QDRANT_URL"); raw != "" {
		host, port, tls, err := parseQdrantURL(raw)
		if err != nil {
			return err
		}
		config.Qdrant.Host, config.Qdrant.Port, config.Qdrant.UseTLS = host, port, tls
	}
	envString(&config.Qdrant.Host, "MCP_MEMORY_QDRANT_HOST", "QDRANT_HOST")
	envInt(&config.Qdrant.Port, "MCP_MEMORY_QDRANT_PORT", "QDRANT_PORT")
	envString(&config.Qdrant.APIKey, "MCP_MEMORY_QDRANT_API_KEY", "QDRANT_API_KEY")
	envBool(&config.Qdrant.UseTLS, "MCP_MEMORY_QDRANT_USE_TLS", "QDRANT_USE_TLS")
	envString(&config.Qdrant.Collection, "MCP_MEMORY_QDRANT_COLLECTION", "QDRANT_COLLECTION")
	return nil
}

// parseQdrantURL reads a Qdrant REST URL. The client speaks gRPC, so the
// default REST port maps onto the default gRPC port.
func parseQdrantURL(raw string) (string, int, bool, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", 0, false, fmt.Errorf("invalid QDRANT_URL %q", raw)
	}
	port := 6334
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid QDRANT_URL port %q", p)
		}
		if n != 6333 {
			port = n
		}
	}
	return u.Hostname(), port, u.Scheme == "https", nil
}

func loadRedisConfig(config *Config) {
	if os.Getenv("MCP_MEMORY_REDIS_URL") != "" || os.Getenv("REDIS_URL") != "" {
		config.Redis.Enabled = true
	}
	envString(&config.Redis.URL, "MCP_MEMORY_REDIS_URL", "REDIS_URL")
	envBool(&config.Redis.Enabled, "MCP_MEMORY_REDIS_ENABLED")
	envInt(&config.Redis.TTLSeconds, "MCP_MEMORY_REDIS_TTL_SECONDS")
}

func loadOllamaConfig(config *Config) {
	if os.Getenv("MCP_MEMORY_OLLAMA_BASE_URL") != "" || os.Getenv("OLLAMA_BASE_URL") != "" {
		config.Ollama.Enabled = true
	}
	envString(&config.Ollama.BaseURL, "MCP_MEMORY_OLLAMA_BASE_URL", "OLLAMA_BASE_URL")
	envString(&config.Ollama.ChatModel, "MCP_MEMORY_OLLAMA_MODEL", "OLLAMA_MODEL")
	envString(&config.Ollama.EmbeddingModel, "MCP_MEMORY_OLLAMA_EMBEDDING_MODEL", "OLLAMA_EMBEDDING_MODEL")
	envBool(&config.Ollama.Enabled, "MCP_MEMORY_OLLAMA_ENABLED")
	envInt(&config.Ollama.TimeoutSeconds, "MCP_MEMORY_OLLAMA_TIMEOUT_SECONDS")
}

func loadSessionConfig(config *Config) {
	envString(&config.Sessions.Driver, "MCP_MEMORY_SESSIONS_DRIVER")
	envString(&config.Sessions.DSN, "MCP_MEMORY_SESSIONS_DSN", "DATABASE_URL")
	envInt(&config.Sessions.MaxOpenConns, "MCP_MEMORY_SESSIONS_MAX_OPEN_CONNS")
}

func loadResilienceConfig(config *Config) {
	envInt(&config.Resilience.RetryAttempts, "MCP_MEMORY_RETRY_ATTEMPTS")
	envInt(&config.Resilience.BreakerFailures, "MCP_MEMORY_BREAKER_FAILURES")
	envInt(&config.Resilience.BreakerTimeoutSeconds, "MCP_MEMORY_BREAKER_TIMEOUT_SECONDS")
}

func loadLoggingConfig(config *Config) {
	envString(&config.Logging.Level, "MCP_MEMORY_LOG_LEVEL")
	envString(&config.Logging.Format, "MCP_MEMORY_LOG_FORMAT")
}

// envString sets dst from the first non-empty variable among keys
func envString(dst *string, keys ...string) {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			*dst = v
			return
		}
	}
}

func envInt(dst *int, keys ...string) {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
			return
		}
	}
}

func envBool(dst *bool, keys ...string) {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
			return
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Server.Mode {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid server mode: %q (want stdio or http)", c.Server.Mode)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Storage.Provider {
	case "qdrant":
		if c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant host cannot be empty")
		}
		if c.Qdrant.Port <= 0 {
			return fmt.Errorf("qdrant port must be greater than 0")
		}
		if c.Qdrant.Collection == "" {
			return fmt.Errorf("qdrant collection cannot be empty")
		}
	case "chromem", "memory":
	default:
		return fmt.Errorf("invalid storage provider: %q", c.Storage.Provider)
	}
	if c.Storage.DefaultRecallLimit <= 0 || c.Storage.DefaultListLimit <= 0 {
		return fmt.Errorf("default limits must be positive")
	}
	if c.Storage.MaxLimit < c.Storage.DefaultListLimit {
		return fmt.Errorf("max limit must be at least the default list limit")
	}

	switch c.Embeddings.Provider {
	case "hash":
	case "ollama":
		if !c.Ollama.Enabled {
			return fmt.Errorf("ollama embeddings require ollama to be enabled")
		}
	default:
		return fmt.Errorf("invalid embeddings provider: %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis url cannot be empty when redis is enabled")
	}

	switch c.Sessions.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("invalid sessions driver: %q", c.Sessions.Driver)
	}
	if c.Sessions.DSN == "" {
		return fmt.Errorf("sessions dsn cannot be empty")
	}

	if c.Resilience.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	if c.Resilience.BreakerFailures < 1 {
		return fmt.Errorf("breaker failures must be at least 1")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	return nil
}

// OperationTimeout bounds a single delegated store call
func (c *Config) OperationTimeout() time.Duration {
	return time.Duration(c.Storage.OperationTimeout) * time.Second
}

// Redacted returns a copy safe to expose: secrets are blanked, not omitted,
// so readers can tell a value is configured.
func (c *Config) Redacted() Config {
	out := *c
	out.Qdrant.APIKey = redact(out.Qdrant.APIKey)
	out.Redis.URL = redact(out.Redis.URL)
	out.Sessions.DSN = redact(out.Sessions.DSN)
	out.Auth.APIKeyHash = redact(out.Auth.APIKeyHash)
	return out
}

func redact(v string) string {
	if v == "" {
		return ""
	}
	return "***"
}

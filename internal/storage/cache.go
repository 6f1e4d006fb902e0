package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"scoped-memory-mcp/internal/logging"
)

// CacheClient is the subset of Redis the recall cache needs
type CacheClient interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

type redisClient struct {
	c *redis.Client
}

// NewRedisClient connects to the Redis instance at url
func NewRedisClient(url string) (CacheClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &redisClient{c: redis.NewClient(opts)}, nil
}

func (r *redisClient) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *redisClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r *redisClient) Incr(ctx context.Context, key string) (int64, error) {
	return r.c.Incr(ctx, key).Result()
}

func (r *redisClient) Ping(ctx context.Context) error { return r.c.Ping(ctx).Err() }
func (r *redisClient) Close() error                   { return r.c.Close() }

// CachedStore caches recall results in Redis. Every write bumps a per-user
// generation counter that is part of the key, so stale entries are never read
// and simply expire. Cache failures degrade to a direct store call.
type CachedStore struct {
	MemoryStore
	client CacheClient
	prefix string
	ttl    time.Duration
}

// NewCachedStore wraps store with a recall cache
func NewCachedStore(store MemoryStore, client CacheClient, prefix string, ttl time.Duration) *CachedStore {
	if prefix == "" {
		prefix = "mcp-memory"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{MemoryStore: store, client: client, prefix: prefix, ttl: ttl}
}

func (c *CachedStore) generationKey(user string) string {
	return c.prefix + ":gen:" + user
}

func (c *CachedStore) generation(ctx context.Context, user string) (string, error) {
	v, ok, err := c.client.Get(ctx, c.generationKey(user))
	if err != nil {
		return "", err
	}
	if !ok {
		return "0", nil
	}
	return v, nil
}

func (c *CachedStore) invalidate(ctx context.Context, user string) {
	if user == "" {
		return
	}
	if _, err := c.client.Incr(ctx, c.generationKey(user)); err != nil {
		logging.Warn("Failed to invalidate recall cache", "user_id", user, "error", err)
	}
}

type recallKey struct {
	Text          string  `json:"text"`
	Filter        string  `json:"filter"`
	Limit         int     `json:"limit"`
	MinImportance float64 `json:"min_importance"`
	Type          string  `json:"type"`
	Since         int64   `json:"since"`
}

func (c *CachedStore) recallKey(user, gen string, q RecallQuery) string {
	raw, _ := json.Marshal(recallKey{
		Text:          q.Text,
		Filter:        q.Filter.Key(),
		Limit:         q.Limit,
		MinImportance: q.MinImportance,
		Type:          string(q.Type),
		Since:         q.Since.Unix(),
	})
	sum := sha256.Sum256(raw)
	return c.prefix + ":recall:" + user + ":" + gen + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedStore) Recall(ctx context.Context, q RecallQuery) ([]ScoredMemory, error) {
	user := userOf(q.Filter)
	if user == "" || q.Text == "" {
		return c.MemoryStore.Recall(ctx, q)
	}

	gen, err := c.generation(ctx, user)
	if err != nil {
		logging.Warn("Recall cache unavailable", "error", err)
		return c.MemoryStore.Recall(ctx, q)
	}
	key := c.recallKey(user, gen, q)

	if raw, ok, err := c.client.Get(ctx, key); err == nil && ok {
		var hits []ScoredMemory
		if err := json.Unmarshal([]byte(raw), &hits); err == nil {
			logging.Debug("Recall cache hit", "user_id", user)
			return hits, nil
		}
	}

	hits, err := c.MemoryStore.Recall(ctx, q)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(hits); err == nil {
		if err := c.client.Set(ctx, key, string(raw), c.ttl); err != nil {
			logging.Warn("Failed to populate recall cache", "error", err)
		}
	}
	return hits, nil
}

func (c *CachedStore) Remember(ctx context.Context, m Memory) error {
	if err := c.MemoryStore.Remember(ctx, m); err != nil {
		return err
	}
	c.invalidate(ctx, m.UserID)
	return nil
}

func (c *CachedStore) Update(ctx context.Context, id string, p Patch) (*Memory, error) {
	m, err := c.MemoryStore.Update(ctx, id, p)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, m.UserID)
	return m, nil
}

func (c *CachedStore) Delete(ctx context.Context, id string) error {
	m, err := c.MemoryStore.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := c.MemoryStore.Delete(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, m.UserID)
	return nil
}

// CacheHealth pings Redis
func (c *CachedStore) CacheHealth(ctx context.Context) error {
	return c.client.Ping(ctx)
}

func (c *CachedStore) Close() error {
	cerr := c.client.Close()
	if err := c.MemoryStore.Close(); err != nil {
		return err
	}
	return cerr
}

// Generation exposes the current cache generation of a user
func (c *CachedStore) Generation(ctx context.Context, user string) (int64, error) {
	v, err := c.generation(ctx, user)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

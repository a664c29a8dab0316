package checker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	platformredis "vrcverify/internal/platform/redis"
	"vrcverify/internal/vrchat"
)

// ProfileCache memoizes profile lookups within the rate-limit window so
// duplicate requests for one account collapse into one upstream call.
type ProfileCache interface {
	Get(ctx context.Context, vrchatID string) (*vrchat.Profile, bool)
	Set(ctx context.Context, vrchatID string, profile *vrchat.Profile)
}

type cacheEntry struct {
	profile   vrchat.Profile
	expiresAt time.Time
}

// MemoryCache is a TTL cache with a hard size cap. Eviction on overflow is
// arbitrary; boundedness is the only requirement.
type MemoryCache struct {
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewMemoryCache builds a bounded TTL cache.
func NewMemoryCache(ttl time.Duration, maxSize int) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *MemoryCache) Get(_ context.Context, vrchatID string) (*vrchat.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[vrchatID]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, vrchatID)
		return nil, false
	}
	profile := entry.profile
	return &profile, true
}

func (c *MemoryCache) Set(_ context.Context, vrchatID string, profile *vrchat.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[vrchatID]; !exists && len(c.entries) >= c.maxSize {
		for key := range c.entries {
			delete(c.entries, key)
			break
		}
	}
	c.entries[vrchatID] = cacheEntry{profile: *profile, expiresAt: c.now().Add(c.ttl)}
}

const redisProfileKeyPrefix = "vrc:profile:"

// RedisCache shares the memoized profiles between checker instances.
// Lookups degrade to misses on any Redis problem.
type RedisCache struct {
	client *platformredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache builds a Redis-backed profile cache.
func NewRedisCache(client *platformredis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, vrchatID string) (*vrchat.Profile, bool) {
	raw, err := c.client.Get(ctx, redisProfileKeyPrefix+vrchatID).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("profile cache read failed", "vrc_user_id", vrchatID, "error", err)
		return nil, false
	}
	var profile vrchat.Profile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		c.logger.Warn("profile cache entry corrupt", "vrc_user_id", vrchatID, "error", err)
		return nil, false
	}
	return &profile, true
}

func (c *RedisCache) Set(ctx context.Context, vrchatID string, profile *vrchat.Profile) {
	raw, err := json.Marshal(profile)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisProfileKeyPrefix+vrchatID, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("profile cache write failed", "vrc_user_id", vrchatID, "error", err)
	}
}

// Package cache provides the Redis caching layer for rule definitions.
// Evaluation is read-heavy on rules while rules change rarely, so rule
// lookups go through a cache in front of PostgreSQL. Decisions are never
// cached: they are written once and read for audit.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aevum/verdict/internal/config"
	"github.com/aevum/verdict/internal/observability"
	"github.com/aevum/verdict/internal/ruleengine"
)

// KeyPrefix is the namespace used for all rule keys in Redis.
// Pinned versions live at "rule:<id>:v<version>", the moving latest pointer
// at "rule:<id>:latest".
const KeyPrefix = "rule"

// Service defines the interface for rule cache operations. A cache miss is
// (nil, nil), never an error: the caller falls through to the store.
type Service interface {
	// GetRule fetches a cached rule. version 0 addresses the latest pointer.
	GetRule(ctx context.Context, id string, version int) (*ruleengine.Rule, error)

	// SetRule caches the rule under its pinned version key and, when
	// asLatest is true, also under the latest pointer.
	SetRule(ctx context.Context, rule *ruleengine.Rule, asLatest bool) error

	// Invalidate drops the pinned key for the version and the latest pointer.
	Invalidate(ctx context.Context, id string, version int) error

	// HealthCheck pings the redis server to ensure connectivity.
	HealthCheck(ctx context.Context) error

	// Close terminates the connection.
	Close() error
}

// RedisRuleCache implements Service using the go-redis library.
type RedisRuleCache struct {
	client    *redis.Client
	ttl       time.Duration
	latestTTL time.Duration
}

// NewRedisRuleCache wraps an already-connected Redis client.
func NewRedisRuleCache(client *redis.Client, cfg *config.RedisConfig) *RedisRuleCache {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	if cfg == nil {
		panic("cache: redis config cannot be nil")
	}
	return &RedisRuleCache{
		client:    client,
		ttl:       cfg.RuleTTL,
		latestTTL: cfg.RuleLatestTTL,
	}
}

// GetRule fetches a cached rule, (nil, nil) on miss.
func (c *RedisRuleCache) GetRule(ctx context.Context, id string, version int) (*ruleengine.Rule, error) {
	payload, err := c.client.Get(ctx, ruleKey(id, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.RuleCacheMisses.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %q from cache: %w", id, err)
	}

	var rule ruleengine.Rule
	if err := json.Unmarshal(payload, &rule); err != nil {
		// A corrupt entry behaves like a miss; the store is authoritative.
		observability.RuleCacheMisses.Inc()
		return nil, nil
	}
	observability.RuleCacheHits.Inc()
	return &rule, nil
}

// SetRule caches the rule JSON-encoded.
func (c *RedisRuleCache) SetRule(ctx context.Context, rule *ruleengine.Rule, asLatest bool) error {
	payload, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to marshal rule %q: %w", rule.ID, err)
	}

	if err := c.client.Set(ctx, ruleKey(rule.ID, rule.Version), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache rule %q: %w", rule.ID, err)
	}
	if asLatest {
		if err := c.client.Set(ctx, ruleKey(rule.ID, 0), payload, c.latestTTL).Err(); err != nil {
			return fmt.Errorf("failed to cache latest pointer for rule %q: %w", rule.ID, err)
		}
	}
	return nil
}

// Invalidate drops the pinned key and the latest pointer for the rule.
func (c *RedisRuleCache) Invalidate(ctx context.Context, id string, version int) error {
	keys := []string{ruleKey(id, 0)}
	if version > 0 {
		keys = append(keys, ruleKey(id, version))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate rule %q: %w", id, err)
	}
	observability.RuleCacheInvalidations.Inc()
	return nil
}

// HealthCheck verifies the connection to the Redis server.
func (c *RedisRuleCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (c *RedisRuleCache) Close() error {
	return c.client.Close()
}

func ruleKey(id string, version int) string {
	if version == 0 {
		return fmt.Sprintf("%s:%s:latest", KeyPrefix, id)
	}
	return fmt.Sprintf("%s:%s:v%d", KeyPrefix, id, version)
}

// Noop is a Service that caches nothing. It is used when Redis is not
// configured, keeping the call sites free of nil checks.
type Noop struct{}

// GetRule always misses.
func (Noop) GetRule(context.Context, string, int) (*ruleengine.Rule, error) { return nil, nil }

// SetRule does nothing.
func (Noop) SetRule(context.Context, *ruleengine.Rule, bool) error { return nil }

// Invalidate does nothing.
func (Noop) Invalidate(context.Context, string, int) error { return nil }

// HealthCheck always succeeds.
func (Noop) HealthCheck(context.Context) error { return nil }

// Close does nothing.
func (Noop) Close() error { return nil }

package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// HealthChecker reports Redis connectivity for the readiness probe.
// Redis is an optional dependency; the checker is only registered when
// rule caching is configured.
type HealthChecker struct {
	client *redis.Client
}

// NewHealthChecker wraps the Redis client backing the rule cache.
func NewHealthChecker(client *redis.Client) *HealthChecker {
	return &HealthChecker{client: client}
}

// Name identifies this component in the readiness report.
func (h *HealthChecker) Name() string {
	return "redis"
}

// Check pings the Redis server.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return h.client.Ping(ctx).Err()
}

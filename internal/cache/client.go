package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/aevum/verdict/internal/config"
	"github.com/aevum/verdict/internal/logger"
)

// NewRedisClient connects to Redis using the provided configuration.
// Startup ordering with the Redis container is not guaranteed, so the
// initial ping retries with exponential backoff before giving up.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	opts := &redis.Options{
		Addr:            cfg.Address(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis.NewClient(opts)
	log := logger.FromContext(ctx)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.PingBackoff
	policy.MaxInterval = cfg.PingBackoff * 8

	pingTimeout := cfg.DialTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}
	onRetry := func(err error, wait time.Duration) {
		log.Warn("redis ping failed, retrying",
			slog.Duration("backoff", wait), slog.Any("error", err))
	}

	err := backoff.RetryNotify(ping, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(cfg.PingMaxRetries)), ctx), onRetry)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("redis connection established", slog.String("addr", cfg.Address()))
	return client, nil
}

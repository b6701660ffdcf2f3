//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevum/verdict/internal/ruleengine"
	"github.com/aevum/verdict/internal/testsupport"
)

func TestRedisRuleCache_Integration(t *testing.T) {
	ctx := context.Background()

	redisContainer, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisContainer.Terminate(ctx)

	ruleCache := redisContainer.Cache

	sample := &ruleengine.Rule{
		ID:      "rule-cache-1",
		Version: 3,
		Name:    "Cached rule",
		Status:  ruleengine.RuleStatusActive,
		Conditions: []ruleengine.RuleCondition{
			{Field: "amount", Operator: ruleengine.OperatorGreaterThan, Value: ruleengine.Int(100)},
		},
		Actions: []ruleengine.RuleAction{
			{Type: ruleengine.ActionStoreDecision, Order: 0},
		},
		CreatedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}

	t.Run("Should miss on an empty cache", func(t *testing.T) {
		got, err := ruleCache.GetRule(ctx, "rule-cache-1", 3)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Should round-trip a rule under its pinned version key", func(t *testing.T) {
		require.NoError(t, ruleCache.SetRule(ctx, sample, false))

		got, err := ruleCache.GetRule(ctx, "rule-cache-1", 3)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, sample.Name, got.Name)
		assert.Equal(t, sample.Version, got.Version)
		require.Len(t, got.Conditions, 1)
		assert.True(t, got.Conditions[0].Value.Equal(ruleengine.Int(100)),
			"numeric condition operands must survive the cache round-trip")

		// The latest pointer was not written.
		latest, err := ruleCache.GetRule(ctx, "rule-cache-1", 0)
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("Should serve the latest pointer when cached as latest", func(t *testing.T) {
		require.NoError(t, ruleCache.SetRule(ctx, sample, true))

		latest, err := ruleCache.GetRule(ctx, "rule-cache-1", 0)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, 3, latest.Version)
	})

	t.Run("Should drop both keys on invalidation", func(t *testing.T) {
		require.NoError(t, ruleCache.Invalidate(ctx, "rule-cache-1", 3))

		pinned, err := ruleCache.GetRule(ctx, "rule-cache-1", 3)
		require.NoError(t, err)
		assert.Nil(t, pinned)

		latest, err := ruleCache.GetRule(ctx, "rule-cache-1", 0)
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("Should report healthy while the server is up", func(t *testing.T) {
		assert.NoError(t, ruleCache.HealthCheck(ctx))
	})
}

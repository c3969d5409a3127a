package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, burstThreshold int) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, burstThreshold, time.Minute)
}

func TestLimiterFreeTierContributeQuota(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, 50)

	for i := 0; i < 10; i++ {
		res, err := l.Check(ctx, OpContribute, "acme", "agent-1", models.TierFree)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d within quota", i+1)
	}

	res, err := l.Check(ctx, OpContribute, "acme", "agent-1", models.TierFree)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.False(t, res.Burst)
	assert.Equal(t, 10, res.Limit)
	assert.Equal(t, time.Minute, res.RetryAfter)
}

func TestLimiterBurstGateFires(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, 5)

	var last *Result
	for i := 0; i < 7; i++ {
		var err error
		last, err = l.Check(ctx, OpQuery, "acme", "agent-1", models.TierEnterprise)
		require.NoError(t, err)
	}
	assert.False(t, last.Allowed)
	assert.True(t, last.Burst, "burst threshold trips before the tier quota")
}

func TestLimiterKeysIsolatePerAgentAndOp(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, 50)

	for i := 0; i < 10; i++ {
		_, err := l.Check(ctx, OpContribute, "acme", "agent-1", models.TierFree)
		require.NoError(t, err)
	}

	res, err := l.Check(ctx, OpContribute, "acme", "agent-2", models.TierFree)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "another agent has its own window")

	res, err = l.Check(ctx, OpQuery, "acme", "agent-1", models.TierFree)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "query quota is separate from contribute")
}

func TestLimiterUnknownTierFallsBackToFree(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, 50)

	res, err := l.Check(ctx, OpQuery, "acme", "agent-1", models.Tier("unknown"))
	require.NoError(t, err)
	assert.Equal(t, 30, res.Limit)
}

func TestLimiterPermissiveWithoutRedis(t *testing.T) {
	l := New(nil, 50, time.Minute)
	for i := 0; i < 100; i++ {
		res, err := l.Check(context.Background(), OpContribute, "acme", "agent-1", models.TierFree)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
}

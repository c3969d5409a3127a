// Package ratelimit implements the per-agent sliding window limiter and the
// anomalous burst gate on Redis sorted sets. Without a Redis connection the
// limiter is permissive: every check passes and a warning is logged once.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hivemind/hivemind/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Op names a rate-limited operation class.
type Op string

const (
	OpContribute Op = "contribute"
	OpQuery      Op = "query"
)

// tierQuota is requests per minute per (tenant, agent).
type tierQuota struct {
	contribute int
	query      int
}

var tierQuotas = map[models.Tier]tierQuota{
	models.TierFree:       {contribute: 10, query: 30},
	models.TierPro:        {contribute: 60, query: 200},
	models.TierEnterprise: {contribute: 300, query: 1000},
}

// Result reports the outcome of a limiter check.
type Result struct {
	Allowed    bool
	Burst      bool
	Limit      int
	Current    int
	RetryAfter time.Duration
}

// Limiter tracks request timestamps in Redis ZSETs keyed by
// "{op}:{tenant}:{agent}". One key serves both the tier quota and the burst
// gate; members are unique nanosecond timestamps.
type Limiter struct {
	rdb            *redis.Client
	burstThreshold int
	burstWindow    time.Duration

	warnOnce sync.Once
}

// New builds a limiter. rdb may be nil, which disables enforcement.
func New(rdb *redis.Client, burstThreshold int, burstWindow time.Duration) *Limiter {
	if burstThreshold <= 0 {
		burstThreshold = 50
	}
	if burstWindow <= 0 {
		burstWindow = time.Minute
	}
	return &Limiter{rdb: rdb, burstThreshold: burstThreshold, burstWindow: burstWindow}
}

// Check records one request and reports whether it is allowed. Redis errors
// are permissive: availability is preferred over strict enforcement.
func (l *Limiter) Check(ctx context.Context, op Op, tenantID, agentID string, tier models.Tier) (*Result, error) {
	quota, ok := tierQuotas[tier]
	if !ok {
		quota = tierQuotas[models.TierFree]
	}
	limit := quota.query
	if op == OpContribute {
		limit = quota.contribute
	}

	if l.rdb == nil {
		l.warnOnce.Do(func() {
			log.Warn().Msg("Rate limiting disabled: no Redis connection")
		})
		return &Result{Allowed: true, Limit: limit}, nil
	}

	key := fmt.Sprintf("%s:%s:%s", op, tenantID, agentID)
	now := time.Now()
	windowStart := now.Add(-time.Minute)
	burstStart := now.Add(-l.burstWindow)

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key,
		"-inf", strconv.FormatInt(burstStart.UnixNano(), 10))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	minuteCount := pipe.ZCount(ctx, key,
		strconv.FormatInt(windowStart.UnixNano(), 10), "+inf")
	burstCount := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.burstWindow+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Rate limit check failed; allowing request")
		return &Result{Allowed: true, Limit: limit}, nil
	}

	res := &Result{Limit: limit, Current: int(minuteCount.Val())}
	if int(burstCount.Val()) > l.burstThreshold {
		res.Burst = true
		res.RetryAfter = l.burstWindow
		return res, nil
	}
	if res.Current > limit {
		res.RetryAfter = time.Minute
		return res, nil
	}
	res.Allowed = true
	return res, nil
}

package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/packclaim/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyPattern = "packclaim:ratelimit:%s:%s"

// Limiter throttles the public claim routes per client. A nil or disabled
// Limiter allows everything.
type Limiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

type Params struct {
	fx.In

	Cfg    config.Config
	Client *redis.Client `optional:"true"`
	Log    *zap.Logger
}

func NewLimiter(p Params) *Limiter {
	if p.Client == nil {
		p.Log.Info("rate limiting disabled, REDIS_URL not set")
		return nil
	}
	limit := p.Cfg.ClaimRateLimit
	if limit.PerSecond <= 0 || limit.Burst <= 0 {
		p.Log.Warn("rate limiting disabled, non-positive rate or burst")
		return nil
	}
	return &Limiter{
		bucket: NewTokenBucket(p.Client),
		rate:   limit.PerSecond,
		burst:  limit.Burst,
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow takes one token from the bucket for scope and client.
func (l *Limiter) Allow(ctx context.Context, scope, client string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyPattern, strings.TrimSpace(scope), strings.TrimSpace(client))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}

// Package ratelimit throttles requests per client key.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nextgen/internal/common/cache"
	pkgerrors "nextgen/pkg/errors"

	"golang.org/x/time/rate"
)

// Limiter decides whether one more request for key is allowed.
// A rejected request returns a TooManyRequests error.
type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// Policy is a fixed budget of Max requests per Window.
type Policy struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// Enabled reports whether the policy limits anything.
func (p Policy) Enabled() bool {
	return p.Max > 0 && p.Window > 0
}

// RedisLimiter enforces fixed-window limits using Redis so that several
// service replicas share one budget.
type RedisLimiter struct {
	cache        cache.CounterOps
	policy       Policy
	prefix       string
	redisTimeout time.Duration
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(cacheClient cache.CounterOps, policy Policy, prefix string, redisTimeout time.Duration) *RedisLimiter {
	if redisTimeout <= 0 {
		redisTimeout = 200 * time.Millisecond
	}
	return &RedisLimiter{cache: cacheClient, policy: policy, prefix: prefix, redisTimeout: redisTimeout}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) error {
	if !l.policy.Enabled() {
		return nil
	}
	if l.cache == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	fullKey := l.prefix + key

	ctxCache, cancel := context.WithTimeout(ctx, l.redisTimeout)
	defer cancel()

	acquired, err := l.cache.SetNX(ctxCache, fullKey, 1, l.policy.Window)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	var count int64
	if acquired {
		count = 1
	} else {
		count, err = l.cache.Incr(ctxCache, fullKey)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
		}
		// A key without expiry would block the client forever.
		ttl, ttlErr := l.cache.TTL(ctxCache, fullKey)
		if ttlErr == nil && ttl <= 0 {
			_ = l.cache.Expire(ctxCache, fullKey, l.policy.Window)
		}
	}
	if int(count) > l.policy.Max {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded, at most %d runs per %s", l.policy.Max, l.policy.Window))
	}
	return nil
}

// LocalLimiter keeps one token bucket per key in process memory.
type LocalLimiter struct {
	policy  Policy
	limit   rate.Limit
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	sweepAt time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter creates an in-process limiter refilling Max tokens per Window.
func NewLocalLimiter(policy Policy) *LocalLimiter {
	l := &LocalLimiter{
		policy:  policy,
		idleTTL: 10 * time.Minute,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	if policy.Enabled() {
		l.limit = rate.Limit(float64(policy.Max) / policy.Window.Seconds())
		if policy.Window*2 > l.idleTTL {
			l.idleTTL = policy.Window * 2
		}
	}
	return l
}

func (l *LocalLimiter) Allow(ctx context.Context, key string) error {
	if !l.policy.Enabled() {
		return nil
	}
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.policy.Max)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.sweepLocked(now)
	l.mu.Unlock()

	if !b.limiter.AllowN(now, 1) {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded, at most %d runs per %s", l.policy.Max, l.policy.Window))
	}
	return nil
}

func (l *LocalLimiter) sweepLocked(now time.Time) {
	if now.Before(l.sweepAt) {
		return
	}
	l.sweepAt = now.Add(l.idleTTL)
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.buckets, key)
		}
	}
}

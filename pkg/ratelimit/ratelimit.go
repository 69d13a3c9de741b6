// Package ratelimit bounds the requests a single client may make per window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a rate limit is exceeded
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter decides whether the client identified by key may make a request.
type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// MemoryLimiter gives each key a token bucket holding max requests which
// refills over window.
type MemoryLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idle     time.Duration
	visitors map[string]*visitor
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:    rate.Limit(float64(max) / window.Seconds()),
		burst:    max,
		idle:     window,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	v, ok := m.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.visitors[key] = v
	}
	v.lastSeen = now
	if !v.limiter.AllowN(now, 1) {
		return ErrRateLimited
	}
	return nil
}

// Prune forgets keys idle for a whole window; their buckets would be full.
func (m *MemoryLimiter) Prune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, v := range m.visitors {
		if now.Sub(v.lastSeen) >= m.idle {
			delete(m.visitors, key)
		}
	}
}

// RunPruner calls Prune every window until ctx is done.
func (m *MemoryLimiter) RunPruner(ctx context.Context) {
	ticker := time.NewTicker(m.idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Prune()
		}
	}
}

// RedisLimiter counts requests per key in fixed windows shared through Redis.
// Redis failures let the request through.
type RedisLimiter struct {
	redis  *redis.Client
	log    *zap.Logger
	max    int
	window time.Duration
	prefix string
}

func NewRedisLimiter(log *zap.Logger, client *redis.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		redis:  client,
		log:    log,
		max:    max,
		window: window,
		prefix: prefix,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) error {
	if l == nil || l.redis == nil {
		return nil
	}

	redisKey := fmt.Sprintf("ratelimit:%s:%s", l.prefix, key)
	count, err := l.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		l.log.Warn("Rate limit check failed, allowing request",
			zap.String("key", key), zap.Error(err))
		return nil
	}

	// The first request of a window starts its expiry
	if count == 1 {
		if err := l.redis.Expire(ctx, redisKey, l.window).Err(); err != nil {
			l.log.Warn("Unable to set rate limit window", zap.String("key", key), zap.Error(err))
		}
	}

	if int(count) > l.max {
		return ErrRateLimited
	}
	return nil
}

// Package rate limita intentos de OTP/login por IP. Dos backends: Redis
// (ventana fija compartida entre réplicas) y memoria (token bucket por clave).
package rate

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	WindowTTL   time.Duration
	CurrentHits int64
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// RedisLimiter: fixed window (INCR + EXPIRE en el primer hit).
type RedisLimiter struct {
	client *rdb.Client
	prefix string
	max    int64
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{client: client, prefix: prefix, max: int64(max), window: window, now: time.Now}
}

func (l *RedisLimiter) key(k string) string {
	win := l.now().UTC().Truncate(l.window).Unix()
	return fmt.Sprintf("%s%s:%d", l.prefix, strings.ReplaceAll(k, " ", "_"), win)
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	rk := l.key(key)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, rk)
	ttl := pipe.TTL(ctx, rk)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate: redis: %w", err)
	}
	if incr.Val() == 1 {
		if err := l.client.Expire(ctx, rk, l.window).Err(); err != nil {
			return Result{}, fmt.Errorf("rate: redis expire: %w", err)
		}
		ttl = l.client.TTL(ctx, rk)
	}

	hits := incr.Val()
	res := Result{
		Allowed:     hits <= l.max,
		Remaining:   max64(l.max-hits, 0),
		CurrentHits: hits,
		WindowTTL:   ttl.Val(),
	}
	if !res.Allowed {
		res.RetryAfter = ttl.Val()
		if res.RetryAfter <= 0 {
			res.RetryAfter = time.Duration(math.Ceil(l.window.Seconds())) * time.Second
		}
	}
	return res, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

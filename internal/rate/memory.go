package rate

import (
	"context"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"
)

// MemoryLimiter: token bucket por clave; max intentos por ventana, con
// recarga continua. Sólo sirve para una réplica.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	max     int
	window  time.Duration
	now     func() time.Time
	calls   int
}

type bucket struct {
	lim  *xrate.Limiter
	seen time.Time
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	if max < 1 {
		max = 1
	}
	return &MemoryLimiter{buckets: map[string]*bucket{}, max: max, window: window, now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%256 == 0 {
		l.prune(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: xrate.NewLimiter(xrate.Every(l.window/time.Duration(l.max)), l.max)}
		l.buckets[key] = b
	}
	b.seen = now

	r := b.lim.ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return Result{Allowed: false, RetryAfter: d, WindowTTL: d}, nil
	}
	remaining := int64(b.lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining, CurrentHits: int64(l.max) - remaining}, nil
}

// prune descarta buckets inactivos por más de una ventana (ya llenos).
func (l *MemoryLimiter) prune(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.window {
			delete(l.buckets, k)
		}
	}
}

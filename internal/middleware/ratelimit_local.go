// AngelaMos | 2026
// ratelimit_local.go

package middleware

import (
	"fmt"
	"sync"
	"time"

	redis_rate "github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"
)

const (
	localSweepInterval = 5 * time.Minute
	localEntryTTL      = 10 * time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// localLimiter is the per-process fallback used while Redis is down. Idle
// buckets are swept lazily from check, so it owns no goroutine.
type localLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

func newLocalLimiter(now func() time.Time) *localLimiter {
	return &localLimiter{
		buckets:   make(map[string]*bucket),
		lastSweep: now(),
		now:       now,
	}
}

func (l *localLimiter) check(key string, limit redis_rate.Limit) (decision, error) {
	if limit.Rate <= 0 || limit.Period <= 0 {
		return decision{}, fmt.Errorf("invalid limit %+v", limit)
	}

	perSecond := float64(limit.Rate) / limit.Period.Seconds()
	interval := time.Duration(float64(time.Second) / perSecond)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= localSweepInterval {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(perSecond), limit.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	d := decision{
		allowed:    b.limiter.AllowN(now, 1),
		resetAfter: interval,
		retryAfter: -1,
	}
	d.remaining = max(int(b.limiter.TokensAt(now)), 0)
	if !d.allowed {
		d.retryAfter = interval
	}
	return d, nil
}

func (l *localLimiter) sweep(now time.Time) {
	cutoff := now.Add(-localEntryTTL)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

func (l *localLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

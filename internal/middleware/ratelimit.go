// AngelaMos | 2026
// ratelimit.go

package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	redis_rate "github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/carterperez-dev/goldsave/internal/core"
)

type RateLimitConfig struct {
	// Name labels the limiter in logs, e.g. "global" or "signin".
	Name       string
	Limit      redis_rate.Limit
	KeyFunc    func(*http.Request) string
	FailOpen   bool
	BypassFunc func(*http.Request) bool
	Logger     *slog.Logger
}

// RateLimiter enforces a shared GCRA budget in Redis. When Redis cannot
// answer, each instance falls back to an in-process token bucket so limits
// still hold per node.
type RateLimiter struct {
	store  *redis_rate.Limiter
	local  *localLimiter
	cfg    RateLimitConfig
	logger *slog.Logger
}

// decision is the outcome of one limiter check, whichever backend made it.
type decision struct {
	allowed    bool
	remaining  int
	retryAfter time.Duration
	resetAfter time.Duration
}

func NewRateLimiter(rdb *redis.Client, cfg RateLimitConfig) *RateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = KeyByIP
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rl := &RateLimiter{
		local:  newLocalLimiter(time.Now),
		cfg:    cfg,
		logger: logger.With("limiter", cfg.Name),
	}
	if rdb != nil {
		rl.store = redis_rate.NewLimiter(rdb)
	}
	return rl
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.cfg.BypassFunc != nil && rl.cfg.BypassFunc(r) {
			next.ServeHTTP(w, r)
			return
		}

		key := rl.cfg.KeyFunc(r)
		d, err := rl.check(r.Context(), key)
		if err != nil {
			if rl.cfg.FailOpen {
				rl.logger.WarnContext(r.Context(), "rate limiter unavailable, failing open",
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}
			core.ServiceUnavailable(w)
			return
		}

		writeRateLimitHeaders(w, d, rl.cfg.Limit)

		if !d.allowed {
			rl.logger.InfoContext(r.Context(), "request rate limited",
				"path", r.URL.Path,
				"ip", ClientIP(r),
			)
			writeRateLimited(w, d)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) check(ctx context.Context, key string) (decision, error) {
	if rl.store != nil {
		res, err := rl.store.Allow(ctx, key, rl.cfg.Limit)
		if err == nil {
			return decision{
				allowed:    res.Allowed > 0,
				remaining:  res.Remaining,
				retryAfter: res.RetryAfter,
				resetAfter: res.ResetAfter,
			}, nil
		}
		rl.logger.DebugContext(ctx, "redis limiter failed, using local bucket",
			"error", err,
		)
	}
	return rl.local.check(key, rl.cfg.Limit)
}

func KeyByIP(r *http.Request) string {
	return core.RedisKey("ratelimit", "ip", ClientIP(r))
}

// ClientIP returns the caller address. The last X-Forwarded-For hop is the
// one appended by our own proxy, so it is the only entry that can be
// trusted.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[len(ips)-1])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}

// KeyBySignInAttempt scopes the credential endpoints separately from the
// general limit so a burst of failed sign-ins cannot starve other traffic.
func KeyBySignInAttempt(r *http.Request) string {
	return core.RedisKey("ratelimit", "signin", ClientIP(r))
}

// KeyByUser buckets signed-in callers by user id and everyone else by IP.
// It needs OptionalAuth earlier in the chain to see the user.
func KeyByUser(r *http.Request) string {
	if userID := GetUserID(r.Context()); userID != "" {
		return core.RedisKey("ratelimit", "user", userID)
	}
	return KeyByIP(r)
}

func writeRateLimitHeaders(
	w http.ResponseWriter,
	d decision,
	limit redis_rate.Limit,
) {
	h := w.Header()

	h.Set("X-RateLimit-Limit", strconv.Itoa(limit.Rate))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(
		time.Now().Add(d.resetAfter).Unix(), 10))

	windowSecs := int(limit.Period.Seconds())
	h.Set("RateLimit-Policy", fmt.Sprintf(`%d;w=%d`, limit.Rate, windowSecs))
	h.Set(
		"RateLimit",
		fmt.Sprintf(`%d;t=%d`, d.remaining, int(d.resetAfter.Seconds())),
	)
}

func writeRateLimited(w http.ResponseWriter, d decision) {
	retryAfter := int(d.retryAfter.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	core.JSONError(w, core.NewAppError(
		nil,
		fmt.Sprintf("rate limit exceeded, retry after %d seconds", retryAfter),
		http.StatusTooManyRequests,
		"RATE_LIMITED",
	))
}

func PerMinute(rate, burst int) redis_rate.Limit {
	return PerWindow(rate, burst, time.Minute)
}

// PerWindow allows rate requests per window with the given burst.
func PerWindow(rate, burst int, window time.Duration) redis_rate.Limit {
	if window <= 0 {
		window = time.Minute
	}
	return redis_rate.Limit{
		Rate:   rate,
		Burst:  burst,
		Period: window,
	}
}

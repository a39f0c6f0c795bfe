// AngelaMos | 2026
// redis.go

package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carterperez-dev/goldsave/internal/config"
)

const redisKeyPrefix = "goldsave"

// Redis backs the shared rate-limit budget only. Session state lives in
// Postgres, so the service keeps running when Redis is down.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client from cfg without dialing. Connections are made
// lazily; call Ping to find out whether the server is reachable.
func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.PoolTimeout = 2 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute
	opts.DialTimeout = pingTimeout

	return &Redis{Client: redis.NewClient(opts)}, nil
}

func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

func (r *Redis) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := r.Client.Ping(pingCtx).Err(); err != nil {
		return unreachable("redis ping", err)
	}
	return nil
}

func (r *Redis) PoolStats() *redis.PoolStats {
	return r.Client.PoolStats()
}

// RedisKey namespaces a key under the service prefix, e.g.
// RedisKey("ratelimit", "ip", "1.2.3.4") -> "goldsave:ratelimit:ip:1.2.3.4".
func RedisKey(parts ...string) string {
	return redisKeyPrefix + ":" + strings.Join(parts, ":")
}

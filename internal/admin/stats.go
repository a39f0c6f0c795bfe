// AngelaMos | 2026
// stats.go

package admin

import (
	"context"
	"net/http"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/carterperez-dev/goldsave/internal/core"
	"github.com/carterperez-dev/goldsave/internal/user"
)

type SystemStatsResponse struct {
	Database DatabaseStatus `json:"database"`
	Redis    RedisStatus    `json:"redis"`
	Users    *user.Counts   `json:"users,omitempty"`
	Runtime  RuntimeStats   `json:"runtime"`
}

type DatabaseStatus struct {
	Healthy bool         `json:"healthy"`
	Stats   *DBPoolStats `json:"stats,omitempty"`
}

type RedisStatus struct {
	Healthy bool            `json:"healthy"`
	Stats   *RedisPoolStats `json:"stats,omitempty"`
}

type DBPoolStats struct {
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
	WaitDuration    string `json:"wait_duration"`
}

type RedisPoolStats struct {
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	Timeouts   uint32 `json:"timeouts"`
}

type RuntimeStats struct {
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
	HeapBytes  uint64 `json:"heap_bytes"`
	NumGC      uint32 `json:"num_gc"`
}

// GetSystemStats pings both stores concurrently and reports user counts
// only when the database answered.
func (h *Handler) GetSystemStats(w http.ResponseWriter, r *http.Request) {
	var dbOK, redisOK bool

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		dbOK = reachable(ctx, h.dbPing)
		return nil
	})
	g.Go(func() error {
		redisOK = reachable(ctx, h.redisPing)
		return nil
	})
	//nolint:errcheck // probes report through the flags
	_ = g.Wait()

	resp := SystemStatsResponse{
		Database: DatabaseStatus{Healthy: dbOK, Stats: h.dbPoolStats()},
		Redis:    RedisStatus{Healthy: redisOK, Stats: h.redisPoolStats()},
		Runtime:  readRuntimeStats(),
	}

	if dbOK && h.users != nil {
		if counts, err := h.users.Counts(r.Context()); err == nil {
			resp.Users = &counts
		}
	}

	core.OK(w, resp)
}

func (h *Handler) GetDatabaseStats(w http.ResponseWriter, _ *http.Request) {
	core.OK(w, h.dbPoolStats())
}

func (h *Handler) GetRedisStats(w http.ResponseWriter, _ *http.Request) {
	core.OK(w, h.redisPoolStats())
}

func (h *Handler) GetRuntimeStats(w http.ResponseWriter, _ *http.Request) {
	core.OK(w, readRuntimeStats())
}

func reachable(ctx context.Context, ping func(context.Context) error) bool {
	return ping != nil && ping(ctx) == nil
}

func (h *Handler) dbPoolStats() *DBPoolStats {
	if h.dbStats == nil {
		return nil
	}
	s := h.dbStats()
	return &DBPoolStats{
		OpenConnections: s.OpenConnections,
		InUse:           s.InUse,
		Idle:            s.Idle,
		WaitCount:       s.WaitCount,
		WaitDuration:    s.WaitDuration.String(),
	}
}

func (h *Handler) redisPoolStats() *RedisPoolStats {
	if h.redisStats == nil {
		return nil
	}
	s := h.redisStats()
	return &RedisPoolStats{
		TotalConns: s.TotalConns,
		IdleConns:  s.IdleConns,
		Timeouts:   s.Timeouts,
	}
}

func readRuntimeStats() RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return RuntimeStats{
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
		HeapBytes:  m.HeapAlloc,
		NumGC:      m.NumGC,
	}
}

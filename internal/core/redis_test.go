// AngelaMos | 2026
// redis_test.go

package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/goldsave/internal/config"
)

func TestNewRedisRejectsBadURL(t *testing.T) {
	_, err := NewRedis(config.RedisConfig{URL: "memcached://nope"})
	require.Error(t, err)
}

func TestRedisPingTagsUnreachableServer(t *testing.T) {
	r, err := NewRedis(config.RedisConfig{
		URL:      "redis://127.0.0.1:1/0",
		PoolSize: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	err = r.Ping(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTelemetryDisabledIsNoop(t *testing.T) {
	tel, err := NewTelemetry(
		context.Background(),
		config.OtelConfig{Enabled: false},
		config.AppConfig{Name: "goldsave"},
	)
	require.NoError(t, err)
	assert.False(t, tel.Enabled())
	assert.NoError(t, tel.Shutdown(context.Background()))

	ctx, span := StartSpan(context.Background(), "noop")
	span.End()
	assert.Empty(t, TraceIDFromContext(ctx))
}

// AngelaMos | 2026
// retry_test.go

package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/goldsave/internal/core"
)

func TestRetryRead(t *testing.T) {
	t.Run("retries once on unavailable", func(t *testing.T) {
		calls := 0
		got, err := retryRead(context.Background(), func() (int, error) {
			calls++
			if calls == 1 {
				return 0, fmt.Errorf("dial: %w", ErrStoreUnavailable)
			}
			return 7, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 7, got)
		assert.Equal(t, 2, calls)
	})

	t.Run("gives up after one retry", func(t *testing.T) {
		calls := 0
		_, err := retryRead(context.Background(), func() (int, error) {
			calls++
			return 0, fmt.Errorf("dial: %w", ErrStoreUnavailable)
		})
		require.ErrorIs(t, err, ErrStoreUnavailable)
		assert.Equal(t, 2, calls)
	})

	t.Run("does not retry domain errors", func(t *testing.T) {
		calls := 0
		_, err := retryRead(context.Background(), func() (int, error) {
			calls++
			return 0, fmt.Errorf("find: %w", core.ErrNotFound)
		})
		require.ErrorIs(t, err, core.ErrNotFound)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := retryRead(ctx, func() (int, error) {
			return 0, ErrStoreUnavailable
		})
		require.Error(t, err)
		assert.True(t,
			errors.Is(err, context.Canceled) || errors.Is(err, ErrStoreUnavailable))
	})
}

func TestStoreErrorRetryability(t *testing.T) {
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"dial refused", dial, true},
		{"connection lost", &pgconn.PgError{Code: "08006"}, true},
		{"foreign key violation", &pgconn.PgError{Code: "23503"}, false},
		{"check violation", &pgconn.PgError{Code: "23514"}, false},
		{"invalid text representation", &pgconn.PgError{Code: "22P02"}, false},
		{"undefined column", &pgconn.PgError{Code: "42703"}, false},
		{"deadline", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storeError("create session", tt.err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestRetryReadSkipsStatementErrors(t *testing.T) {
	calls := 0
	_, err := retryRead(context.Background(), func() (*Session, error) {
		calls++
		return nil, storeError("find session", &pgconn.PgError{Code: "22P02"})
	})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 1, calls)
}

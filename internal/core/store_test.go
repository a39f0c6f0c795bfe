// AngelaMos | 2026
// store_test.go

package core

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestStoreErrorTagging(t *testing.T) {
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{"dial refused", dial, true},
		{"bad conn", driver.ErrBadConn, true},
		{"dropped mid query", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), true},
		{"connection exception", &pgconn.PgError{Code: "08006"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"foreign key violation", &pgconn.PgError{Code: "23503"}, false},
		{"check violation", &pgconn.PgError{Code: "23514"}, false},
		{"invalid text representation", &pgconn.PgError{Code: "22P02"}, false},
		{"undefined column", &pgconn.PgError{Code: "42703"}, false},
		{"statement cancelled", &pgconn.PgError{Code: "57014"}, false},
		{"plain error", errors.New("sql: Scan error on column"), false},
		{"cancelled", fmt.Errorf("query: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := StoreError("find session", tt.err)
			assert.ErrorIs(t, err, tt.err)
			if tt.unavailable {
				assert.ErrorIs(t, err, ErrUnavailable)
			} else {
				assert.NotErrorIs(t, err, ErrUnavailable)
			}
		})
	}
}

func TestStoreErrorKeepsExistingTag(t *testing.T) {
	err := StoreError("find session", driver.ErrBadConn)
	again := StoreError("rotate", err)

	assert.ErrorIs(t, again, ErrUnavailable)
	assert.Equal(t, "rotate: "+err.Error(), again.Error())
}

func TestUnreachableTagsAnyPingFailure(t *testing.T) {
	err := unreachable("redis ping", errors.New("redis: connection pool timeout"))
	assert.ErrorIs(t, err, ErrUnavailable)

	err = unreachable("redis ping", context.Canceled)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}

// AngelaMos | 2026
// retry.go

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	readRetryInitial = 50 * time.Millisecond
	readRetryMax     = 200 * time.Millisecond
	readRetries      = 1
)

// retryRead retries an idempotent store read once when the store reports
// itself unavailable. Every other outcome is returned as is. Writes must
// never go through here.
func retryRead[T any](ctx context.Context, read func() (T, error)) (T, error) {
	var out T

	op := func() error {
		v, err := read()
		if err == nil {
			out = v
			return nil
		}
		if errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = readRetryInitial
	b.MaxInterval = readRetryMax

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, readRetries), ctx))
	return out, err
}

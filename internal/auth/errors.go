// AngelaMos | 2026
// errors.go

package auth

import (
	"errors"

	"github.com/carterperez-dev/goldsave/internal/core"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountDeactivated  = errors.New("account deactivated")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	ErrUserInactive        = errors.New("user inactive")
	ErrEmailExists         = errors.New("email already exists")

	// ErrDuplicateSecret means a generated refresh secret collided with a
	// stored one. Callers may retry with a fresh secret.
	ErrDuplicateSecret = errors.New("duplicate refresh secret")

	// ErrStoreUnavailable marks transport or driver failures from the session
	// store or the user directory. The request may be retried as a whole.
	ErrStoreUnavailable = core.ErrUnavailable
)

func IsRetryable(err error) bool {
	return errors.Is(err, ErrDuplicateSecret) ||
		errors.Is(err, ErrStoreUnavailable)
}

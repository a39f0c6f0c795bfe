// AngelaMos | 2026
// repository.go

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/carterperez-dev/goldsave/internal/core"
)

// Repository is the session store. Each method is atomic on its own;
// multi-step flows group calls with WithinTx.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	FindBySecretHash(ctx context.Context, secretHash string) (*Session, error)
	FindByID(ctx context.Context, id string) (*Session, error)
	FindActiveByUser(
		ctx context.Context,
		userID string,
		now time.Time,
	) ([]Session, error)
	FindByDeviceAndUser(
		ctx context.Context,
		userID, deviceID string,
	) ([]Session, error)
	FindCreatedSince(
		ctx context.Context,
		userID string,
		since time.Time,
	) ([]Session, error)
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	RevokeAllActiveForUser(
		ctx context.Context,
		userID string,
		at time.Time,
	) (int64, error)
	MarkRotated(ctx context.Context, id, replacedBy string, at time.Time) error
	Update(ctx context.Context, s *Session) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	WithinTx(ctx context.Context, fn func(Repository) error) error
}

type repository struct {
	db   core.DBTX
	root *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db, root: db}
}

const sessionColumns = `
	id, user_id, refresh_secret_hash, expires_at, is_revoked, revoked_at,
	replaced_by_token, device_info, security_info, created_at`

func (r *repository) WithinTx(
	ctx context.Context,
	fn func(Repository) error,
) error {
	if r.root == nil {
		return fn(r)
	}

	err := core.InTx(ctx, r.root, func(tx *sqlx.Tx) error {
		return fn(&repository{db: tx})
	})
	if err != nil && !isDomainError(err) {
		return storeError("session transaction", err)
	}
	return err
}

func (r *repository) Create(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}

	query := `
		INSERT INTO sessions (
			id, user_id, refresh_secret_hash, expires_at, is_revoked,
			revoked_at, replaced_by_token, device_info, security_info, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)`

	_, err := r.db.ExecContext(ctx, query,
		s.ID,
		s.UserID,
		s.RefreshSecretHash,
		s.ExpiresAt,
		s.IsRevoked,
		s.RevokedAt,
		s.ReplacedByToken,
		s.DeviceInfo,
		s.SecurityInfo,
		s.CreatedAt,
	)
	if err != nil {
		if core.IsUniqueViolation(err) {
			return fmt.Errorf("create session: %w", ErrDuplicateSecret)
		}
		return storeError("create session", err)
	}

	return nil
}

func (r *repository) FindBySecretHash(
	ctx context.Context,
	secretHash string,
) (*Session, error) {
	return r.getOne(ctx, "find session by secret",
		`SELECT`+sessionColumns+` FROM sessions WHERE refresh_secret_hash = $1`,
		secretHash,
	)
}

func (r *repository) FindByID(ctx context.Context, id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("find session: %w", core.ErrNotFound)
	}

	return r.getOne(ctx, "find session",
		`SELECT`+sessionColumns+` FROM sessions WHERE id = $1`,
		id,
	)
}

func (r *repository) FindActiveByUser(
	ctx context.Context,
	userID string,
	now time.Time,
) ([]Session, error) {
	return r.getMany(ctx, "find active sessions", `
		SELECT`+sessionColumns+`
		FROM sessions
		WHERE user_id = $1
			AND is_revoked = false
			AND expires_at > $2
		ORDER BY created_at DESC`,
		userID, now,
	)
}

func (r *repository) FindByDeviceAndUser(
	ctx context.Context,
	userID, deviceID string,
) ([]Session, error) {
	return r.getMany(ctx, "find device sessions", `
		SELECT`+sessionColumns+`
		FROM sessions
		WHERE user_id = $1 AND device_id = $2
		ORDER BY created_at DESC`,
		userID, deviceID,
	)
}

func (r *repository) FindCreatedSince(
	ctx context.Context,
	userID string,
	since time.Time,
) ([]Session, error) {
	return r.getMany(ctx, "find recent sessions", `
		SELECT`+sessionColumns+`
		FROM sessions
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC`,
		userID, since,
	)
}

// Revoke is idempotent: an already revoked session is left untouched and
// reported as success with changed false. A missing session is
// core.ErrNotFound.
func (r *repository) Revoke(
	ctx context.Context,
	id string,
	at time.Time,
) (bool, error) {
	query := `
		UPDATE sessions
		SET is_revoked = true, revoked_at = $2
		WHERE id = $1 AND is_revoked = false`

	rows, err := r.exec(ctx, "revoke session", query, id, at)
	if err != nil {
		return false, err
	}
	if rows > 0 {
		return true, nil
	}

	var exists bool
	err = r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)`, id)
	if err != nil {
		return false, storeError("revoke session", err)
	}
	if !exists {
		return false, fmt.Errorf("revoke session: %w", core.ErrNotFound)
	}

	return false, nil
}

func (r *repository) RevokeAllActiveForUser(
	ctx context.Context,
	userID string,
	at time.Time,
) (int64, error) {
	query := `
		UPDATE sessions
		SET is_revoked = true, revoked_at = $2
		WHERE user_id = $1 AND is_revoked = false AND expires_at > $2`

	return r.exec(ctx, "revoke user sessions", query, userID, at)
}

// MarkRotated revokes a still-active session and links its successor in a
// single conditional update. When another caller won the race the update
// matches nothing and core.ErrNotFound is returned.
func (r *repository) MarkRotated(
	ctx context.Context,
	id, replacedBy string,
	at time.Time,
) error {
	query := `
		UPDATE sessions
		SET is_revoked = true,
			revoked_at = $2,
			replaced_by_token = $3
		WHERE id = $1 AND is_revoked = false AND expires_at > $2`

	rows, err := r.exec(ctx, "mark session rotated", query, id, at, replacedBy)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("mark session rotated: %w", core.ErrNotFound)
	}

	return nil
}

// Update persists security info and revocation fields. Revocation is
// monotonic: a row that is already revoked keeps its revoked_at and
// replaced_by_token whatever s carries.
func (r *repository) Update(ctx context.Context, s *Session) error {
	query := `
		UPDATE sessions
		SET security_info = $2,
			is_revoked = is_revoked OR $3,
			revoked_at = CASE WHEN is_revoked THEN revoked_at ELSE $4 END,
			replaced_by_token = CASE WHEN is_revoked THEN replaced_by_token ELSE $5 END
		WHERE id = $1`

	rows, err := r.exec(ctx, "update session", query,
		s.ID,
		s.SecurityInfo,
		s.IsRevoked,
		s.RevokedAt,
		s.ReplacedByToken,
	)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("update session: %w", core.ErrNotFound)
	}

	return nil
}

func (r *repository) DeleteExpired(
	ctx context.Context,
	before time.Time,
) (int64, error) {
	return r.exec(ctx, "delete expired sessions",
		`DELETE FROM sessions WHERE expires_at < $1`, before)
}

func (r *repository) getOne(
	ctx context.Context,
	op, query string,
	args ...any,
) (*Session, error) {
	var s Session
	err := r.db.GetContext(ctx, &s, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	if err != nil {
		return nil, storeError(op, err)
	}
	return &s, nil
}

func (r *repository) getMany(
	ctx context.Context,
	op, query string,
	args ...any,
) ([]Session, error) {
	var sessions []Session
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, storeError(op, err)
	}
	return sessions, nil
}

func (r *repository) exec(
	ctx context.Context,
	op, query string,
	args ...any,
) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storeError(op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, storeError(op, err)
	}

	return rows, nil
}

func storeError(op string, err error) error {
	return core.StoreError(op, err)
}

func isDomainError(err error) bool {
	return errors.Is(err, core.ErrNotFound) ||
		errors.Is(err, ErrDuplicateSecret) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrInvalidRefreshToken) ||
		errors.Is(err, ErrRefreshTokenExpired) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// AngelaMos | 2026
// service.go

package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/carterperez-dev/goldsave/internal/auth"
	"github.com/carterperez-dev/goldsave/internal/core"
)

// SessionRevoker ends every usable session of a user.
type SessionRevoker interface {
	RevokeUserSessions(ctx context.Context, userID, reason string) (int64, error)
}

type Service struct {
	repo     Repository
	sessions SessionRevoker
	clock    core.Clock
	logger   *slog.Logger
}

func NewService(
	repo Repository,
	sessions SessionRevoker,
	clock core.Clock,
	logger *slog.Logger,
) *Service {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		sessions: sessions,
		clock:    clock,
		logger:   logger,
	}
}

func (s *Service) GetByID(
	ctx context.Context,
	id string,
) (*auth.UserInfo, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return toUserInfo(user), nil
}

func (s *Service) GetByEmail(
	ctx context.Context,
	email string,
) (*auth.UserInfo, error) {
	user, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}

	return toUserInfo(user), nil
}

func (s *Service) Create(
	ctx context.Context,
	email, passwordHash, name string,
) (*auth.UserInfo, error) {
	user := &User{
		ID:           uuid.New().String(),
		Email:        normalizeEmail(email),
		PasswordHash: passwordHash,
		Name:         strings.TrimSpace(name),
		Role:         RoleUser,
		IsActive:     true,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	return toUserInfo(user), nil
}

func (s *Service) UpdatePassword(
	ctx context.Context,
	userID, passwordHash string,
) error {
	return s.repo.UpdatePassword(ctx, userID, passwordHash)
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateUser(
	ctx context.Context,
	id string,
	req UpdateUserRequest,
) (*User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		user.Name = strings.TrimSpace(*req.Name)
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

func (s *Service) UpdateUserRole(
	ctx context.Context,
	requesterID, targetID, role string,
) (*User, error) {
	if role != RoleUser && role != RoleAdmin {
		return nil, fmt.Errorf(
			"update role: invalid role %q: %w",
			role,
			core.ErrInvalidInput,
		)
	}
	if requesterID == targetID {
		return nil, fmt.Errorf("update role: own role: %w", core.ErrForbidden)
	}

	user, err := s.repo.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	user.Role = role

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// Deactivate marks the target inactive and then revokes all of its usable
// sessions. The flag is written first: refresh rejects inactive owners, so
// a failed cascade still leaves no session that can be rotated. Repeating
// the call retries the cascade.
func (s *Service) Deactivate(
	ctx context.Context,
	requesterID, targetID string,
) (*StatusChange, error) {
	ctx, span := core.StartSpan(ctx, "user.deactivate")
	defer span.End()

	if err := s.canManage(ctx, requesterID, targetID); err != nil {
		return nil, err
	}

	user, err := s.repo.SetActive(ctx, targetID, false, s.clock.Now())
	if err != nil {
		core.SetSpanError(ctx, err)
		return nil, err
	}

	revoked, err := s.sessions.RevokeUserSessions(ctx, targetID, auth.ReasonDeactivated)
	if err != nil {
		core.SetSpanError(ctx, err)
		return nil, fmt.Errorf("deactivate user: %w", err)
	}

	s.logger.InfoContext(ctx, "user deactivated",
		"user_id", targetID,
		"by", requesterID,
		"revoked_sessions", revoked,
	)

	return &StatusChange{
		User:            ToUserResponse(user),
		RevokedSessions: revoked,
	}, nil
}

// Activate clears the inactive flag. Sessions revoked on deactivation stay
// revoked.
func (s *Service) Activate(
	ctx context.Context,
	targetID string,
) (*StatusChange, error) {
	user, err := s.repo.SetActive(ctx, targetID, true, s.clock.Now())
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user activated", "user_id", targetID)

	return &StatusChange{User: ToUserResponse(user)}, nil
}

func (s *Service) DeleteUser(
	ctx context.Context,
	requesterID, targetID string,
) error {
	if err := s.canManage(ctx, requesterID, targetID); err != nil {
		return err
	}
	return s.deleteAndRevoke(ctx, targetID)
}

func (s *Service) ListUsers(
	ctx context.Context,
	params ListUsersParams,
) ([]User, int, error) {
	return s.repo.List(ctx, params)
}

func (s *Service) Counts(ctx context.Context) (Counts, error) {
	return s.repo.Counts(ctx)
}

func (s *Service) GetMe(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, fmt.Errorf("get me: %w", core.ErrUnauthorized)
	}

	return s.repo.GetByID(ctx, userID)
}

func (s *Service) UpdateMe(
	ctx context.Context,
	userID string,
	req UpdateUserRequest,
) (*User, error) {
	if userID == "" {
		return nil, fmt.Errorf("update me: %w", core.ErrUnauthorized)
	}

	return s.UpdateUser(ctx, userID, req)
}

func (s *Service) DeleteMe(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("delete me: %w", core.ErrUnauthorized)
	}

	return s.deleteAndRevoke(ctx, userID)
}

func (s *Service) deleteAndRevoke(ctx context.Context, userID string) error {
	if err := s.repo.SoftDelete(ctx, userID); err != nil {
		return err
	}

	revoked, err := s.sessions.RevokeUserSessions(ctx, userID, auth.ReasonDeleted)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	s.logger.InfoContext(ctx, "user deleted",
		"user_id", userID,
		"revoked_sessions", revoked,
	)
	return nil
}

// canManage rejects acting on yourself and on other admins.
func (s *Service) canManage(
	ctx context.Context,
	requesterID, targetID string,
) error {
	if requesterID == targetID {
		return fmt.Errorf("manage user: self: %w", core.ErrForbidden)
	}

	target, err := s.repo.GetByID(ctx, targetID)
	if err != nil {
		return err
	}

	if target.IsAdmin() {
		return fmt.Errorf("manage user: target is admin: %w", core.ErrForbidden)
	}

	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func toUserInfo(u *User) *auth.UserInfo {
	return &auth.UserInfo{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
	}
}

var (
	_ auth.UserProvider = (*Service)(nil)
	_ SessionRevoker    = (*auth.Revoker)(nil)
)

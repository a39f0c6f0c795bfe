// AngelaMos | 2026
// service.go

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/carterperez-dev/goldsave/internal/core"
)

const (
	// maxSecretAttempts bounds regeneration after a secret collision.
	maxSecretAttempts = 3
	maxSecretLength   = 256
	tokenTypeBearer   = "Bearer"
)

type UserInfo struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
}

type UserProvider interface {
	GetByEmail(ctx context.Context, email string) (*UserInfo, error)
	GetByID(ctx context.Context, id string) (*UserInfo, error)
	Create(
		ctx context.Context,
		email, passwordHash, name string,
	) (*UserInfo, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

type ServiceConfig struct {
	Repo     Repository
	Codec    *TokenCodec
	Users    UserProvider
	Detector *Detector
	Revoker  *Revoker
	Metrics  *Metrics
	Clock    core.Clock
	Logger   *slog.Logger
}

// Service is the session manager. It owns every flow that creates, rotates
// or ends a session.
type Service struct {
	repo     Repository
	codec    *TokenCodec
	users    UserProvider
	detector *Detector
	revoker  *Revoker
	metrics  *Metrics
	clock    core.Clock
	logger   *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		repo:     cfg.Repo,
		codec:    cfg.Codec,
		users:    cfg.Users,
		detector: cfg.Detector,
		revoker:  cfg.Revoker,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
	if s.clock == nil {
		s.clock = core.SystemClock{}
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.revoker == nil {
		s.revoker = NewRevoker(s.repo, s.clock, s.metrics, s.logger)
	}
	return s
}

// SignUp creates the user and its first session.
func (s *Service) SignUp(
	ctx context.Context,
	req SignUpRequest,
	meta ClientMeta,
) (*AuthResponse, error) {
	ctx, span := core.StartSpan(ctx, "auth.signup")
	defer span.End()

	passwordHash, err := core.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, req.Email, passwordHash, req.Name)
	if err != nil {
		if errors.Is(err, core.ErrDuplicateKey) {
			return nil, ErrEmailExists
		}
		core.SetSpanError(ctx, err)
		return nil, fmt.Errorf("create user: %w", err)
	}

	now := s.clock.Now()
	session := &Session{
		UserID:     user.ID,
		DeviceInfo: req.Device.toDeviceInfo(),
		SecurityInfo: SecurityInfo{
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
			LastUsedAt: now,
			UsageCount: 1,
		},
	}

	secret, err := s.issueSession(ctx, s.repo, session, maxSecretAttempts)
	if err != nil {
		core.SetSpanError(ctx, err)
		return nil, err
	}

	s.metrics.sessionIssued(flowSignUp)
	s.logger.InfoContext(ctx, "user signed up",
		"user_id", user.ID,
		"session_id", session.ID,
		"platform", session.DeviceInfo.Platform,
	)

	return s.authResponse(user, secret, "")
}

// SignIn verifies credentials, runs the anomaly heuristics against the
// sessions as they are before this sign-in, replaces any usable session on
// the same device and issues a new one.
func (s *Service) SignIn(
	ctx context.Context,
	req SignInRequest,
	meta ClientMeta,
) (*AuthResponse, error) {
	ctx, span := core.StartSpan(ctx, "auth.signin")
	defer span.End()

	user, err := retryRead(ctx, func() (*UserInfo, error) {
		return s.users.GetByEmail(ctx, req.Email)
	})
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			//nolint:errcheck // timing attack prevention - always verify to prevent enumeration
			_, _, _ = core.VerifyPasswordTimingSafe(req.Password, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	valid, newHash, err := core.VerifyPasswordTimingSafe(
		req.Password,
		&user.PasswordHash,
	)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !valid {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountDeactivated
	}

	if newHash != "" {
		if err := s.users.UpdatePassword(ctx, user.ID, newHash); err != nil {
			s.logger.WarnContext(ctx, "password rehash failed",
				"user_id", user.ID,
				"error", err,
			)
		}
	}

	device := req.Device.toDeviceInfo()

	verdict, err := s.detector.Evaluate(ctx, user.ID, device)
	if err != nil {
		core.SetSpanError(ctx, err)
		return nil, err
	}

	if err := s.revokeDeviceSessions(ctx, user.ID, device.DeviceID); err != nil {
		core.SetSpanError(ctx, err)
		return nil, err
	}

	now := s.clock.Now()
	session := &Session{
		UserID:     user.ID,
		DeviceInfo: device,
		SecurityInfo: SecurityInfo{
			IPAddress:          meta.IPAddress,
			UserAgent:          meta.UserAgent,
			LastUsedAt:         now,
			UsageCount:         1,
			SuspiciousActivity: verdict.Suspicious,
		},
	}

	secret, err := s.issueSession(ctx, s.repo, session, maxSecretAttempts)
	if err != nil {
		core.SetSpanError(ctx, err)
		return nil, err
	}

	s.metrics.sessionIssued(flowSignIn)

	var warning string
	if verdict.Suspicious {
		warning = suspiciousSignInWarning
		s.metrics.suspiciousSignIn()
		core.AddSpanEvent(ctx, "suspicious_signin",
			attribute.Int("active_sessions", verdict.ActiveSessions),
			attribute.Int("recent_devices", verdict.RecentDevices),
		)
		s.logger.WarnContext(ctx, "suspicious sign-in",
			"user_id", user.ID,
			"session_id", session.ID,
			"device_id", device.DeviceID,
			"active_sessions", verdict.ActiveSessions,
			"recent_devices", verdict.RecentDevices,
			"new_device", verdict.NewDevice,
		)
	}

	return s.authResponse(user, secret, warning)
}

// revokeDeviceSessions enforces one usable session per user and device.
func (s *Service) revokeDeviceSessions(
	ctx context.Context,
	userID, deviceID string,
) error {
	sessions, err := retryRead(ctx, func() ([]Session, error) {
		return s.repo.FindByDeviceAndUser(ctx, userID, deviceID)
	})
	if err != nil {
		return fmt.Errorf("find device sessions: %w", err)
	}

	now := s.clock.Now()
	var revoked int64
	for _, existing := range sessions {
		if !existing.IsUsable(now) {
			continue
		}
		changed, err := s.repo.Revoke(ctx, existing.ID, now)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("revoke device session: %w", err)
		}
		if changed {
			revoked++
		}
	}

	s.metrics.sessionsRevoked(ReasonSameDevice, revoked)
	return nil
}

// Refresh trades a refresh secret for a new session. The old session is
// marked rotated and the new one created in one transaction, so a secret
// can be redeemed at most once.
func (s *Service) Refresh(
	ctx context.Context,
	secret string,
	meta ClientMeta,
) (*AuthResponse, error) {
	ctx, span := core.StartSpan(ctx, "auth.refresh")
	defer span.End()

	secret = strings.TrimSpace(secret)
	if secret == "" || len(secret) > maxSecretLength {
		return nil, ErrInvalidRefreshToken
	}

	old, err := retryRead(ctx, func() (*Session, error) {
		return s.repo.FindBySecretHash(ctx, core.HashToken(secret))
	})
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("find session: %w", err)
	}

	if old.IsRevoked {
		if old.ReplacedByToken != nil {
			s.logger.WarnContext(ctx, "rotated refresh secret presented",
				"user_id", old.UserID,
				"session_id", old.ID,
			)
		}
		return nil, ErrInvalidRefreshToken
	}

	now := s.clock.Now()
	if old.IsExpired(now) {
		return nil, ErrRefreshTokenExpired
	}

	user, err := retryRead(ctx, func() (*UserInfo, error) {
		return s.users.GetByID(ctx, old.UserID)
	})
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrUserInactive
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	touched := old.SecurityInfo
	touched.LastUsedAt = now
	touched.UsageCount++
	if meta.IPAddress != "" {
		touched.IPAddress = meta.IPAddress
	}

	next := &Session{
		UserID:     old.UserID,
		DeviceInfo: old.DeviceInfo,
		SecurityInfo: SecurityInfo{
			IPAddress:          touched.IPAddress,
			UserAgent:          old.SecurityInfo.UserAgent,
			LastUsedAt:         now,
			UsageCount:         0,
			SuspiciousActivity: old.SecurityInfo.SuspiciousActivity,
		},
	}

	var newSecret string
	err = s.repo.WithinTx(ctx, func(tx Repository) error {
		plain, hash, err := s.codec.IssueRefreshSecret()
		if err != nil {
			return err
		}

		current := *old
		current.SecurityInfo = touched
		if err := tx.Update(ctx, &current); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return ErrInvalidRefreshToken
			}
			return err
		}

		if err := tx.MarkRotated(ctx, old.ID, hash, now); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return ErrInvalidRefreshToken
			}
			return err
		}

		next.RefreshSecretHash = hash
		next.CreatedAt = now
		next.ExpiresAt = s.codec.RefreshExpiry()
		if err := tx.Create(ctx, next); err != nil {
			return err
		}

		newSecret = plain
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrInvalidRefreshToken) {
			core.SetSpanError(ctx, err)
		}
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	s.metrics.sessionIssued(flowRotate)
	s.metrics.sessionRotated()
	s.logger.DebugContext(ctx, "session rotated",
		"user_id", user.ID,
		"old_session_id", old.ID,
		"session_id", next.ID,
	)

	return s.authResponse(user, newSecret, "")
}

// Logout revokes the session that owns secret. Unknown and already revoked
// secrets succeed silently. A non-empty userID must own the session.
func (s *Service) Logout(ctx context.Context, userID, secret string) error {
	ctx, span := core.StartSpan(ctx, "auth.logout")
	defer span.End()

	secret = strings.TrimSpace(secret)
	if secret == "" || len(secret) > maxSecretLength {
		return nil
	}

	session, err := retryRead(ctx, func() (*Session, error) {
		return s.repo.FindBySecretHash(ctx, core.HashToken(secret))
	})
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find session: %w", err)
	}

	if userID != "" && session.UserID != userID {
		return fmt.Errorf("logout: %w", core.ErrForbidden)
	}
	if session.IsRevoked {
		return nil
	}

	changed, err := s.repo.Revoke(ctx, session.ID, s.clock.Now())
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("revoke session: %w", err)
	}

	if changed {
		s.metrics.sessionsRevoked(ReasonLogout, 1)
	}
	return nil
}

func (s *Service) LogoutAll(ctx context.Context, userID string) (int64, error) {
	return s.revoker.RevokeUserSessions(ctx, userID, ReasonLogoutAll)
}

// ListSessions returns the user's usable sessions, newest first.
func (s *Service) ListSessions(
	ctx context.Context,
	userID string,
) ([]SessionInfo, error) {
	now := s.clock.Now()

	sessions, err := retryRead(ctx, func() ([]Session, error) {
		return s.repo.FindActiveByUser(ctx, userID, now)
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, toSessionInfo(session, now))
	}
	return out, nil
}

// RevokeSession ends one session by id. Unless override is set the caller
// must own it.
func (s *Service) RevokeSession(
	ctx context.Context,
	callerID, sessionID string,
	override bool,
) error {
	session, err := retryRead(ctx, func() (*Session, error) {
		return s.repo.FindByID(ctx, sessionID)
	})
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}

	if !override && session.UserID != callerID {
		return fmt.Errorf("revoke session: %w", core.ErrForbidden)
	}
	if session.IsRevoked {
		return nil
	}

	changed, err := s.repo.Revoke(ctx, sessionID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if !changed {
		return nil
	}

	reason := ReasonExplicit
	if override {
		reason = ReasonAdmin
	}
	s.metrics.sessionsRevoked(reason, 1)
	s.logger.InfoContext(ctx, "session revoked",
		"session_id", sessionID,
		"user_id", session.UserID,
		"reason", reason,
	)

	return nil
}

// ChangePassword replaces the password and ends every session, including
// the caller's.
func (s *Service) ChangePassword(
	ctx context.Context,
	userID, currentPassword, newPassword string,
) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	valid, _, err := core.VerifyPasswordWithRehash(
		currentPassword,
		user.PasswordHash,
	)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !valid {
		return ErrInvalidCredentials
	}

	newHash, err := core.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, userID, newHash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if _, err := s.revoker.RevokeUserSessions(ctx, userID, ReasonPasswordChange); err != nil {
		return err
	}

	return nil
}

// Validate confirms that the user behind an access token still exists and
// is active.
func (s *Service) Validate(
	ctx context.Context,
	userID string,
) (*UserResponse, error) {
	user, err := retryRead(ctx, func() (*UserInfo, error) {
		return s.users.GetByID(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrUserInactive
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	resp := toUserResponse(user)
	return &resp, nil
}

// issueSession stores session under a fresh refresh secret and returns the
// plain secret. A collision is retried with a new secret up to attempts
// times; inside a transaction attempts must be 1.
func (s *Service) issueSession(
	ctx context.Context,
	repo Repository,
	session *Session,
	attempts int,
) (string, error) {
	now := s.clock.Now()
	session.CreatedAt = now
	session.ExpiresAt = s.codec.RefreshExpiry()
	session.IsRevoked = false
	session.RevokedAt = nil
	session.ReplacedByToken = nil

	var lastErr error
	for range attempts {
		secret, hash, err := s.codec.IssueRefreshSecret()
		if err != nil {
			return "", err
		}
		session.RefreshSecretHash = hash

		err = repo.Create(ctx, session)
		if err == nil {
			return secret, nil
		}
		if !errors.Is(err, ErrDuplicateSecret) {
			return "", fmt.Errorf("store session: %w", err)
		}
		lastErr = err
		s.logger.WarnContext(ctx, "refresh secret collision, regenerating",
			"user_id", session.UserID,
		)
	}

	return "", fmt.Errorf("store session: %w", lastErr)
}

func (s *Service) authResponse(
	user *UserInfo,
	refreshSecret, warning string,
) (*AuthResponse, error) {
	accessToken, expiresAt, err := s.codec.IssueAccessToken(AccessTokenClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	return &AuthResponse{
		User: toUserResponse(user),
		Tokens: TokenResponse{
			AccessToken:  accessToken,
			RefreshToken: refreshSecret,
			TokenType:    tokenTypeBearer,
			ExpiresIn:    int(s.codec.AccessTokenTTL().Seconds()),
			ExpiresAt:    expiresAt,
		},
		Warning: warning,
	}, nil
}

func toUserResponse(user *UserInfo) UserResponse {
	return UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		IsActive:  user.IsActive,
		CreatedAt: user.CreatedAt,
	}
}

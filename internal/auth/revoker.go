// AngelaMos | 2026
// revoker.go

package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/carterperez-dev/goldsave/internal/core"
)

// Revoker ends every usable session of a user. It is shared by the auth
// service and the user service so account state changes can cascade to
// sessions without the two services depending on each other.
type Revoker struct {
	repo    Repository
	clock   core.Clock
	metrics *Metrics
	logger  *slog.Logger
}

func NewRevoker(
	repo Repository,
	clock core.Clock,
	metrics *Metrics,
	logger *slog.Logger,
) *Revoker {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Revoker{
		repo:    repo,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
	}
}

// RevokeUserSessions revokes all usable sessions of userID and returns how
// many were revoked. Running it twice revokes nothing the second time.
func (r *Revoker) RevokeUserSessions(
	ctx context.Context,
	userID, reason string,
) (int64, error) {
	ctx, span := core.StartSpan(ctx, "auth.revoke_user_sessions")
	defer span.End()

	n, err := r.repo.RevokeAllActiveForUser(ctx, userID, r.clock.Now())
	if err != nil {
		core.SetSpanError(ctx, err)
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}

	r.metrics.sessionsRevoked(reason, n)
	if n > 0 {
		r.logger.InfoContext(ctx, "sessions revoked",
			"user_id", userID,
			"reason", reason,
			"count", n,
		)
	}

	return n, nil
}

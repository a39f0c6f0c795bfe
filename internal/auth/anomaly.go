// AngelaMos | 2026
// anomaly.go

package auth

import (
	"context"
	"fmt"

	"github.com/carterperez-dev/goldsave/internal/config"
	"github.com/carterperez-dev/goldsave/internal/core"
)

const suspiciousSignInWarning = "Unusual sign-in activity detected on your account. " +
	"If this wasn't you, review your active sessions and sign out of unknown devices."

// Verdict explains which rule fired, if any.
type Verdict struct {
	Suspicious     bool
	ActiveSessions int
	RecentDevices  int
	TooManyActive  bool
	TooManyDevices bool
	NewDevice      bool
}

// Detector flags sign-ins that look unusual. It is advisory: a positive
// verdict marks the new session and produces a warning, it never blocks.
type Detector struct {
	repo   Repository
	policy config.AnomalyConfig
	clock  core.Clock
}

func NewDetector(
	repo Repository,
	policy config.AnomalyConfig,
	clock core.Clock,
) *Detector {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Detector{repo: repo, policy: policy, clock: clock}
}

// Evaluate applies both rules against the user's sessions as they are
// before the new session is created:
//
//   - more than MaxActiveSessions usable sessions, or
//   - more than MaxRecentDevices distinct device ids among sessions created
//     within RecentWindow, revoked or not.
//
// NewDevice is informational only and reports whether device has no usable
// session yet.
func (d *Detector) Evaluate(
	ctx context.Context,
	userID string,
	device DeviceInfo,
) (Verdict, error) {
	now := d.clock.Now()

	active, err := retryRead(ctx, func() ([]Session, error) {
		return d.repo.FindActiveByUser(ctx, userID, now)
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("anomaly active sessions: %w", err)
	}

	recent, err := retryRead(ctx, func() ([]Session, error) {
		return d.repo.FindCreatedSince(ctx, userID, now.Add(-d.policy.RecentWindow))
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("anomaly recent sessions: %w", err)
	}

	devices := make(map[string]struct{}, len(recent))
	for _, s := range recent {
		devices[s.DeviceInfo.DeviceID] = struct{}{}
	}

	v := Verdict{
		ActiveSessions: len(active),
		RecentDevices:  len(devices),
		NewDevice:      true,
	}
	for _, s := range active {
		if s.DeviceInfo.DeviceID == device.DeviceID {
			v.NewDevice = false
			break
		}
	}
	v.TooManyActive = v.ActiveSessions > d.policy.MaxActiveSessions
	v.TooManyDevices = v.RecentDevices > d.policy.MaxRecentDevices
	v.Suspicious = v.TooManyActive || v.TooManyDevices

	return v, nil
}

func (d *Detector) IsSuspicious(
	ctx context.Context,
	userID string,
	device DeviceInfo,
) (bool, error) {
	v, err := d.Evaluate(ctx, userID, device)
	if err != nil {
		return false, err
	}
	return v.Suspicious, nil
}

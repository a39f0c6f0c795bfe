// AngelaMos | 2026
// janitor.go

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carterperez-dev/goldsave/internal/config"
	"github.com/carterperez-dev/goldsave/internal/core"
)

// Janitor periodically deletes sessions that expired more than Grace ago.
// Revoked sessions inside their window are kept so reuse of a rotated
// secret can still be recognised.
type Janitor struct {
	repo    Repository
	cfg     config.SessionConfig
	clock   core.Clock
	metrics *Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewJanitor(
	repo Repository,
	cfg config.SessionConfig,
	clock core.Clock,
	metrics *Metrics,
	logger *slog.Logger,
) *Janitor {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		repo:    repo,
		cfg:     cfg,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
	}
}

// RunOnce performs a single purge and returns the number of rows deleted.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	ctx, span := core.StartSpan(ctx, "auth.janitor.purge")
	defer span.End()

	cutoff := j.clock.Now().Add(-j.cfg.CleanupGrace)

	n, err := j.repo.DeleteExpired(ctx, cutoff)
	if err != nil {
		core.SetSpanError(ctx, err)
		return 0, fmt.Errorf("purge expired sessions: %w", err)
	}

	j.metrics.sessionsPurged(n)
	if n > 0 {
		j.logger.InfoContext(ctx, "expired sessions purged",
			"count", n,
			"cutoff", cutoff,
		)
	}
	return n, nil
}

// Start launches the purge loop. Calling Start on a running janitor is a
// no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})

	go j.loop(ctx, j.done)
}

// Stop ends the loop and waits for an in-flight purge to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (j *Janitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
				j.logger.ErrorContext(ctx, "session purge failed", "error", err)
			}
		}
	}
}

package worker

import (
	"context"
	"time"

	"github.com/ignite/mail-pipeline/internal/pkg/distlock"
	"github.com/ignite/mail-pipeline/internal/pkg/logger"
)

// =============================================================================
// QUEUE JANITOR: Retention and Stalled Job Recovery
// =============================================================================
// If a worker crashes mid-send, its job stays in the active list forever.
// The janitor periodically returns such jobs to the waiting list, or to the
// failed set once their attempts are spent, and deletes finished jobs past
// their retention window. Only one process runs a pass at a time.

const (
	// DefaultJanitorInterval is how often a pass runs.
	DefaultJanitorInterval = time.Minute

	// DefaultStalledAfter is how long a job can stay reserved before its
	// worker is presumed dead. Keep it well above the provider timeout.
	DefaultStalledAfter = 5 * time.Minute
)

// Maintainer is the broker surface the janitor needs.
type Maintainer interface {
	Trim(ctx context.Context) (int, error)
	RecoverStalled(ctx context.Context, olderThan time.Duration) (requeued, failed int, err error)
}

// Janitor enforces retention and recovers stalled jobs.
type Janitor struct {
	queue        Maintainer
	lock         distlock.DistLock
	interval     time.Duration
	stalledAfter time.Duration
}

// NewJanitor creates a janitor. lock may be nil when only one worker
// process exists.
func NewJanitor(q Maintainer, lock distlock.DistLock, interval, stalledAfter time.Duration) *Janitor {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	if stalledAfter <= 0 {
		stalledAfter = DefaultStalledAfter
	}
	return &Janitor{queue: q, lock: lock, interval: interval, stalledAfter: stalledAfter}
}

// Start runs passes until ctx is cancelled.
func (j *Janitor) Start(ctx context.Context) {
	logger.Info("queue janitor starting", "interval", j.interval, "stalled_after", j.stalledAfter)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("queue janitor stopping")
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				logger.Warn("queue janitor lock failed", "error", err)
			}
		}
	}
}

// RunOnce performs one pass if this process wins the lock. It reports
// whether the pass ran.
func (j *Janitor) RunOnce(ctx context.Context) (bool, error) {
	if j.lock == nil {
		j.pass(ctx)
		return true, nil
	}
	return distlock.Run(ctx, j.lock, j.pass)
}

func (j *Janitor) pass(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	requeued, failed, err := j.queue.RecoverStalled(passCtx, j.stalledAfter)
	if err != nil {
		logger.Error("stalled job recovery failed", "error", err)
	} else if requeued > 0 || failed > 0 {
		logger.Warn("recovered stalled jobs", "requeued", requeued, "failed", failed)
	}

	removed, err := j.queue.Trim(passCtx)
	if err != nil {
		logger.Error("queue retention trim failed", "error", err)
	} else if removed > 0 {
		logger.Info("trimmed finished jobs", "removed", removed)
	}
}

package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/pkg/logger"
)

// Queue is the broker side of cancellation and stats.
type Queue interface {
	Cancel(ctx context.Context, jobID string) (bool, error)
	GetStats(ctx context.Context) domain.QueueStats
}

// Records reads the tracking store.
type Records interface {
	List(ctx context.Context, f domain.ListFilter) ([]domain.EmailRecord, int, error)
	CountByStatus(ctx context.Context) (map[domain.EmailStatus]int64, error)
}

// Stats is the admin dashboard snapshot.
type Stats struct {
	Queue     domain.QueueStats               `json:"queue"`
	Emails    map[domain.EmailStatus]int64    `json:"emails"`
	Scheduled map[domain.ScheduledState]int64 `json:"scheduled"`
}

// Service implements the admin operations.
type Service struct {
	queue   Queue
	repo    Repository
	records Records
}

// NewService creates the admin service.
func NewService(q Queue, repo Repository, records Records) *Service {
	return &Service{queue: q, repo: repo, records: records}
}

// Cancel withdraws the scheduled send whose broker job is jobID. The job is
// removed from the broker first; the row is marked cancelled only after the
// broker confirms. It reports false, without mutating anything, when the row
// is unknown, no longer scheduled, or already picked up by a worker.
func (s *Service) Cancel(ctx context.Context, jobID string) (bool, error) {
	row, err := s.repo.GetByJobID(ctx, jobID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load scheduled email: %w", err)
	}
	if !row.IsCancellable() {
		return false, nil
	}

	removed, err := s.queue.Cancel(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	if !removed {
		logger.Info("scheduled email already picked up, not cancelled", "job_id", jobID)
		return false, nil
	}

	if _, err := s.repo.MarkCancelled(ctx, jobID); err != nil {
		// The job is gone from the broker, so it will not send. Report success
		// and leave the stale row for an operator.
		logger.Error("scheduled email cancelled in queue but row not updated",
			"job_id", jobID, "error", err)
	}
	logger.Info("scheduled email cancelled", "job_id", jobID, "recipient", row.Recipient)
	return true, nil
}

// CancelScheduled resolves a ScheduledEmail by its own id and cancels it.
// Returns ErrNotFound for unknown ids and ErrNotCancellable when the send
// can no longer be withdrawn.
func (s *Service) CancelScheduled(ctx context.Context, id string) error {
	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !row.IsCancellable() {
		return fmt.Errorf("%w: state is %s", ErrNotCancellable, row.State)
	}
	ok, err := s.Cancel(ctx, row.JobID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: already dispatched", ErrNotCancellable)
	}
	return nil
}

// Stats combines broker counts, tracked emails by status and scheduled sends
// by state.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	emails, err := s.records.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count emails: %w", err)
	}
	scheduled, err := s.repo.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("count scheduled: %w", err)
	}
	for _, st := range []domain.ScheduledState{
		domain.ScheduledPending, domain.ScheduledSent, domain.ScheduledCancelled, domain.ScheduledFailed,
	} {
		if _, ok := scheduled[st]; !ok {
			scheduled[st] = 0
		}
	}
	return &Stats{Queue: s.queue.GetStats(ctx), Emails: emails, Scheduled: scheduled}, nil
}

// ListScheduled pages through scheduled sends. f.Status filters by state.
func (s *Service) ListScheduled(ctx context.Context, f domain.ListFilter) ([]domain.ScheduledEmail, int, error) {
	if f.Status != "" && !validState(domain.ScheduledState(f.Status)) {
		return nil, 0, fmt.Errorf("%w: unknown state %q", ErrInvalidFilter, f.Status)
	}
	return s.repo.List(ctx, f)
}

// ListRecords pages through tracked emails.
func (s *Service) ListRecords(ctx context.Context, f domain.ListFilter) ([]domain.EmailRecord, int, error) {
	if f.Status != "" && !domain.EmailStatus(f.Status).Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, f.Status)
	}
	return s.records.List(ctx, f)
}

func validState(st domain.ScheduledState) bool {
	switch st {
	case domain.ScheduledPending, domain.ScheduledSent, domain.ScheduledCancelled, domain.ScheduledFailed:
		return true
	}
	return false
}

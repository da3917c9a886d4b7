package scheduler

import (
	"context"

	"github.com/ignite/mail-pipeline/internal/domain"
)

// Repository defines the data access contract for scheduled emails.
type Repository interface {
	Create(ctx context.Context, s *domain.ScheduledEmail) error

	// GetByID and GetByJobID return ErrNotFound when no row matches.
	GetByID(ctx context.Context, id string) (*domain.ScheduledEmail, error)
	GetByJobID(ctx context.Context, jobID string) (*domain.ScheduledEmail, error)

	// The Mark* methods move a row out of the scheduled state. Each is
	// conditional on the row still being scheduled and reports whether it
	// changed.
	MarkCancelled(ctx context.Context, jobID string) (bool, error)
	MarkSent(ctx context.Context, jobID string) (bool, error)
	MarkFailed(ctx context.Context, jobID string) (bool, error)

	List(ctx context.Context, f domain.ListFilter) ([]domain.ScheduledEmail, int, error)
	CountByState(ctx context.Context) (map[domain.ScheduledState]int64, error)
}

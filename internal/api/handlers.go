package api

import (
	"context"
	"net/http"

	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/queue"
	"github.com/ignite/mail-pipeline/internal/scheduler"
)

// Preferences is the unsubscribe-page side of the preference service.
type Preferences interface {
	GetByToken(ctx context.Context, token string) (*domain.EmailPreferences, error)
	UpdatePreferences(ctx context.Context, token string, upd domain.PreferenceUpdate) (*domain.EmailPreferences, error)
	UnsubscribeAll(ctx context.Context, token string) (*domain.EmailPreferences, error)
}

// Admin is the scheduler admin surface.
type Admin interface {
	Stats(ctx context.Context) (*scheduler.Stats, error)
	ListScheduled(ctx context.Context, f domain.ListFilter) ([]domain.ScheduledEmail, int, error)
	ListRecords(ctx context.Context, f domain.ListFilter) ([]domain.EmailRecord, int, error)
	CancelScheduled(ctx context.Context, id string) error
}

// Enqueuer accepts send requests from internal callers.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *domain.SendRequest) queue.Result
}

// Handlers holds the collaborators the routes call into. Any of them may be
// nil, in which case the matching routes are not mounted.
type Handlers struct {
	Webhook     http.Handler
	Preferences Preferences
	Admin       Admin
	Enqueuer    Enqueuer
	Health      *HealthChecker
}

package preferences

import (
	"context"

	"github.com/ignite/mail-pipeline/internal/domain"
)

// Repository defines the data access contract for email preferences.
type Repository interface {
	// GetByIdentity returns the row for a user or client. Returns ErrNotFound
	// if none exists.
	GetByIdentity(ctx context.Context, id domain.Identity) (*domain.EmailPreferences, error)

	// GetByToken returns the row owning the unsubscribe token. Returns
	// ErrNotFound if the token is unknown.
	GetByToken(ctx context.Context, token string) (*domain.EmailPreferences, error)

	// Create inserts p. If a row for the same identity already exists the
	// existing row is returned unchanged (idempotent under races).
	Create(ctx context.Context, p *domain.EmailPreferences) (*domain.EmailPreferences, error)

	// UpdateToggles persists the four toggles of p, located by its token.
	UpdateToggles(ctx context.Context, p *domain.EmailPreferences) error
}

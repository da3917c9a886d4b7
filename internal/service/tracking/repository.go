package tracking

import (
	"context"

	"github.com/ignite/mail-pipeline/internal/domain"
)

// Repository defines the data access contract for email tracking.
type Repository interface {
	// InsertRecord stores rec keyed by ProviderMessageID. If a row with the
	// same provider id exists, it is returned and created is false.
	InsertRecord(ctx context.Context, rec *domain.EmailRecord) (stored *domain.EmailRecord, created bool, err error)

	// GetByProviderID returns ErrNotFound when no row matches.
	GetByProviderID(ctx context.Context, providerMessageID string) (*domain.EmailRecord, error)

	// InsertEvent appends ev. Returns false if an identical event (same
	// record, type and occurred_at) was already logged.
	InsertEvent(ctx context.Context, ev *domain.EmailEvent) (bool, error)

	// CompareAndSetStatus sets status to `to` only if it currently equals
	// `from`. Returns whether the row changed.
	CompareAndSetStatus(ctx context.Context, recordID string, from, to domain.EmailStatus) (bool, error)

	// ListRecords returns one page of records and the total matching count.
	ListRecords(ctx context.Context, f domain.ListFilter) ([]domain.EmailRecord, int, error)

	// CountByStatus returns the number of records per status.
	CountByStatus(ctx context.Context) (map[domain.EmailStatus]int64, error)
}

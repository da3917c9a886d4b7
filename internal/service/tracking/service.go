package tracking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/pkg/logger"
)

// maxCASAttempts bounds the status compare-and-swap loop. Each retry re-reads
// the record, so the loop only spins while other writers keep winning.
const maxCASAttempts = 5

// Event is one provider callback resolved to the pipeline's vocabulary.
type Event struct {
	ProviderMessageID string
	EventType         string             // provider vocabulary, logged verbatim
	Status            domain.EmailStatus // empty: log only
	Payload           json.RawMessage
	OccurredAt        time.Time
}

// Outcome describes what ApplyEvent did.
type Outcome struct {
	Tracked       bool               `json:"tracked"`
	EventLogged   bool               `json:"event_logged"`
	StatusChanged bool               `json:"status_changed"`
	Status        domain.EmailStatus `json:"status,omitempty"`
}

// Service implements tracking business logic.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a tracking service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Record persists the EmailRecord for an accepted send. Calling it again for
// the same provider message id returns the existing row.
func (s *Service) Record(ctx context.Context, req *domain.SendRequest, res *domain.SendResult) (*domain.EmailRecord, error) {
	if res == nil || strings.TrimSpace(res.MessageID) == "" {
		return nil, ErrMissingMessage
	}
	rec := domain.NewEmailRecord(req, res)
	stored, created, err := s.repo.InsertRecord(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("insert email record: %w", err)
	}
	if !created {
		logger.Debug("email record already exists", "provider_message_id", res.MessageID)
	}
	return stored, nil
}

// ApplyEvent logs ev against its record and advances the record's status
// when the rank rule allows. Unknown message ids are reported as
// Outcome{Tracked: false} with a nil error.
func (s *Service) ApplyEvent(ctx context.Context, ev Event) (Outcome, error) {
	if ev.ProviderMessageID == "" {
		return Outcome{}, ErrMissingMessage
	}
	if ev.Status != "" && !ev.Status.Valid() {
		return Outcome{}, ErrInvalidStatus
	}

	rec, err := s.repo.GetByProviderID(ctx, ev.ProviderMessageID)
	if errors.Is(err, ErrNotFound) {
		logger.Info("webhook for untracked message", "provider_message_id", ev.ProviderMessageID, "event_type", ev.EventType)
		return Outcome{}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup email record: %w", err)
	}

	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = s.now().UTC()
	}
	logged, err := s.repo.InsertEvent(ctx, &domain.EmailEvent{
		EmailRecordID: rec.ID,
		EventType:     ev.EventType,
		Payload:       payload,
		OccurredAt:    occurred,
		DedupeKey:     dedupeKey(ev.OccurredAt, payload),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("insert email event: %w", err)
	}

	out := Outcome{Tracked: true, EventLogged: logged, Status: rec.Status}
	if ev.Status == "" {
		return out, nil
	}

	changed, final, err := s.advance(ctx, rec, ev.Status)
	if err != nil {
		return out, err
	}
	out.StatusChanged = changed
	out.Status = final
	if changed {
		logger.Info("email status advanced", "email_record_id", rec.ID, "status", final, "event_type", ev.EventType)
	}
	return out, nil
}

// dedupeKey identifies a redelivery of the same event. The provider's
// timestamp is used when present; otherwise the payload bytes.
func dedupeKey(occurredAt time.Time, payload []byte) string {
	if !occurredAt.IsZero() {
		return "at:" + occurredAt.UTC().Format("2006-01-02T15:04:05.000000Z")
	}
	sum := sha256.Sum256(payload)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func (s *Service) advance(ctx context.Context, rec *domain.EmailRecord, to domain.EmailStatus) (bool, domain.EmailStatus, error) {
	current := rec.Status
	for i := 0; i < maxCASAttempts; i++ {
		if !domain.CanTransition(current, to) {
			return false, current, nil
		}
		ok, err := s.repo.CompareAndSetStatus(ctx, rec.ID, current, to)
		if err != nil {
			return false, current, fmt.Errorf("update email status: %w", err)
		}
		if ok {
			return true, to, nil
		}
		fresh, err := s.repo.GetByProviderID(ctx, rec.ProviderMessageID)
		if err != nil {
			return false, current, fmt.Errorf("reload email record: %w", err)
		}
		current = fresh.Status
	}
	return false, current, fmt.Errorf("update email status: gave up after %d concurrent changes", maxCASAttempts)
}

// GetByProviderID returns the record for a provider message id.
func (s *Service) GetByProviderID(ctx context.Context, id string) (*domain.EmailRecord, error) {
	return s.repo.GetByProviderID(ctx, id)
}

// List returns a page of records.
func (s *Service) List(ctx context.Context, f domain.ListFilter) ([]domain.EmailRecord, int, error) {
	if f.Status != "" && !domain.EmailStatus(f.Status).Valid() {
		return nil, 0, ErrInvalidStatus
	}
	return s.repo.ListRecords(ctx, f)
}

// CountByStatus returns record counts for every status, including zeros.
func (s *Service) CountByStatus(ctx context.Context) (map[domain.EmailStatus]int64, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.EmailStatus]int64, len(domain.AllStatuses))
	for _, st := range domain.AllStatuses {
		out[st] = counts[st]
	}
	return out, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/service/tracking"
)

// TrackingRepo implements tracking.Repository against PostgreSQL.
type TrackingRepo struct{ db *sql.DB }

// NewTrackingRepo creates a Postgres-backed tracking repository.
func NewTrackingRepo(db *sql.DB) *TrackingRepo { return &TrackingRepo{db: db} }

const recordColumns = `id, provider_message_id, recipient, subject, email_type, user_id, client_id, status, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (*domain.EmailRecord, error) {
	var rec domain.EmailRecord
	var userID, clientID sql.NullString
	if err := row.Scan(&rec.ID, &rec.ProviderMessageID, &rec.Recipient, &rec.Subject,
		&rec.EmailType, &userID, &clientID, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.UserID = userID.String
	rec.ClientID = clientID.String
	return &rec, nil
}

func (r *TrackingRepo) InsertRecord(ctx context.Context, rec *domain.EmailRecord) (*domain.EmailRecord, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO email_records (id, provider_message_id, recipient, subject, email_type, user_id, client_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (provider_message_id) DO NOTHING
		RETURNING created_at, updated_at
	`, rec.ID, rec.ProviderMessageID, rec.Recipient, rec.Subject, rec.EmailType,
		nullString(rec.UserID), nullString(rec.ClientID), rec.Status,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		existing, gerr := r.GetByProviderID(ctx, rec.ProviderMessageID)
		if gerr != nil {
			return nil, false, gerr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert email record: %w", err)
	}
	return rec, true, nil
}

func (r *TrackingRepo) GetByProviderID(ctx context.Context, providerMessageID string) (*domain.EmailRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM email_records WHERE provider_message_id = $1`,
		providerMessageID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tracking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email record: %w", err)
	}
	return rec, nil
}

func (r *TrackingRepo) InsertEvent(ctx context.Context, ev *domain.EmailEvent) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO email_events (id, email_record_id, event_type, payload, occurred_at, dedupe_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (email_record_id, event_type, dedupe_key) DO NOTHING
	`, ev.ID, ev.EmailRecordID, ev.EventType, []byte(ev.Payload), ev.OccurredAt, ev.DedupeKey)
	if err != nil {
		return false, fmt.Errorf("insert email event: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *TrackingRepo) CompareAndSetStatus(ctx context.Context, recordID string, from, to domain.EmailStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE email_records SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		recordID, from, to,
	)
	if err != nil {
		return false, fmt.Errorf("update email status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *TrackingRepo) ListRecords(ctx context.Context, f domain.ListFilter) ([]domain.EmailRecord, int, error) {
	where, args := whereClause([2]string{"status", f.Status}, [2]string{"email_type", f.EmailType})

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM email_records `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count email records: %w", err)
	}

	limit, offset := pageArgs(f.Limit, f.Offset)
	n := len(args)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM email_records %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		recordColumns, where, n+1, n+2,
	), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list email records: %w", err)
	}
	defer rows.Close()

	out := make([]domain.EmailRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan email record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, total, rows.Err()
}

func (r *TrackingRepo) CountByStatus(ctx context.Context) (map[domain.EmailStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM email_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.EmailStatus]int64)
	for rows.Next() {
		var st domain.EmailStatus
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/scheduler"
)

// ScheduledRepo implements scheduler.Repository against PostgreSQL.
type ScheduledRepo struct{ db *sql.DB }

// NewScheduledRepo creates a Postgres-backed scheduled email repository.
func NewScheduledRepo(db *sql.DB) *ScheduledRepo { return &ScheduledRepo{db: db} }

const scheduledColumns = `id, job_id, recipient, subject, email_type, scheduled_for, state, created_at, updated_at`

func scanScheduled(row interface{ Scan(...any) error }) (*domain.ScheduledEmail, error) {
	var s domain.ScheduledEmail
	if err := row.Scan(&s.ID, &s.JobID, &s.Recipient, &s.Subject, &s.EmailType,
		&s.ScheduledFor, &s.State, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *ScheduledRepo) Create(ctx context.Context, s *domain.ScheduledEmail) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.State == "" {
		s.State = domain.ScheduledPending
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO scheduled_emails (id, job_id, recipient, subject, email_type, scheduled_for, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`, s.ID, s.JobID, s.Recipient, s.Subject, s.EmailType, s.ScheduledFor, s.State,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create scheduled email: %w", err)
	}
	return nil
}

func (r *ScheduledRepo) get(ctx context.Context, col, val string) (*domain.ScheduledEmail, error) {
	s, err := scanScheduled(r.db.QueryRowContext(ctx,
		`SELECT `+scheduledColumns+` FROM scheduled_emails WHERE `+col+` = $1`, val,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, scheduler.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled email: %w", err)
	}
	return s, nil
}

func (r *ScheduledRepo) GetByID(ctx context.Context, id string) (*domain.ScheduledEmail, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, scheduler.ErrNotFound
	}
	return r.get(ctx, "id", id)
}

func (r *ScheduledRepo) GetByJobID(ctx context.Context, jobID string) (*domain.ScheduledEmail, error) {
	return r.get(ctx, "job_id", jobID)
}

func (r *ScheduledRepo) transition(ctx context.Context, jobID string, to domain.ScheduledState) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_emails SET state = $2, updated_at = NOW() WHERE job_id = $1 AND state = $3`,
		jobID, to, domain.ScheduledPending,
	)
	if err != nil {
		return false, fmt.Errorf("mark scheduled email %s: %w", to, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *ScheduledRepo) MarkCancelled(ctx context.Context, jobID string) (bool, error) {
	return r.transition(ctx, jobID, domain.ScheduledCancelled)
}

func (r *ScheduledRepo) MarkSent(ctx context.Context, jobID string) (bool, error) {
	return r.transition(ctx, jobID, domain.ScheduledSent)
}

func (r *ScheduledRepo) MarkFailed(ctx context.Context, jobID string) (bool, error) {
	return r.transition(ctx, jobID, domain.ScheduledFailed)
}

func (r *ScheduledRepo) List(ctx context.Context, f domain.ListFilter) ([]domain.ScheduledEmail, int, error) {
	where, args := whereClause([2]string{"state", f.Status}, [2]string{"email_type", f.EmailType})

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduled_emails `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count scheduled emails: %w", err)
	}

	limit, offset := pageArgs(f.Limit, f.Offset)
	n := len(args)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM scheduled_emails %s ORDER BY scheduled_for ASC LIMIT $%d OFFSET $%d`,
		scheduledColumns, where, n+1, n+2,
	), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list scheduled emails: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ScheduledEmail, 0, limit)
	for rows.Next() {
		s, err := scanScheduled(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan scheduled email: %w", err)
		}
		out = append(out, *s)
	}
	return out, total, rows.Err()
}

func (r *ScheduledRepo) CountByState(ctx context.Context) (map[domain.ScheduledState]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM scheduled_emails GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.ScheduledState]int64)
	for rows.Next() {
		var st domain.ScheduledState
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/service/preferences"
)

// PreferencesRepo implements preferences.Repository against PostgreSQL.
type PreferencesRepo struct{ db *sql.DB }

// NewPreferencesRepo creates a Postgres-backed preferences repository.
func NewPreferencesRepo(db *sql.DB) *PreferencesRepo { return &PreferencesRepo{db: db} }

const preferenceColumns = `id, user_id, client_id, marketing, notifications, job_alerts, quote_updates, unsubscribe_token, created_at, updated_at`

func scanPreferences(row interface{ Scan(...any) error }) (*domain.EmailPreferences, error) {
	var p domain.EmailPreferences
	var userID, clientID sql.NullString
	if err := row.Scan(&p.ID, &userID, &clientID, &p.Marketing, &p.Notifications,
		&p.JobAlerts, &p.QuoteUpdates, &p.UnsubscribeToken, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.UserID = userID.String
	p.ClientID = clientID.String
	return &p, nil
}

func (r *PreferencesRepo) GetByIdentity(ctx context.Context, id domain.Identity) (*domain.EmailPreferences, error) {
	col := "user_id"
	if id.Kind == domain.IdentityClient {
		col = "client_id"
	}
	p, err := scanPreferences(r.db.QueryRowContext(ctx,
		`SELECT `+preferenceColumns+` FROM email_preferences WHERE `+col+` = $1`, id.ID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, preferences.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences by identity: %w", err)
	}
	return p, nil
}

func (r *PreferencesRepo) GetByToken(ctx context.Context, token string) (*domain.EmailPreferences, error) {
	p, err := scanPreferences(r.db.QueryRowContext(ctx,
		`SELECT `+preferenceColumns+` FROM email_preferences WHERE unsubscribe_token = $1`, token,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, preferences.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences by token: %w", err)
	}
	return p, nil
}

func (r *PreferencesRepo) Create(ctx context.Context, p *domain.EmailPreferences) (*domain.EmailPreferences, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO email_preferences (id, user_id, client_id, marketing, notifications, job_alerts, quote_updates, unsubscribe_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT DO NOTHING
		RETURNING created_at, updated_at
	`, p.ID, nullString(p.UserID), nullString(p.ClientID), p.Marketing, p.Notifications,
		p.JobAlerts, p.QuoteUpdates, p.UnsubscribeToken,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// lost a race with another request for the same identity
		id := domain.Identity{Kind: domain.IdentityUser, ID: p.UserID}
		if p.UserID == "" {
			id = domain.Identity{Kind: domain.IdentityClient, ID: p.ClientID}
		}
		return r.GetByIdentity(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("create preferences: %w", err)
	}
	return p, nil
}

func (r *PreferencesRepo) UpdateToggles(ctx context.Context, p *domain.EmailPreferences) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_preferences
		SET marketing = $1, notifications = $2, job_alerts = $3, quote_updates = $4, updated_at = NOW()
		WHERE unsubscribe_token = $5
	`, p.Marketing, p.Notifications, p.JobAlerts, p.QuoteUpdates, p.UnsubscribeToken)
	if err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return preferences.ErrNotFound
	}
	return nil
}

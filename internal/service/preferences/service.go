package preferences

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/metrics"
	"github.com/ignite/mail-pipeline/internal/pkg/logger"
)

// Service implements preference lookups and token-authorised updates. It is
// safe for concurrent use.
type Service struct {
	repo Repository
}

// NewService creates a preferences service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CanSend decides whether an email of type t may go to identity id.
//
// Transactional types always pass. Without an identity, or before the
// recipient has a preferences row, the send is permitted. A failed lookup
// also permits the send: the pipeline prefers delivering a notification to
// silently dropping it.
func (s *Service) CanSend(ctx context.Context, t domain.EmailType, id domain.Identity) bool {
	if t.Class() == domain.ClassTransactional || id.IsZero() {
		return true
	}

	p, err := s.repo.GetByIdentity(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return true
	}
	if err != nil {
		metrics.PreferenceFailOpen.Inc()
		logger.Warn("preference lookup failed, permitting send",
			"email_type", t, "identity_kind", id.Kind, "identity_id", id.ID, "error", err)
		return true
	}
	return p.Allows(t)
}

// GetOrCreate returns the recipient's preferences, provisioning a row with
// every toggle enabled on first use.
func (s *Service) GetOrCreate(ctx context.Context, id domain.Identity) (*domain.EmailPreferences, error) {
	if id.IsZero() || (id.Kind != domain.IdentityUser && id.Kind != domain.IdentityClient) {
		return nil, ErrInvalidIdentity
	}

	p, err := s.repo.GetByIdentity(ctx, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	p = &domain.EmailPreferences{
		Marketing:        true,
		Notifications:    true,
		JobAlerts:        true,
		QuoteUpdates:     true,
		UnsubscribeToken: token,
	}
	if id.Kind == domain.IdentityUser {
		p.UserID = id.ID
	} else {
		p.ClientID = id.ID
	}
	return s.repo.Create(ctx, p)
}

// GetByToken returns the preferences owning token.
func (s *Service) GetByToken(ctx context.Context, token string) (*domain.EmailPreferences, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNotFound
	}
	return s.repo.GetByToken(ctx, token)
}

// UnsubscribeAll turns off every non-transactional category.
func (s *Service) UnsubscribeAll(ctx context.Context, token string) (*domain.EmailPreferences, error) {
	off := false
	return s.UpdatePreferences(ctx, token, domain.PreferenceUpdate{
		Marketing:     &off,
		Notifications: &off,
		JobAlerts:     &off,
		QuoteUpdates:  &off,
	})
}

// UpdatePreferences applies a partial toggle change.
func (s *Service) UpdatePreferences(ctx context.Context, token string, upd domain.PreferenceUpdate) (*domain.EmailPreferences, error) {
	p, err := s.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if upd.IsEmpty() {
		return p, nil
	}
	upd.Apply(p)
	if err := s.repo.UpdateToggles(ctx, p); err != nil {
		return nil, fmt.Errorf("update preferences: %w", err)
	}
	logger.Info("email preferences updated", "preferences_id", p.ID,
		"marketing", p.Marketing, "notifications", p.Notifications,
		"job_alerts", p.JobAlerts, "quote_updates", p.QuoteUpdates)
	return p, nil
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate unsubscribe token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

package preferences

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/metrics"
)

// mockRepo is an in-memory repository for testing.
type mockRepo struct {
	mu      sync.Mutex
	byToken map[string]*domain.EmailPreferences
	lookErr error
	creates int
}

func newMockRepo() *mockRepo {
	return &mockRepo{byToken: make(map[string]*domain.EmailPreferences)}
}

func (m *mockRepo) GetByIdentity(_ context.Context, id domain.Identity) (*domain.EmailPreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookErr != nil {
		return nil, m.lookErr
	}
	for _, p := range m.byToken {
		if (id.Kind == domain.IdentityUser && p.UserID == id.ID) ||
			(id.Kind == domain.IdentityClient && p.ClientID == id.ID) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) GetByToken(_ context.Context, token string) (*domain.EmailPreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) Create(_ context.Context, p *domain.EmailPreferences) (*domain.EmailPreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	p.ID = "pref-" + p.UserID + p.ClientID
	cp := *p
	m.byToken[p.UnsubscribeToken] = &cp
	return p, nil
}

func (m *mockRepo) UpdateToggles(_ context.Context, p *domain.EmailPreferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byToken[p.UnsubscribeToken]; !ok {
		return ErrNotFound
	}
	cp := *p
	m.byToken[p.UnsubscribeToken] = &cp
	return nil
}

var (
	user1   = domain.Identity{Kind: domain.IdentityUser, ID: "u1"}
	client1 = domain.Identity{Kind: domain.IdentityClient, ID: "c1"}
)

func TestCanSend_TransactionalAlwaysAllowed(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	p, err := svc.GetOrCreate(ctx, user1)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := svc.UnsubscribeAll(ctx, p.UnsubscribeToken); err != nil {
		t.Fatalf("UnsubscribeAll: %v", err)
	}

	for _, typ := range []domain.EmailType{domain.TypeVerification, domain.TypePasswordReset, domain.TypeWelcome, "", "something_new"} {
		if !svc.CanSend(ctx, typ, user1) {
			t.Errorf("expected %q to be sendable after full unsubscribe", typ)
		}
	}
}

func TestCanSend_NoIdentityOrNoRow(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	if !svc.CanSend(ctx, domain.TypeMarketing, domain.Identity{}) {
		t.Error("expected send without identity to be allowed")
	}
	if !svc.CanSend(ctx, domain.TypeMarketing, client1) {
		t.Error("expected send before preferences exist to be allowed")
	}
}

func TestCanSend_RespectsCategoryToggles(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	p, _ := svc.GetOrCreate(ctx, client1)
	off := false
	if _, err := svc.UpdatePreferences(ctx, p.UnsubscribeToken, domain.PreferenceUpdate{JobAlerts: &off}); err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}

	if svc.CanSend(ctx, domain.TypeJobAlert, client1) {
		t.Error("job_alert should be suppressed")
	}
	if !svc.CanSend(ctx, domain.TypeQuoteUpdate, client1) {
		t.Error("quote_update should still be allowed")
	}
	if !svc.CanSend(ctx, domain.TypeApplicationUpdate, client1) {
		t.Error("application_update follows notifications and should be allowed")
	}

	if _, err := svc.UpdatePreferences(ctx, p.UnsubscribeToken, domain.PreferenceUpdate{Marketing: &off}); err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	if svc.CanSend(ctx, domain.TypeNewsletter, client1) {
		t.Error("newsletter should be suppressed with marketing off")
	}
}

func TestCanSend_LookupErrorFailsOpen(t *testing.T) {
	repo := newMockRepo()
	repo.lookErr = errors.New("connection refused")
	svc := NewService(repo)

	before := testutil.ToFloat64(metrics.PreferenceFailOpen)
	if !svc.CanSend(context.Background(), domain.TypeMarketing, user1) {
		t.Error("expected lookup failure to permit the send")
	}
	if got := testutil.ToFloat64(metrics.PreferenceFailOpen); got != before+1 {
		t.Errorf("expected fail-open counter to increase by 1, got %v -> %v", before, got)
	}
}

func TestGetOrCreate_ProvisionsOnce(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	first, err := svc.GetOrCreate(ctx, user1)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !first.Marketing || !first.Notifications || !first.JobAlerts || !first.QuoteUpdates {
		t.Error("new preferences should enable every toggle")
	}
	if len(first.UnsubscribeToken) != 64 {
		t.Errorf("expected 64-char hex token, got %d chars", len(first.UnsubscribeToken))
	}

	second, err := svc.GetOrCreate(ctx, user1)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if second.UnsubscribeToken != first.UnsubscribeToken {
		t.Error("expected the same row on second call")
	}
	if repo.creates != 1 {
		t.Errorf("expected 1 create, got %d", repo.creates)
	}
}

func TestGetOrCreate_RejectsZeroIdentity(t *testing.T) {
	svc := NewService(newMockRepo())
	if _, err := svc.GetOrCreate(context.Background(), domain.Identity{}); !errors.Is(err, ErrInvalidIdentity) {
		t.Errorf("expected ErrInvalidIdentity, got %v", err)
	}
}

func TestUpdatePreferences_PartialLeavesOthers(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	p, _ := svc.GetOrCreate(ctx, user1)
	off := false
	got, err := svc.UpdatePreferences(ctx, p.UnsubscribeToken, domain.PreferenceUpdate{Marketing: &off})
	if err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	if got.Marketing {
		t.Error("marketing should be off")
	}
	if !got.Notifications || !got.JobAlerts || !got.QuoteUpdates {
		t.Error("other toggles should be untouched")
	}
}

func TestUnsubscribeAll_UnknownToken(t *testing.T) {
	svc := NewService(newMockRepo())
	if _, err := svc.UnsubscribeAll(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.GetByToken(context.Background(), "  "); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for blank token, got %v", err)
	}
}

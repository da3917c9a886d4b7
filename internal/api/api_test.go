package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mail-pipeline/internal/config"
	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/queue"
	"github.com/ignite/mail-pipeline/internal/scheduler"
	"github.com/ignite/mail-pipeline/internal/service/preferences"
)

const goodToken = "tok-123"

// MockPreferences keeps one preference row keyed by goodToken.
type MockPreferences struct {
	prefs domain.EmailPreferences
	err   error
}

func newMockPreferences() *MockPreferences {
	return &MockPreferences{prefs: domain.EmailPreferences{
		ID: "p1", UserID: "u1", Marketing: true, Notifications: true, JobAlerts: true, QuoteUpdates: true,
		UnsubscribeToken: goodToken,
	}}
}

func (m *MockPreferences) lookup(token string) (*domain.EmailPreferences, error) {
	if m.err != nil {
		return nil, m.err
	}
	if token != goodToken {
		return nil, preferences.ErrNotFound
	}
	return &m.prefs, nil
}

func (m *MockPreferences) GetByToken(_ context.Context, token string) (*domain.EmailPreferences, error) {
	return m.lookup(token)
}

func (m *MockPreferences) UpdatePreferences(_ context.Context, token string, upd domain.PreferenceUpdate) (*domain.EmailPreferences, error) {
	p, err := m.lookup(token)
	if err != nil {
		return nil, err
	}
	upd.Apply(p)
	return p, nil
}

func (m *MockPreferences) UnsubscribeAll(ctx context.Context, token string) (*domain.EmailPreferences, error) {
	off := false
	return m.UpdatePreferences(ctx, token, domain.PreferenceUpdate{
		Marketing: &off, Notifications: &off, JobAlerts: &off, QuoteUpdates: &off,
	})
}

// MockAdmin records the last filter and cancel id.
type MockAdmin struct {
	lastFilter domain.ListFilter
	cancelErr  error
	cancelled  []string
}

func (m *MockAdmin) Stats(context.Context) (*scheduler.Stats, error) {
	return &scheduler.Stats{
		Queue:     domain.QueueStats{Delayed: 2, Available: true},
		Emails:    map[domain.EmailStatus]int64{domain.StatusDelivered: 5},
		Scheduled: map[domain.ScheduledState]int64{domain.ScheduledPending: 2},
	}, nil
}

func (m *MockAdmin) ListScheduled(_ context.Context, f domain.ListFilter) ([]domain.ScheduledEmail, int, error) {
	m.lastFilter = f
	if f.Status == "bogus" {
		return nil, 0, scheduler.ErrInvalidFilter
	}
	return []domain.ScheduledEmail{{ID: "s1", JobID: "j1", State: domain.ScheduledPending}}, 120, nil
}

func (m *MockAdmin) ListRecords(_ context.Context, f domain.ListFilter) ([]domain.EmailRecord, int, error) {
	m.lastFilter = f
	return nil, 0, nil
}

func (m *MockAdmin) CancelScheduled(_ context.Context, id string) error {
	m.cancelled = append(m.cancelled, id)
	return m.cancelErr
}

type MockEnqueuer struct {
	got    []*domain.SendRequest
	result queue.Result
}

func (m *MockEnqueuer) Enqueue(_ context.Context, req *domain.SendRequest) queue.Result {
	m.got = append(m.got, req)
	return m.result
}

type testEnv struct {
	handler http.Handler
	prefs   *MockPreferences
	admin   *MockAdmin
	enq     *MockEnqueuer
	webhook *int
}

func setupTestServer(t *testing.T, adminToken string) *testEnv {
	t.Helper()
	hits := 0
	env := &testEnv{
		prefs:   newMockPreferences(),
		admin:   &MockAdmin{},
		enq:     &MockEnqueuer{result: queue.Result{ID: "job-1", Success: true}},
		webhook: &hits,
	}
	h := &Handlers{
		Webhook: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits++
			respondJSON(w, http.StatusOK, map[string]bool{"received": true})
		}),
		Preferences: env.prefs,
		Admin:       env.admin,
		Enqueuer:    env.enq,
	}
	srv := NewServer(config.ServerConfig{Port: 0}, config.AdminConfig{Token: adminToken}, h)
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestServer(t, "")

	rec := env.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")

	rec = env.do(http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookRouteIsMounted(t *testing.T) {
	env := setupTestServer(t, "secret")
	rec := env.do(http.MethodPost, "/webhooks/email", []byte(`{}`), nil)
	assert.Equal(t, http.StatusOK, rec.Code, "webhook is not behind admin auth")
	assert.Equal(t, 1, *env.webhook)
}

func TestAdminAuth(t *testing.T) {
	env := setupTestServer(t, "s3cret")

	rec := env.do(http.MethodGet, "/admin/emails/stats", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/admin/emails/stats", nil, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/admin/emails/stats", nil, map[string]string{"Authorization": "Bearer s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)

	var got scheduler.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(2), got.Queue.Delayed)
	assert.Equal(t, int64(5), got.Emails[domain.StatusDelivered])
}

func TestListScheduled_Pagination(t *testing.T) {
	env := setupTestServer(t, "")

	rec := env.do(http.MethodGet, "/admin/emails/scheduled?status=scheduled&type=marketing&page=2&limit=50", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ListFilter{Status: "scheduled", EmailType: "marketing", Limit: 50, Offset: 50}, env.admin.lastFilter)

	var resp struct {
		Data       []domain.ScheduledEmail `json:"data"`
		Pagination PaginationMeta          `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 1)
	assert.Equal(t, PaginationMeta{Page: 2, Limit: 50, Total: 120, TotalPages: 3, HasMore: true}, resp.Pagination)

	rec = env.do(http.MethodGet, "/admin/emails/scheduled?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRecords_EmptyIsArray(t *testing.T) {
	env := setupTestServer(t, "")
	rec := env.do(http.MethodGet, "/admin/emails/records?limit=9999", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
	assert.Equal(t, maxPageSize, env.admin.lastFilter.Limit)
}

func TestCancelScheduled(t *testing.T) {
	env := setupTestServer(t, "")

	rec := env.do(http.MethodDelete, "/admin/emails/scheduled/s1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled":true}`, rec.Body.String())
	assert.Equal(t, []string{"s1"}, env.admin.cancelled)

	env.admin.cancelErr = scheduler.ErrNotCancellable
	rec = env.do(http.MethodDelete, "/admin/emails/scheduled/s1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.admin.cancelErr = scheduler.ErrNotFound
	rec = env.do(http.MethodDelete, "/admin/emails/scheduled/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.admin.cancelErr = errors.New("redis gone")
	rec = env.do(http.MethodDelete, "/admin/emails/scheduled/s1", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSend(t *testing.T) {
	env := setupTestServer(t, "")

	body := []byte(`{"to":"a@example.com","subject":"Hi","html":"<p>x</p>","emailType":"job_alert","userId":"u1"}`)
	rec := env.do(http.MethodPost, "/admin/emails/send", body, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, env.enq.got, 1)
	assert.Equal(t, domain.Recipients{"a@example.com"}, env.enq.got[0].To)
	assert.Equal(t, domain.TypeJobAlert, env.enq.got[0].EmailType)

	rec = env.do(http.MethodPost, "/admin/emails/send", []byte(`{"to":[],"subject":"Hi"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, env.enq.got, 1)

	env.enq.result = queue.Result{Error: "provider down"}
	rec = env.do(http.MethodPost, "/admin/emails/send", body, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestUnsubscribePage(t *testing.T) {
	env := setupTestServer(t, "")

	rec := env.do(http.MethodGet, "/unsubscribe/"+goodToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `name="job_alerts" value="on" checked`)

	rec = env.do(http.MethodGet, "/unsubscribe/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Link not recognised")
}

func TestUnsubscribeFormUpdate(t *testing.T) {
	env := setupTestServer(t, "")
	form := url.Values{"marketing": {"on"}, "quote_updates": {"on"}}

	req := httptest.NewRequest(http.MethodPost, "/unsubscribe/"+goodToken, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "saved")
	p := env.prefs.prefs
	assert.True(t, p.Marketing)
	assert.False(t, p.Notifications)
	assert.False(t, p.JobAlerts)
	assert.True(t, p.QuoteUpdates)
}

func TestUnsubscribeAllAction(t *testing.T) {
	env := setupTestServer(t, "")
	form := url.Values{"action": {"unsubscribe_all"}, "marketing": {"on"}}

	req := httptest.NewRequest(http.MethodPost, "/unsubscribe/"+goodToken, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	p := env.prefs.prefs
	assert.False(t, p.Marketing || p.Notifications || p.JobAlerts || p.QuoteUpdates)
}

func TestOneClickUnsubscribe(t *testing.T) {
	env := setupTestServer(t, "")

	rec := env.do(http.MethodPost, "/unsubscribe/"+goodToken+"/one-click", []byte("List-Unsubscribe=One-Click"),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsubscribed")
	assert.False(t, env.prefs.prefs.Marketing)

	env.prefs.err = errors.New("db down")
	rec = env.do(http.MethodPost, "/unsubscribe/"+goodToken+"/one-click", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Something went wrong")
}

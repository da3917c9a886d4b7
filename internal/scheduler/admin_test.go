package scheduler

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mail-pipeline/internal/config"
	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/queue"
	"github.com/ignite/mail-pipeline/internal/sender/sendertest"
)

// memRepo is an in-memory Repository.
type memRepo struct {
	mu        sync.Mutex
	rows      map[string]*domain.ScheduledEmail
	seq       int
	markErr   error
	cancelled int
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[string]*domain.ScheduledEmail)}
}

func (m *memRepo) Create(_ context.Context, s *domain.ScheduledEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	s.ID = "sched-" + strconv.Itoa(m.seq)
	if s.State == "" {
		s.State = domain.ScheduledPending
	}
	cp := *s
	m.rows[s.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id string) (*domain.ScheduledEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) GetByJobID(_ context.Context, jobID string) (*domain.ScheduledEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.JobID == jobID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepo) transition(jobID string, to domain.ScheduledState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.JobID == jobID && r.State == domain.ScheduledPending {
			r.State = to
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) MarkCancelled(_ context.Context, jobID string) (bool, error) {
	if m.markErr != nil {
		return false, m.markErr
	}
	ok, err := m.transition(jobID, domain.ScheduledCancelled)
	if ok {
		m.cancelled++
	}
	return ok, err
}

func (m *memRepo) MarkSent(_ context.Context, jobID string) (bool, error) {
	return m.transition(jobID, domain.ScheduledSent)
}

func (m *memRepo) MarkFailed(_ context.Context, jobID string) (bool, error) {
	return m.transition(jobID, domain.ScheduledFailed)
}

func (m *memRepo) List(_ context.Context, f domain.ListFilter) ([]domain.ScheduledEmail, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScheduledEmail
	for _, r := range m.rows {
		if f.Status == "" || string(r.State) == f.Status {
			out = append(out, *r)
		}
	}
	return out, len(out), nil
}

func (m *memRepo) CountByState(_ context.Context) (map[domain.ScheduledState]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[domain.ScheduledState]int64{}
	for _, r := range m.rows {
		out[r.State]++
	}
	return out, nil
}

type fakeRecords struct {
	counts map[domain.EmailStatus]int64
	err    error
	filter domain.ListFilter
}

func (f *fakeRecords) List(_ context.Context, filter domain.ListFilter) ([]domain.EmailRecord, int, error) {
	f.filter = filter
	return []domain.EmailRecord{{ProviderMessageID: "msg-1", Status: domain.StatusDelivered}}, 1, nil
}

func (f *fakeRecords) CountByStatus(context.Context) (map[domain.EmailStatus]int64, error) {
	return f.counts, f.err
}

type harness struct {
	svc     *Service
	repo    *memRepo
	manager *queue.Manager
	mr      *miniredis.Miniredis
}

func setup(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })

	repo := newMemRepo()
	m := queue.NewManager(
		config.QueueConfig{Enabled: true, Name: "admin-test", MaxAttempts: 3, BackoffBase: time.Second},
		queue.Deps{Redis: rdb, Sender: sendertest.New(), Scheduled: repo},
	)
	require.True(t, m.Initialize(context.Background()))

	records := &fakeRecords{counts: map[domain.EmailStatus]int64{domain.StatusSent: 2}}
	return &harness{svc: NewService(m, repo, records), repo: repo, manager: m, mr: mr}
}

func (h *harness) schedule(t *testing.T, in time.Duration) string {
	t.Helper()
	at := time.Now().Add(in)
	res := h.manager.Enqueue(context.Background(), &domain.SendRequest{
		To:          domain.Recipients{"a@example.com"},
		Subject:     "Your quote is ready",
		HTML:        "<p>quote</p>",
		EmailType:   domain.TypeQuoteUpdate,
		ScheduledAt: &at,
	})
	require.True(t, res.Success, res.Error)
	return res.ID
}

func TestCancel_ScheduledJob(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	jobID := h.schedule(t, time.Hour)

	stats, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Queue.Delayed)
	assert.Equal(t, int64(1), stats.Scheduled[domain.ScheduledPending])

	ok, err := h.svc.Cancel(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, ok)

	stats, err = h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Queue.Delayed)
	assert.Equal(t, int64(1), stats.Scheduled[domain.ScheduledCancelled])
	assert.Equal(t, int64(0), stats.Scheduled[domain.ScheduledPending])

	ok, err = h.svc.Cancel(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, ok, "second cancel must be a no-op")
	assert.Equal(t, 1, h.repo.cancelled)
}

func TestCancel_UnknownJob(t *testing.T) {
	h := setup(t)
	ok, err := h.svc.Cancel(context.Background(), "no-such-job")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancel_AlreadyReservedIsNotCancelled(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	jobID := h.schedule(t, -time.Second)
	require.NoError(t, h.repo.Create(ctx, &domain.ScheduledEmail{JobID: jobID, Recipient: "a@example.com"}))

	job, err := h.manager.Broker().Reserve(ctx)
	require.NoError(t, err)
	require.Equal(t, jobID, job.ID)

	ok, err := h.svc.Cancel(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, ok)

	row, err := h.repo.GetByJobID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduledPending, row.State, "row untouched when the broker refuses")
}

func TestCancel_BrokerErrorLeavesRow(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	jobID := h.schedule(t, time.Hour)

	h.mr.SetError("ERR broker offline")
	ok, err := h.svc.Cancel(ctx, jobID)
	assert.Error(t, err)
	assert.False(t, ok)
	h.mr.SetError("")

	row, err := h.repo.GetByJobID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduledPending, row.State)
}

func TestCancel_PersistFailureStillReportsCancelled(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	jobID := h.schedule(t, time.Hour)
	h.repo.markErr = errors.New("db down")

	ok, err := h.svc.Cancel(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, ok)

	stats, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Queue.Delayed)
}

func TestCancelScheduled(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	jobID := h.schedule(t, time.Hour)
	row, err := h.repo.GetByJobID(ctx, jobID)
	require.NoError(t, err)

	require.NoError(t, h.svc.CancelScheduled(ctx, row.ID))
	assert.ErrorIs(t, h.svc.CancelScheduled(ctx, row.ID), ErrNotCancellable)
	assert.ErrorIs(t, h.svc.CancelScheduled(ctx, "missing"), ErrNotFound)
}

func TestStats_FillsEveryState(t *testing.T) {
	h := setup(t)
	stats, err := h.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Queue.Available)
	assert.Equal(t, int64(2), stats.Emails[domain.StatusSent])
	assert.Len(t, stats.Scheduled, 4)
}

func TestStats_RecordError(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(queue.NewManager(config.QueueConfig{}, queue.Deps{Sender: sendertest.New()}), repo,
		&fakeRecords{err: errors.New("db down")})
	_, err := svc.Stats(context.Background())
	assert.Error(t, err)
}

func TestList_ValidatesFilters(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.schedule(t, time.Hour)

	rows, total, err := h.svc.ListScheduled(ctx, domain.ListFilter{Status: "scheduled", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, rows, 1)

	_, _, err = h.svc.ListScheduled(ctx, domain.ListFilter{Status: "teleported"})
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, _, err = h.svc.ListRecords(ctx, domain.ListFilter{Status: "lost"})
	assert.ErrorIs(t, err, ErrInvalidFilter)

	recs, total, err := h.svc.ListRecords(ctx, domain.ListFilter{Status: "delivered", EmailType: "quote_update"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, recs, 1)
}

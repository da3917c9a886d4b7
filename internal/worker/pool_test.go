package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/queue"
	"github.com/ignite/mail-pipeline/internal/sender/sendertest"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

type memRecorder struct {
	mu   sync.Mutex
	byID map[string]*domain.EmailRecord
	err  error
}

func newMemRecorder() *memRecorder {
	return &memRecorder{byID: make(map[string]*domain.EmailRecord)}
}

func (m *memRecorder) Record(_ context.Context, req *domain.SendRequest, res *domain.SendResult) (*domain.EmailRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if rec, ok := m.byID[res.MessageID]; ok {
		return rec, nil
	}
	rec := domain.NewEmailRecord(req, res)
	m.byID[res.MessageID] = rec
	return rec, nil
}

func (m *memRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type memMarker struct {
	mu     sync.Mutex
	sent   []string
	failed []string
}

func (m *memMarker) MarkSent(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, jobID)
	return true, nil
}

func (m *memMarker) MarkFailed(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, jobID)
	return true, nil
}

type harness struct {
	broker *queue.Broker
	clock  *clock
	sender *sendertest.Sender
	rec    *memRecorder
	marker *memMarker
	pool   *Pool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	_, rdb := setupTestRedis(t)
	clk := &clock{t: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	b := queue.NewBroker(rdb, queue.BrokerOptions{Name: "test", MaxAttempts: 3, BackoffBase: 2 * time.Second}).WithClock(clk.now)
	h := &harness{broker: b, clock: clk, sender: sendertest.New(), rec: newMemRecorder(), marker: &memMarker{}}
	h.pool = NewPool(Options{Concurrency: 2, PollInterval: 10 * time.Millisecond}, Deps{
		Queue:     b,
		Sender:    h.sender,
		Recorder:  h.rec,
		Scheduled: h.marker,
	})
	return h
}

func request(to string) *domain.SendRequest {
	return &domain.SendRequest{
		To:        domain.Recipients{to},
		Subject:   "New job alert",
		HTML:      "<p>jobs</p>",
		EmailType: domain.TypeJobAlert,
		ClientID:  "client-9",
	}
}

// drive processes jobs until the queue is idle, moving the clock past every
// backoff so retries become due.
func (h *harness) drive(t *testing.T) []Outcome {
	t.Helper()
	ctx := context.Background()
	var outcomes []Outcome
	for i := 0; i < 20; i++ {
		job, err := h.broker.Reserve(ctx)
		if errors.Is(err, queue.ErrNoJob) {
			h.clock.advance(time.Minute)
			n, err := h.broker.Promote(ctx)
			require.NoError(t, err)
			if n == 0 {
				return outcomes
			}
			continue
		}
		require.NoError(t, err)
		outcomes = append(outcomes, h.pool.Process(ctx, job))
	}
	t.Fatal("queue did not drain")
	return nil
}

func TestPool_ExactlyOneRecordAfterRetries(t *testing.T) {
	h := newHarness(t)
	h.sender.FailN = 2

	job, err := h.broker.Add(context.Background(), request("a@example.com"))
	require.NoError(t, err)

	outcomes := h.drive(t)
	assert.Equal(t, []Outcome{OutcomeRetry, OutcomeRetry, OutcomeCompleted}, outcomes)
	assert.Equal(t, 3, h.sender.Calls())
	assert.Equal(t, 1, h.rec.count(), "one tracking record per logical message")

	for _, k := range h.sender.IdempotencyKeys() {
		assert.Equal(t, job.ID, k)
	}

	stats, err := h.broker.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Completed)
	assert.EqualValues(t, 0, stats.Failed)
}

func TestPool_ExhaustedAttemptsFailTerminally(t *testing.T) {
	h := newHarness(t)
	h.sender.Err = errors.New("provider down")

	req := request("later@example.com")
	due := h.clock.now().Add(time.Minute)
	req.ScheduledAt = &due
	job, err := h.broker.Add(context.Background(), req)
	require.NoError(t, err)

	outcomes := h.drive(t)
	assert.Equal(t, []Outcome{OutcomeRetry, OutcomeRetry, OutcomeFailed}, outcomes)
	assert.Zero(t, h.rec.count())
	assert.Equal(t, []string{job.ID}, h.marker.failed)
	assert.Empty(t, h.marker.sent)

	stats, _ := h.broker.Stats(context.Background())
	assert.EqualValues(t, 1, stats.Failed)
}

func TestPool_ScheduledSuccessMarksSent(t *testing.T) {
	h := newHarness(t)

	req := request("later@example.com")
	due := h.clock.now().Add(30 * time.Second)
	req.ScheduledAt = &due
	job, err := h.broker.Add(context.Background(), req)
	require.NoError(t, err)

	outcomes := h.drive(t)
	assert.Equal(t, []Outcome{OutcomeCompleted}, outcomes)
	assert.Equal(t, []string{job.ID}, h.marker.sent)
}

func TestPool_TrackingFailureDoesNotResend(t *testing.T) {
	h := newHarness(t)
	h.rec.err = errors.New("db unavailable")

	_, err := h.broker.Add(context.Background(), request("a@example.com"))
	require.NoError(t, err)

	outcomes := h.drive(t)
	assert.Equal(t, []Outcome{OutcomeCompleted}, outcomes)
	assert.Equal(t, 1, h.sender.Calls())
}

func TestPool_StartStopDrainsQueue(t *testing.T) {
	_, rdb := setupTestRedis(t)
	b := queue.NewBroker(rdb, queue.BrokerOptions{Name: "live"})
	snd := sendertest.New()
	rec := newMemRecorder()
	pool := NewPool(Options{Concurrency: 3, PollInterval: 5 * time.Millisecond}, Deps{
		Queue:    b,
		Sender:   snd,
		Recorder: rec,
		Limiter:  NewLocalLimiter(1000),
	})

	ctx := context.Background()
	for _, to := range []string{"1@example.com", "2@example.com", "3@example.com", "4@example.com"} {
		_, err := b.Add(ctx, request(to))
		require.NoError(t, err)
	}

	pool.Start(ctx)
	require.Eventually(t, func() bool { return rec.count() == 4 }, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, pool.Stop(stopCtx))
	require.NoError(t, pool.Stop(stopCtx))
	assert.Equal(t, 4, snd.Calls())
}

// slowJanitor finishes a pass after its context is cancelled.
type slowJanitor struct {
	started  chan struct{}
	finished atomic.Bool
}

func (j *slowJanitor) Start(ctx context.Context) {
	close(j.started)
	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
	j.finished.Store(true)
}

func TestPool_StopWaitsForJanitor(t *testing.T) {
	_, rdb := setupTestRedis(t)
	janitor := &slowJanitor{started: make(chan struct{})}
	pool := NewPool(Options{Concurrency: 1, PollInterval: 5 * time.Millisecond}, Deps{
		Queue:   queue.NewBroker(rdb, queue.BrokerOptions{Name: "janitor"}),
		Sender:  sendertest.New(),
		Janitor: janitor,
	})

	pool.Start(context.Background())
	select {
	case <-janitor.started:
	case <-time.After(time.Second):
		t.Fatal("janitor was not started by the pool")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Stop(stopCtx))
	assert.True(t, janitor.finished.Load(), "Stop returned while the janitor was still running")
}

package queue

import (
	"context"
	"time"

	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/metrics"
	"github.com/ignite/mail-pipeline/internal/pkg/logger"
	"github.com/ignite/mail-pipeline/internal/sender"
)

// Result is what a caller gets back from an enqueue, whichever path served
// it. ID is the broker job id on the queued path and the provider message
// id on the direct path.
type Result struct {
	ID         string `json:"id"`
	Success    bool   `json:"success"`
	Suppressed bool   `json:"suppressed,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Dispatcher hands validated, permitted requests to a delivery path. A
// non-nil error means the path itself is unavailable; a send that was
// attempted and rejected is reported in the Result.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, req *domain.SendRequest) (Result, error)
	DispatchBulk(ctx context.Context, reqs []*domain.SendRequest) ([]Result, error)
}

// Recorder persists the tracking row for a send the provider accepted.
type Recorder interface {
	Record(ctx context.Context, req *domain.SendRequest, res *domain.SendResult) (*domain.EmailRecord, error)
}

// ScheduledStore persists delayed sends so they can be cancelled later.
type ScheduledStore interface {
	Create(ctx context.Context, s *domain.ScheduledEmail) error
	MarkCancelled(ctx context.Context, jobID string) (bool, error)
}

// =============================================================================
// DIRECT
// =============================================================================

// DirectDispatcher calls the provider synchronously in the caller's
// goroutine.
type DirectDispatcher struct {
	sender   sender.Sender
	recorder Recorder
	now      func() time.Time
}

// NewDirectDispatcher creates a synchronous dispatcher. recorder may be nil.
func NewDirectDispatcher(s sender.Sender, recorder Recorder) *DirectDispatcher {
	return &DirectDispatcher{sender: s, recorder: recorder, now: time.Now}
}

func (d *DirectDispatcher) Name() string { return "direct" }

func (d *DirectDispatcher) Dispatch(ctx context.Context, req *domain.SendRequest) (Result, error) {
	if req.Delay(d.now()) > 0 {
		logger.Warn("queue unavailable, scheduled email sent immediately",
			"to", req.PrimaryRecipient(), "scheduled_at", req.ScheduledAt)
	}

	start := time.Now()
	res, err := d.sender.Send(ctx, req)
	if err != nil {
		metrics.SendDuration.WithLabelValues(d.sender.Name(), "error").Observe(time.Since(start).Seconds())
		metrics.Dispatches.WithLabelValues(d.Name(), "error").Inc()
		logger.Error("direct send failed", "to", req.PrimaryRecipient(), "email_type", req.EmailType, "error", err)
		return Result{Error: err.Error()}, nil
	}
	metrics.SendDuration.WithLabelValues(d.sender.Name(), "ok").Observe(time.Since(start).Seconds())
	metrics.Dispatches.WithLabelValues(d.Name(), "ok").Inc()

	if d.recorder != nil {
		if _, err := d.recorder.Record(ctx, req, res); err != nil {
			logger.Error("email sent but tracking record failed",
				"provider_message_id", res.MessageID, "error", err)
		}
	}
	return Result{ID: res.MessageID, Success: true}, nil
}

// DispatchBulk sends each request in turn.
func (d *DirectDispatcher) DispatchBulk(ctx context.Context, reqs []*domain.SendRequest) ([]Result, error) {
	out := make([]Result, len(reqs))
	for i, req := range reqs {
		out[i], _ = d.Dispatch(ctx, req)
	}
	return out, nil
}

// =============================================================================
// QUEUED
// =============================================================================

// QueuedDispatcher hands requests to the broker for the worker pool.
type QueuedDispatcher struct {
	broker    *Broker
	scheduled ScheduledStore
}

// NewQueuedDispatcher creates a broker-backed dispatcher. scheduled may be
// nil, in which case delayed sends cannot be cancelled by id lookup.
func NewQueuedDispatcher(b *Broker, scheduled ScheduledStore) *QueuedDispatcher {
	return &QueuedDispatcher{broker: b, scheduled: scheduled}
}

func (d *QueuedDispatcher) Name() string { return "queued" }

func (d *QueuedDispatcher) Dispatch(ctx context.Context, req *domain.SendRequest) (Result, error) {
	out, err := d.DispatchBulk(ctx, []*domain.SendRequest{req})
	if err != nil {
		return Result{}, err
	}
	return out[0], nil
}

// DispatchBulk adds every request in one broker transaction. Scheduled rows
// are written before the jobs become visible, so a worker that picks a job
// up early always finds its row.
func (d *QueuedDispatcher) DispatchBulk(ctx context.Context, reqs []*domain.SendRequest) ([]Result, error) {
	jobs := d.broker.NewJobs(reqs)
	tracked := d.trackScheduled(ctx, jobs)
	if err := d.broker.Push(ctx, jobs); err != nil {
		d.untrack(ctx, tracked)
		return nil, err
	}

	out := make([]Result, len(jobs))
	for i, job := range jobs {
		out[i] = Result{ID: job.ID, Success: true}
	}
	metrics.Dispatches.WithLabelValues(d.Name(), "ok").Add(float64(len(jobs)))
	return out, nil
}

// trackScheduled records the delayed jobs and returns the ids it recorded.
func (d *QueuedDispatcher) trackScheduled(ctx context.Context, jobs []*domain.QueuedJob) []string {
	if d.scheduled == nil {
		return nil
	}
	var ids []string
	for _, job := range jobs {
		if job.State != domain.JobDelayed {
			continue
		}
		rec := &domain.ScheduledEmail{
			JobID:        job.ID,
			Recipient:    job.Request.PrimaryRecipient(),
			Subject:      job.Request.Subject,
			EmailType:    job.Request.EmailType,
			ScheduledFor: *job.Request.ScheduledAt,
			State:        domain.ScheduledPending,
		}
		if err := d.scheduled.Create(ctx, rec); err != nil {
			logger.Error("scheduled email not recorded", "job_id", job.ID, "error", err)
			continue
		}
		ids = append(ids, job.ID)
	}
	return ids
}

// untrack withdraws rows whose jobs never reached the broker.
func (d *QueuedDispatcher) untrack(ctx context.Context, ids []string) {
	for _, id := range ids {
		if _, err := d.scheduled.MarkCancelled(ctx, id); err != nil {
			logger.Error("orphaned scheduled email left pending", "job_id", id, "error", err)
		}
	}
}

// =============================================================================
// FALLBACK
// =============================================================================

// FallbackDispatcher tries primary and degrades to secondary for any call
// where primary reports itself unavailable.
type FallbackDispatcher struct {
	primary   Dispatcher
	secondary Dispatcher
}

// NewFallbackDispatcher composes two dispatchers.
func NewFallbackDispatcher(primary, secondary Dispatcher) *FallbackDispatcher {
	return &FallbackDispatcher{primary: primary, secondary: secondary}
}

func (d *FallbackDispatcher) Name() string { return d.primary.Name() }

func (d *FallbackDispatcher) Dispatch(ctx context.Context, req *domain.SendRequest) (Result, error) {
	r, err := d.primary.Dispatch(ctx, req)
	if err == nil {
		return r, nil
	}
	logger.Warn("broker enqueue failed, sending synchronously", "to", req.PrimaryRecipient(), "error", err)
	metrics.Dispatches.WithLabelValues("fallback", "degraded").Inc()
	return d.secondary.Dispatch(ctx, req)
}

func (d *FallbackDispatcher) DispatchBulk(ctx context.Context, reqs []*domain.SendRequest) ([]Result, error) {
	r, err := d.primary.DispatchBulk(ctx, reqs)
	if err == nil {
		return r, nil
	}
	logger.Warn("broker bulk enqueue failed, sending batch synchronously", "count", len(reqs), "error", err)
	metrics.Dispatches.WithLabelValues("fallback", "degraded").Add(float64(len(reqs)))
	return d.secondary.DispatchBulk(ctx, reqs)
}

package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/metrics"
	"github.com/ignite/mail-pipeline/internal/pkg/logger"
	"github.com/ignite/mail-pipeline/internal/queue"
	"github.com/ignite/mail-pipeline/internal/sender"
)

const (
	DefaultConcurrency  = 5
	DefaultPollInterval = 250 * time.Millisecond
	DefaultSendTimeout  = 30 * time.Second
)

// JobQueue is the broker surface the pool consumes.
type JobQueue interface {
	Reserve(ctx context.Context) (*domain.QueuedJob, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, job *domain.QueuedJob, cause error) (retry bool, delay time.Duration, err error)
	Promote(ctx context.Context) (int, error)
}

// ScheduledMarker moves a scheduled email out of the scheduled state.
type ScheduledMarker interface {
	MarkSent(ctx context.Context, jobID string) (bool, error)
	MarkFailed(ctx context.Context, jobID string) (bool, error)
}

// Background is a loop that runs beside the pull loops until the pool
// stops. Start must return once ctx is done.
type Background interface {
	Start(ctx context.Context)
}

// Options tunes the pool.
type Options struct {
	Concurrency  int
	PollInterval time.Duration
	SendTimeout  time.Duration
}

// Deps are the pool's collaborators. Limiter, Scheduled and Janitor are
// optional.
type Deps struct {
	Queue     JobQueue
	Sender    sender.Sender
	Limiter   Limiter
	Recorder  queue.Recorder
	Scheduled ScheduledMarker
	Janitor   Background
}

// Outcome is the result of processing one job.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRetry     Outcome = "retry"
	OutcomeFailed    Outcome = "failed"
)

// Pool pulls jobs from the broker and sends them.
type Pool struct {
	opts Options
	deps Deps

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPool creates a pool. Call Start to begin consuming.
func NewPool(opts Options, deps Deps) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	return &Pool{opts: opts, deps: deps}
}

// Start launches the pull loops, the delayed-job promoter and the janitor.
// It returns immediately.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	logger.Info("worker pool starting", "concurrency", p.opts.Concurrency,
		"poll_interval", p.opts.PollInterval, "provider", p.deps.Sender.Name())

	p.wg.Add(1)
	go p.promoteLoop(ctx)
	if p.deps.Janitor != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.deps.Janitor.Start(ctx)
		}()
	}
	for i := 0; i < p.opts.Concurrency; i++ {
		p.wg.Add(1)
		go p.pullLoop(ctx, i)
	}
}

// Stop signals every loop to exit and waits for in-flight jobs and any
// running janitor pass to finish, or for ctx to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("worker pool stop timed out with jobs in flight")
		return ctx.Err()
	}
}

func (p *Pool) pullLoop(ctx context.Context, id int) {
	defer p.wg.Done()
	for ctx.Err() == nil {
		found, err := p.ProcessNext(ctx)
		if err != nil {
			logger.Warn("worker reserve failed", "worker", id, "error", err)
		}
		if found {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(p.opts.PollInterval):
		}
	}
}

func (p *Pool) promoteLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.deps.Queue.Promote(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Warn("promote delayed jobs failed", "error", err)
			} else if n > 0 {
				logger.Debug("promoted delayed jobs", "count", n)
			}
		}
	}
}

// ProcessNext reserves and processes one job. It reports whether a job was
// found. Once reserved, a job runs to completion even if ctx is cancelled.
func (p *Pool) ProcessNext(ctx context.Context) (bool, error) {
	job, err := p.deps.Queue.Reserve(ctx)
	if errors.Is(err, queue.ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	p.Process(context.WithoutCancel(ctx), job)
	return true, nil
}

// Process sends one reserved job and reports the result to the broker.
func (p *Pool) Process(ctx context.Context, job *domain.QueuedJob) Outcome {
	req := &job.Request

	if p.deps.Limiter != nil {
		if err := p.deps.Limiter.Wait(ctx); err != nil {
			return p.fail(ctx, job, err)
		}
	}

	sendCtx, cancel := context.WithTimeout(sender.WithIdempotencyKey(ctx, job.ID), p.opts.SendTimeout)
	start := time.Now()
	res, err := p.deps.Sender.Send(sendCtx, req)
	cancel()
	if err != nil {
		metrics.SendDuration.WithLabelValues(p.deps.Sender.Name(), "error").Observe(time.Since(start).Seconds())
		return p.fail(ctx, job, err)
	}
	metrics.SendDuration.WithLabelValues(p.deps.Sender.Name(), "ok").Observe(time.Since(start).Seconds())

	// The provider has the message. Nothing below may cause a resend.
	if p.deps.Recorder != nil {
		if _, err := p.deps.Recorder.Record(ctx, req, res); err != nil {
			logger.Error("email sent but tracking record failed",
				"job_id", job.ID, "provider_message_id", res.MessageID, "error", err)
		}
	}
	if job.IsScheduled() && p.deps.Scheduled != nil {
		if _, err := p.deps.Scheduled.MarkSent(ctx, job.ID); err != nil {
			logger.Error("mark scheduled email sent failed", "job_id", job.ID, "error", err)
		}
	}
	if err := p.deps.Queue.Complete(ctx, job.ID); err != nil {
		logger.Error("complete job failed", "job_id", job.ID, "error", err)
	}

	metrics.WorkerJobs.WithLabelValues(string(OutcomeCompleted)).Inc()
	logger.Info("email sent", "job_id", job.ID, "attempt", job.Attempts,
		"provider_message_id", res.MessageID, "to", req.PrimaryRecipient(), "email_type", req.EmailType)
	return OutcomeCompleted
}

func (p *Pool) fail(ctx context.Context, job *domain.QueuedJob, cause error) Outcome {
	retry, delay, err := p.deps.Queue.Fail(ctx, job, cause)
	if err != nil {
		logger.Error("report job failure failed", "job_id", job.ID, "error", err, "cause", cause)
		return OutcomeRetry
	}
	if retry {
		metrics.WorkerJobs.WithLabelValues(string(OutcomeRetry)).Inc()
		logger.Warn("email send failed, will retry", "job_id", job.ID,
			"attempt", job.Attempts, "max_attempts", job.MaxAttempts, "retry_in", delay, "error", cause)
		return OutcomeRetry
	}

	metrics.WorkerJobs.WithLabelValues(string(OutcomeFailed)).Inc()
	logger.Error("email send failed permanently", "job_id", job.ID,
		"attempts", job.Attempts, "to", job.Request.PrimaryRecipient(), "error", cause)
	if job.IsScheduled() && p.deps.Scheduled != nil {
		if _, err := p.deps.Scheduled.MarkFailed(ctx, job.ID); err != nil {
			logger.Error("mark scheduled email failed", "job_id", job.ID, "error", err)
		}
	}
	return OutcomeFailed
}

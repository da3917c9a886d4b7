package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mail-pipeline/internal/config"
	"github.com/ignite/mail-pipeline/internal/domain"
)

const promoteBatch = 100

// BrokerOptions holds the retry and retention policy applied to every job.
type BrokerOptions struct {
	Name               string
	MaxAttempts        int
	BackoffBase        time.Duration
	KeepCompletedFor   time.Duration
	KeepCompletedCount int
	KeepFailedFor      time.Duration
}

// OptionsFromConfig maps queue configuration onto broker options.
func OptionsFromConfig(cfg config.QueueConfig) BrokerOptions {
	return BrokerOptions{
		Name:               cfg.Name,
		MaxAttempts:        cfg.MaxAttempts,
		BackoffBase:        cfg.BackoffBase,
		KeepCompletedFor:   cfg.KeepCompletedFor,
		KeepCompletedCount: cfg.KeepCompletedCount,
		KeepFailedFor:      cfg.KeepFailedFor,
	}
}

// Broker is a durable job queue on Redis. It is safe for concurrent use by
// any number of producers and consumers, across processes.
type Broker struct {
	rdb    *redis.Client
	opts   BrokerOptions
	prefix string
	now    func() time.Time
}

// NewBroker creates a broker on an existing Redis client. The client is
// shared and not closed by the broker.
func NewBroker(rdb *redis.Client, opts BrokerOptions) *Broker {
	if opts.Name == "" {
		opts.Name = "email"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	return &Broker{
		rdb:    rdb,
		opts:   opts,
		prefix: "mailpipe:queue:" + opts.Name,
		now:    time.Now,
	}
}

// WithClock replaces the broker's time source. Delays and retention are
// computed from it.
func (b *Broker) WithClock(now func() time.Time) *Broker {
	b.now = now
	return b
}

// Options returns the broker's effective policy.
func (b *Broker) Options() BrokerOptions { return b.opts }

func (b *Broker) key(name string) string { return b.prefix + ":" + name }

func (b *Broker) jobPrefix() string { return b.prefix + ":job:" }

func (b *Broker) jobKey(id string) string { return b.jobPrefix() + id }

func (b *Broker) nowMs() int64 { return b.now().UnixMilli() }

// Ping checks the Redis connection.
func (b *Broker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// BackoffFor returns the delay before retry number attempt (1-based):
// base·2^(attempt-1).
func (b *Broker) BackoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	bo := &backoff.Backoff{
		Min:    b.opts.BackoffBase,
		Max:    24 * time.Hour,
		Factor: 2,
		Jitter: false,
	}
	return bo.ForAttempt(float64(attempt - 1))
}

func (b *Broker) newJob(req *domain.SendRequest) *domain.QueuedJob {
	now := b.now()
	job := &domain.QueuedJob{
		ID:          uuid.New().String(),
		Request:     *req,
		MaxAttempts: b.opts.MaxAttempts,
		State:       domain.JobWaiting,
		CreatedAt:   now,
	}
	if req.Delay(now) > 0 {
		job.State = domain.JobDelayed
	}
	return job
}

func jobFields(job *domain.QueuedJob) (map[string]any, error) {
	data, err := json.Marshal(&job.Request)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return map[string]any{
		"data":         data,
		"attempts":     0,
		"max_attempts": job.MaxAttempts,
		"state":        string(job.State),
		"created_at":   job.CreatedAt.UnixMilli(),
	}, nil
}

func (b *Broker) queueJob(ctx context.Context, pipe redis.Pipeliner, job *domain.QueuedJob, fields map[string]any) {
	pipe.HSet(ctx, b.jobKey(job.ID), fields)
	if job.State == domain.JobDelayed {
		due := job.CreatedAt.Add(job.Request.Delay(job.CreatedAt))
		pipe.ZAdd(ctx, b.key("delayed"), redis.Z{Score: float64(due.UnixMilli()), Member: job.ID})
		return
	}
	pipe.LPush(ctx, b.key("waiting"), job.ID)
}

// Add enqueues one request. A request with ScheduledAt in the future goes to
// the delayed set and is invisible to workers until due.
func (b *Broker) Add(ctx context.Context, req *domain.SendRequest) (*domain.QueuedJob, error) {
	jobs, err := b.AddBulk(ctx, []*domain.SendRequest{req})
	if err != nil {
		return nil, err
	}
	return jobs[0], nil
}

// AddBulk enqueues every request in a single MULTI/EXEC: either all jobs are
// added or none are.
func (b *Broker) AddBulk(ctx context.Context, reqs []*domain.SendRequest) ([]*domain.QueuedJob, error) {
	jobs := b.NewJobs(reqs)
	if err := b.Push(ctx, jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// NewJobs builds envelopes for reqs without queueing them. The ids are
// final, so callers can persist references to the jobs before Push makes
// them visible to workers.
func (b *Broker) NewJobs(reqs []*domain.SendRequest) []*domain.QueuedJob {
	jobs := make([]*domain.QueuedJob, len(reqs))
	for i, req := range reqs {
		jobs[i] = b.newJob(req)
	}
	return jobs
}

// Push queues jobs built by NewJobs in a single MULTI/EXEC.
func (b *Broker) Push(ctx context.Context, jobs []*domain.QueuedJob) error {
	fields := make([]map[string]any, len(jobs))
	for i, job := range jobs {
		f, err := jobFields(job)
		if err != nil {
			return err
		}
		fields[i] = f
	}

	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, job := range jobs {
			b.queueJob(ctx, pipe, job, fields[i])
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

// Reserve moves the oldest waiting job to active and returns it with its
// attempt counter already incremented. Returns ErrNoJob when idle.
func (b *Broker) Reserve(ctx context.Context) (*domain.QueuedJob, error) {
	id, err := reserveScript.Run(ctx, b.rdb,
		[]string{b.key("waiting"), b.key("active")},
		b.jobPrefix(), b.nowMs(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("reserve job: %w", err)
	}
	return b.Get(ctx, id)
}

// Complete marks a reserved job as succeeded and trims the completed set to
// the configured count.
func (b *Broker) Complete(ctx context.Context, id string) error {
	err := completeScript.Run(ctx, b.rdb,
		[]string{b.key("waiting"), b.key("active"), b.key("delayed"), b.key("completed"), b.jobKey(id)},
		id, b.nowMs(), b.opts.KeepCompletedCount, b.jobPrefix(),
	).Err()
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

// Fail records a failed attempt. While attempts remain the job is delayed by
// the backoff schedule and retry is true; otherwise it moves to the failed
// set.
func (b *Broker) Fail(ctx context.Context, job *domain.QueuedJob, cause error) (retry bool, delay time.Duration, err error) {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	retry = job.Attempts < job.MaxAttempts
	now := b.now()
	due := now
	if retry {
		delay = b.BackoffFor(job.Attempts)
		due = now.Add(delay)
	}
	retryFlag := "0"
	if retry {
		retryFlag = "1"
	}

	err = failScript.Run(ctx, b.rdb,
		[]string{b.key("waiting"), b.key("active"), b.key("delayed"), b.key("failed"), b.jobKey(job.ID)},
		job.ID, now.UnixMilli(), reason, retryFlag, due.UnixMilli(),
	).Err()
	if err != nil {
		return false, 0, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	job.FailedReason = reason
	if retry {
		job.State = domain.JobDelayed
	} else {
		job.State = domain.JobFailed
	}
	return retry, delay, nil
}

// Promote moves delayed jobs whose due time has passed to the waiting list.
func (b *Broker) Promote(ctx context.Context) (int, error) {
	n, err := promoteScript.Run(ctx, b.rdb,
		[]string{b.key("delayed"), b.key("waiting")},
		b.jobPrefix(), b.nowMs(), promoteBatch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	return n, nil
}

// Cancel removes a job that no worker has reserved yet and deletes it.
// Returns false if the job is active, finished or unknown.
func (b *Broker) Cancel(ctx context.Context, id string) (bool, error) {
	n, err := cancelScript.Run(ctx, b.rdb,
		[]string{b.key("delayed"), b.key("waiting"), b.jobKey(id)},
		id,
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: cancel job %s: %v", ErrBrokerUnavailable, id, err)
	}
	return n == 1, nil
}

// Get loads a job by id.
func (b *Broker) Get(ctx context.Context, id string) (*domain.QueuedJob, error) {
	h, err := b.rdb.HGetAll(ctx, b.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(h) == 0 {
		return nil, ErrJobNotFound
	}
	return decodeJob(id, h)
}

func decodeJob(id string, h map[string]string) (*domain.QueuedJob, error) {
	job := &domain.QueuedJob{
		ID:           id,
		State:        domain.JobState(h["state"]),
		FailedReason: h["failed_reason"],
	}
	if err := json.Unmarshal([]byte(h["data"]), &job.Request); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	job.Attempts, _ = strconv.Atoi(h["attempts"])
	job.MaxAttempts, _ = strconv.Atoi(h["max_attempts"])
	if ms, err := strconv.ParseInt(h["created_at"], 10, 64); err == nil {
		job.CreatedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(h["processed_at"], 10, 64); err == nil {
		t := time.UnixMilli(ms)
		job.ProcessedAt = &t
	}
	if ms, err := strconv.ParseInt(h["finished_at"], 10, 64); err == nil {
		t := time.UnixMilli(ms)
		job.FinishedAt = &t
	}
	return job, nil
}

// Stats returns job counts per state.
func (b *Broker) Stats(ctx context.Context) (domain.QueueStats, error) {
	pipe := b.rdb.Pipeline()
	waiting := pipe.LLen(ctx, b.key("waiting"))
	active := pipe.LLen(ctx, b.key("active"))
	completed := pipe.ZCard(ctx, b.key("completed"))
	failed := pipe.ZCard(ctx, b.key("failed"))
	delayed := pipe.ZCard(ctx, b.key("delayed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.QueueStats{}, fmt.Errorf("%w: stats: %v", ErrBrokerUnavailable, err)
	}
	return domain.QueueStats{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
		Available: true,
	}, nil
}

// Trim deletes completed and failed jobs older than their retention window.
func (b *Broker) Trim(ctx context.Context) (int, error) {
	total := 0
	for set, keep := range map[string]time.Duration{
		"completed": b.opts.KeepCompletedFor,
		"failed":    b.opts.KeepFailedFor,
	} {
		if keep <= 0 {
			continue
		}
		cutoff := b.now().Add(-keep).UnixMilli()
		n, err := trimScript.Run(ctx, b.rdb, []string{b.key(set)}, b.jobPrefix(), cutoff).Int()
		if err != nil {
			return total, fmt.Errorf("trim %s jobs: %w", set, err)
		}
		total += n
	}
	return total, nil
}

// RecoverStalled returns active jobs reserved longer than olderThan to the
// waiting list, or to the failed set once their attempts are spent.
func (b *Broker) RecoverStalled(ctx context.Context, olderThan time.Duration) (requeued, failed int, err error) {
	ids, err := b.rdb.LRange(ctx, b.key("active"), 0, -1).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("list active jobs: %w", err)
	}
	now := b.now()
	cutoff := now.Add(-olderThan).UnixMilli()
	for _, id := range ids {
		res, err := recoverScript.Run(ctx, b.rdb,
			[]string{b.key("active"), b.key("waiting"), b.key("failed"), b.jobKey(id)},
			id, now.UnixMilli(), cutoff,
		).Int()
		if err != nil {
			return requeued, failed, fmt.Errorf("recover job %s: %w", id, err)
		}
		switch res {
		case 1:
			requeued++
		case 2:
			failed++
		}
	}
	return requeued, failed, nil
}

package queue

import (
	"context"
	"maps"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mail-pipeline/internal/config"
	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/metrics"
	"github.com/ignite/mail-pipeline/internal/pkg/logger"
	"github.com/ignite/mail-pipeline/internal/sender"
)

// Gate decides whether a request may be dispatched at all.
type Gate interface {
	CanSend(ctx context.Context, t domain.EmailType, id domain.Identity) bool
}

// Provisioner returns a recipient's preferences row, creating it on first
// use.
type Provisioner interface {
	GetOrCreate(ctx context.Context, id domain.Identity) (*domain.EmailPreferences, error)
}

// Deps are the collaborators a Manager is built from. Redis may be nil
// (synchronous-only mode); every other field except Sender is optional.
type Deps struct {
	Redis       *redis.Client
	Sender      sender.Sender
	Recorder    Recorder
	Gate        Gate
	Scheduled   ScheduledStore
	Preferences Provisioner

	// PublicURL is the origin unsubscribe links are built on. Without it
	// rows are still provisioned but no List-Unsubscribe header is added.
	PublicURL string
}

// OneClickURL is the RFC 8058 unsubscribe endpoint for token.
func OneClickURL(publicURL, token string) string {
	return strings.TrimRight(publicURL, "/") + "/unsubscribe/" + url.PathEscape(token) + "/one-click"
}

// Manager is the single entry point for sending email. Construct one per
// process, call Initialize, and share it.
type Manager struct {
	cfg    config.QueueConfig
	deps   Deps
	direct *DirectDispatcher

	mu         sync.RWMutex
	broker     *Broker
	dispatcher Dispatcher
	available  bool
	closed     bool
}

// NewManager creates a manager that dispatches directly until Initialize
// selects a path.
func NewManager(cfg config.QueueConfig, deps Deps) *Manager {
	direct := NewDirectDispatcher(deps.Sender, deps.Recorder)
	return &Manager{
		cfg:        cfg,
		deps:       deps,
		direct:     direct,
		dispatcher: direct,
	}
}

// Initialize connects to the broker and selects the dispatch path for the
// life of the process. It returns whether the queue is available.
func (m *Manager) Initialize(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cfg.Enabled || m.deps.Redis == nil {
		logger.Info("email queue disabled, dispatching synchronously")
		m.dispatcher = m.direct
		m.available = false
		return false
	}

	b := NewBroker(m.deps.Redis, OptionsFromConfig(m.cfg))
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.Ping(pingCtx); err != nil {
		logger.Warn("email queue unreachable, dispatching synchronously", "error", err)
		m.dispatcher = m.direct
		m.available = false
		return false
	}

	m.broker = b
	m.dispatcher = NewFallbackDispatcher(NewQueuedDispatcher(b, m.deps.Scheduled), m.direct)
	m.available = true
	logger.Info("email queue initialized", "queue", b.Options().Name,
		"max_attempts", b.Options().MaxAttempts, "backoff_base", b.Options().BackoffBase)
	return true
}

// Available reports whether the broker path was selected.
func (m *Manager) Available() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.available && !m.closed
}

// Broker returns the broker, or nil in synchronous mode.
func (m *Manager) Broker() *Broker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.broker
}

func (m *Manager) current() (Dispatcher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrShutdown
	}
	return m.dispatcher, nil
}

// admit validates req and consults the gate. A non-nil Result means the
// request must not be dispatched. Admitted optional email gets
// unsubscribe headers added to req.
func (m *Manager) admit(ctx context.Context, req *domain.SendRequest) *Result {
	if req == nil {
		return &Result{Error: domain.ErrNoRecipients.Error()}
	}
	if err := req.Validate(); err != nil {
		return &Result{Error: err.Error()}
	}
	if m.deps.Gate != nil && !m.deps.Gate.CanSend(ctx, req.EmailType, req.Identity()) {
		metrics.Suppressed.WithLabelValues(string(req.EmailType)).Inc()
		logger.Info("send suppressed by recipient preferences",
			"to", req.PrimaryRecipient(), "email_type", req.EmailType)
		return &Result{Suppressed: true}
	}
	m.attachUnsubscribe(ctx, req)
	return nil
}

// attachUnsubscribe provisions the recipient's preferences row and
// advertises its token. Transactional and anonymous sends are left alone.
// A provisioning failure never blocks the send.
func (m *Manager) attachUnsubscribe(ctx context.Context, req *domain.SendRequest) {
	id := req.Identity()
	if m.deps.Preferences == nil || id.IsZero() || req.EmailType.Class() == domain.ClassTransactional {
		return
	}
	p, err := m.deps.Preferences.GetOrCreate(ctx, id)
	if err != nil {
		logger.Warn("preferences not provisioned, sending without unsubscribe link",
			"identity_kind", id.Kind, "identity_id", id.ID, "error", err)
		return
	}
	if m.deps.PublicURL == "" || p.UnsubscribeToken == "" {
		return
	}

	headers := make(domain.Headers, len(req.Headers)+2)
	maps.Copy(headers, req.Headers)
	headers["List-Unsubscribe"] = "<" + OneClickURL(m.deps.PublicURL, p.UnsubscribeToken) + ">"
	headers["List-Unsubscribe-Post"] = "List-Unsubscribe=One-Click"
	req.Headers = headers
}

// Enqueue dispatches one request. It never returns an error; failures are
// reported in the Result.
func (m *Manager) Enqueue(ctx context.Context, req *domain.SendRequest) Result {
	if r := m.admit(ctx, req); r != nil {
		return *r
	}
	d, err := m.current()
	if err != nil {
		return Result{Error: err.Error()}
	}
	r, err := d.Dispatch(ctx, req)
	if err != nil {
		logger.Error("enqueue failed", "dispatcher", d.Name(), "error", err)
		return Result{Error: err.Error()}
	}
	return r
}

// EnqueueBulk dispatches many requests. Results line up with reqs by index.
// Invalid or suppressed requests are reported individually and the rest go
// out as one batch.
func (m *Manager) EnqueueBulk(ctx context.Context, reqs []*domain.SendRequest) []Result {
	results := make([]Result, len(reqs))
	var batch []*domain.SendRequest
	var index []int
	for i, req := range reqs {
		if r := m.admit(ctx, req); r != nil {
			results[i] = *r
			continue
		}
		batch = append(batch, req)
		index = append(index, i)
	}
	if len(batch) == 0 {
		return results
	}

	d, err := m.current()
	if err != nil {
		for _, i := range index {
			results[i] = Result{Error: err.Error()}
		}
		return results
	}
	out, err := d.DispatchBulk(ctx, batch)
	if err != nil {
		logger.Error("bulk enqueue failed", "dispatcher", d.Name(), "count", len(batch), "error", err)
		for _, i := range index {
			results[i] = Result{Error: err.Error()}
		}
		return results
	}
	for j, i := range index {
		results[i] = out[j]
	}
	return results
}

// Cancel withdraws a job no worker has reserved yet. It reports false for
// active, finished or unknown jobs.
func (m *Manager) Cancel(ctx context.Context, jobID string) (bool, error) {
	b := m.Broker()
	if b == nil {
		return false, ErrBrokerUnavailable
	}
	return b.Cancel(ctx, jobID)
}

// GetStats returns broker job counts. In synchronous mode, or when the
// broker cannot be reached, it returns zero counts with Available false.
func (m *Manager) GetStats(ctx context.Context) domain.QueueStats {
	b := m.Broker()
	if b == nil || !m.Available() {
		return domain.QueueStats{}
	}
	stats, err := b.Stats(ctx)
	if err != nil {
		logger.Warn("queue stats unavailable", "error", err)
		return domain.QueueStats{}
	}
	metrics.QueueDepth.WithLabelValues("waiting").Set(float64(stats.Waiting))
	metrics.QueueDepth.WithLabelValues("active").Set(float64(stats.Active))
	metrics.QueueDepth.WithLabelValues("delayed").Set(float64(stats.Delayed))
	metrics.QueueDepth.WithLabelValues("completed").Set(float64(stats.Completed))
	metrics.QueueDepth.WithLabelValues("failed").Set(float64(stats.Failed))
	return stats
}

// Shutdown stops accepting new requests. Stop the worker pool first; the
// Redis client is closed by its owner afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.available = false
	logger.Info("email queue manager shut down")
	return nil
}

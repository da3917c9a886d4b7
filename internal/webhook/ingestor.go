// Package webhook verifies and applies provider delivery callbacks.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ignite/mail-pipeline/internal/metrics"
	"github.com/ignite/mail-pipeline/internal/pkg/httputil"
	"github.com/ignite/mail-pipeline/internal/pkg/logger"
	"github.com/ignite/mail-pipeline/internal/service/tracking"
)

// SignatureHeader carries the provider's HMAC signature.
const SignatureHeader = "Signature"

const maxBodyBytes = 1 << 20

// Tracker applies a resolved event to the tracking store.
type Tracker interface {
	ApplyEvent(ctx context.Context, ev tracking.Event) (tracking.Outcome, error)
}

// Ack is the body returned to the provider.
type Ack struct {
	Received bool `json:"received"`
	Tracked  bool `json:"tracked"`
}

// Ingestor turns signed webhook deliveries into tracking updates.
type Ingestor struct {
	verifier      *Verifier
	tracker       Tracker
	allowUnsigned bool
}

// NewIngestor creates an ingestor. allowUnsigned permits processing without
// a secret and must only be set outside production.
func NewIngestor(v *Verifier, t Tracker, allowUnsigned bool) *Ingestor {
	return &Ingestor{verifier: v, tracker: t, allowUnsigned: allowUnsigned}
}

// Handle verifies and applies one delivery. Nothing is written unless the
// signature checks out.
func (in *Ingestor) Handle(ctx context.Context, body []byte, signature string) (Ack, error) {
	switch {
	case in.verifier != nil && in.verifier.Enabled():
		if err := in.verifier.Verify(body, signature); err != nil {
			metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
			return Ack{}, err
		}
	case in.allowUnsigned:
		logger.Warn("processing unsigned webhook, no secret configured")
	default:
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		return Ack{}, fmt.Errorf("%w: no secret configured", ErrInvalidSignature)
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Ack{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.Type == "" || p.Data.EmailID == "" {
		return Ack{}, fmt.Errorf("%w: type and data.email_id are required", ErrMalformedPayload)
	}

	label := p.Type
	status, known := StatusFor(p.Type)
	if !known {
		label = "other"
		logger.Debug("webhook event type has no status mapping", "event_type", p.Type)
	}
	occurred, _ := p.OccurredAt()

	out, err := in.tracker.ApplyEvent(ctx, tracking.Event{
		ProviderMessageID: p.Data.EmailID,
		EventType:         p.Type,
		Status:            status,
		Payload:           json.RawMessage(body),
		OccurredAt:        occurred,
	})
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(label, "error").Inc()
		return Ack{}, err
	}

	outcome := "untracked"
	switch {
	case out.StatusChanged:
		outcome = "applied"
	case out.Tracked:
		outcome = "logged"
	}
	metrics.WebhookEvents.WithLabelValues(label, outcome).Inc()
	return Ack{Received: true, Tracked: out.Tracked}, nil
}

// ServeHTTP exposes Handle as an HTTP endpoint.
func (in *Ingestor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httputil.BadRequest(w, "unable to read body")
		return
	}

	ack, err := in.Handle(r.Context(), body, r.Header.Get(SignatureHeader))
	switch {
	case err == nil:
		httputil.OK(w, ack)
	case errors.Is(err, ErrInvalidSignature):
		logger.Warn("webhook rejected", "error", err, "remote_addr", r.RemoteAddr)
		httputil.Unauthorized(w, "invalid signature")
	case errors.Is(err, ErrMalformedPayload):
		httputil.BadRequest(w, "malformed payload")
	default:
		httputil.InternalError(w, err)
	}
}

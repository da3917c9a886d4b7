// Package sender wraps the single outbound call to an email provider.
//
// Senders are stateless request/response adapters and safe for concurrent
// use. Retrying is the worker pool's job; a Sender reports the provider's
// verdict for one attempt.
package sender

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/mail-pipeline/internal/config"
	"github.com/ignite/mail-pipeline/internal/domain"
)

// Sender delivers one request to the provider and returns the provider's
// message id on acceptance.
type Sender interface {
	Send(ctx context.Context, req *domain.SendRequest) (*domain.SendResult, error)
	Name() string
}

// ErrNotConfigured is returned when a provider lacks credentials.
var ErrNotConfigured = errors.New("email provider not configured")

// ProviderError is a rejection reported by the provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s rejected message (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

type idempotencyKey struct{}

// WithIdempotencyKey attaches a key the provider uses to collapse replays
// of the same logical send.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKeyFrom returns the key set by WithIdempotencyKey.
func IdempotencyKeyFrom(ctx context.Context) string {
	v, _ := ctx.Value(idempotencyKey{}).(string)
	return v
}

// New builds the Sender selected by cfg.Name.
func New(ctx context.Context, cfg config.ProviderConfig) (Sender, error) {
	switch cfg.Name {
	case "ses":
		s, err := NewSESSender(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "http", "":
		return NewHTTPSender(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/mail-pipeline/internal/config"
	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/pkg/httpretry"
	"github.com/ignite/mail-pipeline/internal/pkg/logger"
)

// HTTPSender talks to a Resend-compatible JSON email API.
type HTTPSender struct {
	apiKey  string
	baseURL string
	from    string
	client  httpretry.HTTPDoer
}

// NewHTTPSender creates a sender with a bounded per-call timeout so a hung
// provider connection cannot pin a worker slot.
func NewHTTPSender(cfg config.ProviderConfig) *HTTPSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := &http.Client{Timeout: timeout}
	return &HTTPSender{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		from:    cfg.From,
		client:  httpretry.NewRetryClient(base, cfg.MaxRetries),
	}
}

// WithClient swaps the transport. Used by tests.
func (s *HTTPSender) WithClient(c httpretry.HTTPDoer) *HTTPSender {
	s.client = c
	return s
}

// Name identifies the provider in logs and metrics.
func (s *HTTPSender) Name() string { return "http" }

type apiEmail struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html"`
	ReplyTo string            `json:"reply_to,omitempty"`
	Tags    []domain.Tag      `json:"tags,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type apiResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Name    string `json:"name"`
}

// Send posts the message and returns the provider-assigned id.
func (s *HTTPSender) Send(ctx context.Context, req *domain.SendRequest) (*domain.SendResult, error) {
	if s.apiKey == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(apiEmail{
		From:    s.from,
		To:      req.To,
		Subject: req.Subject,
		HTML:    req.HTML,
		ReplyTo: req.ReplyTo,
		Tags:    req.Tags,
		Headers: req.Headers,
	})
	if err != nil {
		return nil, fmt.Errorf("encode email: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if key := IdempotencyKeyFrom(ctx); key != "" {
		httpReq.Header.Set("Idempotency-Key", key)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}

	var out apiResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, &ProviderError{Provider: s.Name(), StatusCode: resp.StatusCode, Message: msg}
	}
	if out.ID == "" {
		return nil, &ProviderError{Provider: s.Name(), StatusCode: resp.StatusCode, Message: "response carried no message id"}
	}

	logger.Debug("provider accepted message", "provider", s.Name(), "message_id", out.ID, "to", strings.Join(req.To, ","))

	return &domain.SendResult{
		MessageID: out.ID,
		Provider:  s.Name(),
		SentAt:    time.Now().UTC(),
	}, nil
}

// Package sendertest provides an in-memory sender.Sender for tests.
package sendertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/sender"
)

// Sender records every call. Failures can be scripted per call with FailN
// or for every call with Err.
type Sender struct {
	mu     sync.Mutex
	Err    error
	FailN  int
	calls  []*domain.SendRequest
	keys   []string
	nextID int
}

// New returns a sender that accepts everything.
func New() *Sender { return &Sender{} }

func (s *Sender) Name() string { return "fake" }

func (s *Sender) Send(ctx context.Context, req *domain.SendRequest) (*domain.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	s.keys = append(s.keys, sender.IdempotencyKeyFrom(ctx))
	if s.Err != nil {
		return nil, s.Err
	}
	if s.FailN > 0 {
		s.FailN--
		return nil, &sender.ProviderError{Provider: "fake", StatusCode: 503, Message: "temporarily unavailable"}
	}
	s.nextID++
	return &domain.SendResult{
		MessageID: fmt.Sprintf("fake-msg-%d", s.nextID),
		Provider:  "fake",
		SentAt:    time.Now().UTC(),
	}, nil
}

// Calls returns the number of Send invocations.
func (s *Sender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Requests returns a copy of every request seen.
func (s *Sender) Requests() []*domain.SendRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.SendRequest(nil), s.calls...)
}

// IdempotencyKeys returns the key attached to each call, in order.
func (s *Sender) IdempotencyKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

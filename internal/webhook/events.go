package webhook

import (
	"strings"
	"time"

	"github.com/ignite/mail-pipeline/internal/domain"
)

// Payload is the provider's webhook body.
type Payload struct {
	Type      string    `json:"type"`
	CreatedAt string    `json:"created_at"`
	Data      EventData `json:"data"`
}

// EventData identifies the message an event refers to.
type EventData struct {
	EmailID string   `json:"email_id"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Click   *struct {
		Link string `json:"link"`
	} `json:"click,omitempty"`
}

var eventStatus = map[string]domain.EmailStatus{
	"sent":             domain.StatusSent,
	"delivered":        domain.StatusDelivered,
	"delivery_delayed": domain.StatusSent,
	"delayed":          domain.StatusSent,
	"complained":       domain.StatusComplained,
	"bounced":          domain.StatusBounced,
	"opened":           domain.StatusOpened,
	"clicked":          domain.StatusClicked,
}

// StatusFor maps a provider event type, with or without the "email."
// prefix, to a status. ok is false for types the pipeline does not track.
func StatusFor(eventType string) (status domain.EmailStatus, ok bool) {
	name := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(eventType)), "email.")
	status, ok = eventStatus[name]
	return status, ok
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999Z07:00",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02T15:04:05.999999",
}

// OccurredAt parses CreatedAt. ok is false when it is absent or unreadable.
func (p *Payload) OccurredAt() (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, p.CreatedAt); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

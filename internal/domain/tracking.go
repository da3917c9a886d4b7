package domain

import (
	"encoding/json"
	"time"
)

// EmailStatus is the pipeline's lifecycle state for one dispatched message.
// Statuses form a total order; see Rank.
type EmailStatus string

const (
	StatusQueued     EmailStatus = "queued"
	StatusSent       EmailStatus = "sent"
	StatusDelivered  EmailStatus = "delivered"
	StatusOpened     EmailStatus = "opened"
	StatusClicked    EmailStatus = "clicked"
	StatusBounced    EmailStatus = "bounced"
	StatusComplained EmailStatus = "complained"
	StatusFailed     EmailStatus = "failed"
)

var statusRank = map[EmailStatus]int{
	StatusQueued:     0,
	StatusSent:       1,
	StatusDelivered:  2,
	StatusOpened:     3,
	StatusClicked:    4,
	StatusBounced:    5,
	StatusComplained: 6,
	StatusFailed:     7,
}

// AllStatuses lists every status in rank order.
var AllStatuses = []EmailStatus{
	StatusQueued, StatusSent, StatusDelivered, StatusOpened,
	StatusClicked, StatusBounced, StatusComplained, StatusFailed,
}

// Rank returns the position of s in the status order. Unknown statuses
// rank below queued.
func (s EmailStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is a known status.
func (s EmailStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// IsSticky reports whether s overwrites any prior status regardless of rank.
func (s EmailStatus) IsSticky() bool {
	return s == StatusBounced || s == StatusComplained
}

// IsTerminal reports whether no further forward transition is expected.
func (s EmailStatus) IsTerminal() bool {
	return s == StatusBounced || s == StatusComplained || s == StatusFailed
}

// CanTransition is the single upgrade rule for EmailRecord.Status: a new
// status applies when it differs from the current one and either outranks
// it or is sticky.
func CanTransition(from, to EmailStatus) bool {
	if !to.Valid() || from == to {
		return false
	}
	if to.IsSticky() {
		return true
	}
	return to.Rank() > from.Rank()
}

// EmailRecord is one message the provider accepted, keyed by the provider's
// message id. Status is the only field mutated after creation.
type EmailRecord struct {
	ID                string      `json:"id" db:"id"`
	ProviderMessageID string      `json:"provider_message_id" db:"provider_message_id"`
	Recipient         string      `json:"recipient" db:"recipient"`
	Subject           string      `json:"subject" db:"subject"`
	EmailType         EmailType   `json:"email_type" db:"email_type"`
	UserID            string      `json:"user_id,omitempty" db:"user_id"`
	ClientID          string      `json:"client_id,omitempty" db:"client_id"`
	Status            EmailStatus `json:"status" db:"status"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" db:"updated_at"`
}

// NewEmailRecord builds the tracking row for a request the provider accepted.
func NewEmailRecord(req *SendRequest, res *SendResult) *EmailRecord {
	return &EmailRecord{
		ProviderMessageID: res.MessageID,
		Recipient:         req.PrimaryRecipient(),
		Subject:           req.Subject,
		EmailType:         req.EmailType,
		UserID:            req.UserID,
		ClientID:          req.ClientID,
		Status:            StatusSent,
	}
}

// EmailEvent is an append-only webhook log entry for an EmailRecord.
type EmailEvent struct {
	ID            string          `json:"id" db:"id"`
	EmailRecordID string          `json:"email_record_id" db:"email_record_id"`
	EventType     string          `json:"event_type" db:"event_type"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	OccurredAt    time.Time       `json:"occurred_at" db:"occurred_at"`
	DedupeKey     string          `json:"-" db:"dedupe_key"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

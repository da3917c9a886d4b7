package domain

import "time"

// ScheduledState enumerates the lifecycle of a delayed send.
type ScheduledState string

const (
	ScheduledPending   ScheduledState = "scheduled"
	ScheduledSent      ScheduledState = "sent"
	ScheduledCancelled ScheduledState = "cancelled"
	ScheduledFailed    ScheduledState = "failed"
)

// ScheduledEmail tracks one delayed send awaiting dispatch.
type ScheduledEmail struct {
	ID           string         `json:"id" db:"id"`
	JobID        string         `json:"job_id" db:"job_id"`
	Recipient    string         `json:"recipient" db:"recipient"`
	Subject      string         `json:"subject" db:"subject"`
	EmailType    EmailType      `json:"email_type" db:"email_type"`
	ScheduledFor time.Time      `json:"scheduled_for" db:"scheduled_for"`
	State        ScheduledState `json:"state" db:"state"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// IsCancellable reports whether the send can still be withdrawn.
func (s *ScheduledEmail) IsCancellable() bool {
	return s.State == ScheduledPending
}

// ListFilter controls pagination and filtering for admin listings.
type ListFilter struct {
	Status    string
	EmailType string
	Limit     int
	Offset    int
}

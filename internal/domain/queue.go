package domain

import "time"

// JobState is where a job sits inside the broker.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobDelayed   JobState = "delayed"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// QueuedJob is the broker envelope around a SendRequest.
type QueuedJob struct {
	ID           string      `json:"id"`
	Request      SendRequest `json:"request"`
	Attempts     int         `json:"attempts"`
	MaxAttempts  int         `json:"max_attempts"`
	State        JobState    `json:"state"`
	FailedReason string      `json:"failed_reason,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	ProcessedAt  *time.Time  `json:"processed_at,omitempty"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty"`
}

// IsScheduled reports whether the job came from a delayed send request.
func (j *QueuedJob) IsScheduled() bool {
	return j.Request.ScheduledAt != nil
}

// QueueStats is a point-in-time snapshot of broker job counts.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Available bool  `json:"available"`
}

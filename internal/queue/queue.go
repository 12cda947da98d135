// Package queue implements the Queue Store (component B): a pure
// data-access surface over the blog_processing_queue table with no domain
// knowledge of publishers or blog content.
package queue

import "time"

// Status is a queue entry's processing state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusRetry      Status = "retry"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Entry is exactly one row per normalized URL.
type Entry struct {
	ID                     string     `db:"id"`
	URL                    string     `db:"url"`
	PublisherID            string     `db:"publisher_id"`
	Status                 Status     `db:"status"`
	AttemptCount           int        `db:"attempts"`
	MaxRetries             int        `db:"max_retries"`
	ReprocessedCount       int        `db:"reprocessed_count"`
	WorkerID               *string    `db:"worker_id"`
	LastError              *string    `db:"last_error"`
	ErrorType              *string    `db:"failure_kind"`
	HeartbeatAt            *time.Time `db:"heartbeat_at"`
	HeartbeatIntervalSec   int        `db:"heartbeat_interval_seconds"`
	StartedAt              *time.Time `db:"started_at"`
	CompletedAt            *time.Time `db:"completed_at"`
	LastReprocessedAt      *time.Time `db:"last_reprocessed_at"`
	WasPreviouslyCompleted bool       `db:"processed"`
	CreatedAt              time.Time  `db:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at"`
}

// IsInProgress reports the invariant status=processing ⇒ worker_id≠nil ∧
// heartbeat_at≠nil.
func (e *Entry) IsInProgress() bool {
	return e.Status == StatusProcessing && e.WorkerID != nil && e.HeartbeatAt != nil
}

// Stats is a count of queue entries by status.
type Stats struct {
	Queued     int64
	Processing int64
	Retry      int64
	Completed  int64
	Failed     int64
}

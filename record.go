package messaging

import (
	"encoding/json"
	"time"
)

// OutboxRecord is a stored outbox row. The same shape serves the event and the webhook outbox;
// for the webhook table Attempts maps to the retries column and the entity fields stay empty.
type OutboxRecord struct {
	ID            int64
	EventKey      string
	EntityTable   string
	EntityPK      string
	EventType     string
	Payload       json.RawMessage
	Status        Status
	Attempts      int
	NextAttemptAt *time.Time
	ProcessedAt   *time.Time
	LastError     string
	CreatedAt     time.Time
}

// Due reports whether the record is eligible for a claim at now. A failed record without a
// next attempt time is permanently failed and never due.
func (r OutboxRecord) Due(now time.Time) bool {
	switch r.Status {
	case StatusPending:
		return r.NextAttemptAt == nil || !r.NextAttemptAt.After(now)
	case StatusFailed:
		return r.NextAttemptAt != nil && !r.NextAttemptAt.After(now)
	default:
		return false
	}
}

// InboxRecord is a stored inbox row keyed by (Source, EventKey).
type InboxRecord struct {
	ID          int64
	Source      string
	EventKey    string
	Payload     json.RawMessage
	Status      Status
	Attempts    int
	ProcessedAt *time.Time
	LastError   string
	CreatedAt   time.Time
}

// ScheduledJob is a delayed task created by a Scheduler.
type ScheduledJob struct {
	ID        string
	Task      string
	Payload   map[string]any
	Headers   map[string]any
	RunAt     time.Time
	Status    Status
	CreatedAt time.Time
}

// FailureUpdate describes the state written after a failed delivery.
// A nil NextAttemptAt marks the record as permanently failed.
type FailureUpdate struct {
	Attempts      int
	NextAttemptAt *time.Time
	LastError     string
}

// Permanent reports whether the update ends automatic retries.
func (f FailureUpdate) Permanent() bool {
	return f.NextAttemptAt == nil
}

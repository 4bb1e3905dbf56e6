package messaging

import (
	"context"
	"time"
)

// DueLimit caps the number of jobs returned by Scheduler.Due.
const DueLimit = 100

// HeaderScheduledAt carries the requested run time on scheduled envelopes.
const HeaderScheduledAt = "scheduled_at"

// Scheduler is a durable delay queue.
type Scheduler interface {
	// Schedule records a job for envelope.Topic() that becomes due at runAt.
	Schedule(ctx context.Context, envelope Envelope, runAt time.Time) error
	// Due returns up to DueLimit pending jobs with run_at <= now, oldest first.
	Due(ctx context.Context, now time.Time) ([]ScheduledJob, error)
}

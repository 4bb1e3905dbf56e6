package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/velmie/messaging"
)

// Scheduler keeps scheduled jobs in memory.
type Scheduler struct {
	mu    sync.Mutex
	clock messaging.Clock
	jobs  []messaging.ScheduledJob
}

var _ messaging.Scheduler = (*Scheduler)(nil)

// NewScheduler returns an empty scheduler.
func NewScheduler(clock messaging.Clock) *Scheduler {
	if clock == nil {
		clock = messaging.SystemClock{}
	}

	return &Scheduler{clock: clock}
}

// Schedule implements messaging.Scheduler.
func (s *Scheduler) Schedule(ctx context.Context, envelope messaging.Envelope, runAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	job := messaging.ScheduledJob{
		ID:        messaging.NewRandomID(),
		Task:      envelope.Topic(),
		Payload:   envelope.Payload(),
		Headers:   envelope.Headers(),
		RunAt:     runAt,
		Status:    messaging.StatusPending,
		CreatedAt: s.clock.Now(),
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()

	return nil
}

// Due implements messaging.Scheduler. Jobs stay pending; consumers own their lifecycle.
func (s *Scheduler) Due(ctx context.Context, now time.Time) ([]messaging.ScheduledJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	var due []messaging.ScheduledJob
	for _, job := range s.jobs {
		if job.Status == messaging.StatusPending && !job.RunAt.After(now) {
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	slices.SortStableFunc(due, func(a, b messaging.ScheduledJob) int {
		return a.RunAt.Compare(b.RunAt)
	})
	if len(due) > messaging.DueLimit {
		due = due[:messaging.DueLimit]
	}

	return due, nil
}

// Len returns the number of stored jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.jobs)
}

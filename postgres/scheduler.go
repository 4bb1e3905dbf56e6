package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/velmie/messaging"
)

// Scheduler is a durable delay queue backed by the messaging_jobs table.
type Scheduler struct {
	db     DB
	table  string
	insert string
	due    string
}

var _ messaging.Scheduler = (*Scheduler)(nil)

// NewScheduler returns a Scheduler writing to messaging_jobs unless overridden.
func NewScheduler(db DB, opts ...Option) (*Scheduler, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	cfg, err := buildConfig(DefaultJobsTable, opts)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		db:    db,
		table: cfg.Table,
		insert: fmt.Sprintf(
			"INSERT INTO %s (id, task, payload, headers, run_at, status) VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, 'pending')",
			cfg.Table,
		),
		due: fmt.Sprintf(
			"SELECT id, task, payload, headers, run_at, status, created_at FROM %s "+
				"WHERE status = 'pending' AND run_at <= $1 ORDER BY run_at ASC LIMIT $2",
			cfg.Table,
		),
	}, nil
}

// Schedule implements messaging.Scheduler.
func (s *Scheduler) Schedule(ctx context.Context, envelope messaging.Envelope, runAt time.Time) error {
	payload, err := envelope.PayloadJSON()
	if err != nil {
		return fmt.Errorf("messaging postgres: encode payload: %w", err)
	}
	headers, err := envelope.HeadersJSON()
	if err != nil {
		return fmt.Errorf("messaging postgres: encode headers: %w", err)
	}

	_, err = s.db.Exec(ctx, s.insert, messaging.NewRandomID(), envelope.Topic(), string(payload), string(headers), runAt.UTC())
	if err != nil {
		return fmt.Errorf("messaging postgres: schedule %s failed: %w", envelope.Topic(), err)
	}

	return nil
}

// Due implements messaging.Scheduler.
func (s *Scheduler) Due(ctx context.Context, now time.Time) ([]messaging.ScheduledJob, error) {
	rows, err := s.db.Query(ctx, s.due, now, messaging.DueLimit)
	if err != nil {
		return nil, fmt.Errorf("messaging postgres: select due jobs failed: %w", err)
	}

	jobs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (messaging.ScheduledJob, error) {
		var (
			job              messaging.ScheduledJob
			payload, headers []byte
			status           string
		)
		if err := row.Scan(&job.ID, &job.Task, &payload, &headers, &job.RunAt, &status, &job.CreatedAt); err != nil {
			return messaging.ScheduledJob{}, err
		}
		job.Payload = messaging.DecodeDocument(payload)
		job.Headers = messaging.DecodeDocument(headers)
		job.Status = messaging.Status(status)

		return job, nil
	})
	if err != nil {
		return nil, fmt.Errorf("messaging postgres: scan due jobs failed: %w", err)
	}

	return jobs, nil
}

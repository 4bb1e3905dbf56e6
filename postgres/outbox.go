package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/velmie/messaging"
)

// OutboxTable is an event or webhook outbox stored in PostgreSQL.
type OutboxTable struct {
	db     DB
	table  string
	layout Layout
	q      outboxQueries
}

var (
	_ messaging.OutboxRepository = (*OutboxTable)(nil)
	_ messaging.PendingCounter   = (*OutboxTable)(nil)
)

// NewEventOutbox returns the event outbox, by default table event_outbox.
func NewEventOutbox(db DB, opts ...Option) (*OutboxTable, error) {
	return newOutboxTable(db, EventLayout, DefaultEventOutboxTable, opts)
}

// NewWebhookOutbox returns the webhook outbox, by default table webhook_outbox.
func NewWebhookOutbox(db DB, opts ...Option) (*OutboxTable, error) {
	return newOutboxTable(db, WebhookLayout, DefaultWebhookOutboxTable, opts)
}

func newOutboxTable(db DB, layout Layout, defaultTable string, opts []Option) (*OutboxTable, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	cfg, err := buildConfig(defaultTable, opts)
	if err != nil {
		return nil, err
	}

	return &OutboxTable{
		db:     db,
		table:  cfg.Table,
		layout: layout,
		q:      buildOutboxQueries(cfg.Table, layout),
	}, nil
}

// Table returns the sanitized table name.
func (s *OutboxTable) Table() string {
	return s.table
}

// Layout returns the column layout of the table.
func (s *OutboxTable) Layout() Layout {
	return s.layout
}

// Bind returns a copy of the table that runs its statements on db, typically a pgx.Tx of the caller's
// business transaction.
func (s *OutboxTable) Bind(db DB) *OutboxTable {
	if db == nil {
		return s
	}
	bound := *s
	bound.db = db

	return &bound
}

// Insert implements messaging.OutboxWriter. An (entity_table, event_key) conflict yields messaging.ErrDuplicate
// without aborting an enclosing transaction.
func (s *OutboxTable) Insert(ctx context.Context, record messaging.OutboxRecord) (int64, error) {
	status := record.Status
	if status == "" {
		status = messaging.StatusPending
	}
	payload := jsonText(record.Payload)

	var row pgx.Row
	if s.layout == WebhookLayout {
		row = s.db.QueryRow(ctx, s.q.insert,
			record.EventType, payload, string(status), record.Attempts, record.NextAttemptAt)
	} else {
		row = s.db.QueryRow(ctx, s.q.insert,
			record.EventKey, record.EntityTable, record.EntityPK, record.EventType, payload,
			string(status), record.Attempts, record.NextAttemptAt)
	}

	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return 0, messaging.ErrDuplicate
		}

		return 0, fmt.Errorf("messaging postgres: insert into %s failed: %w", s.table, err)
	}

	return id, nil
}

// DueIDs implements messaging.OutboxStore.
func (s *OutboxTable) DueIDs(ctx context.Context, q messaging.DueQuery) ([]int64, error) {
	if q.Limit <= 0 {
		return nil, nil
	}

	var (
		rows pgx.Rows
		err  error
	)
	if q.EntityTable != "" && s.q.dueIDsEntity != "" {
		rows, err = s.db.Query(ctx, s.q.dueIDsEntity, q.Now, q.Limit, q.EntityTable)
	} else {
		rows, err = s.db.Query(ctx, s.q.dueIDs, q.Now, q.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("messaging postgres: select due from %s failed: %w", s.table, err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("messaging postgres: scan due ids failed: %w", err)
	}

	return ids, nil
}

// TryClaim implements messaging.OutboxStore. The due rule is re-checked with the database clock.
func (s *OutboxTable) TryClaim(ctx context.Context, id int64, lease time.Duration) (*messaging.OutboxRecord, error) {
	var claimed *messaging.OutboxRecord
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var due bool
		record, err := scanOutboxRecord(tx.QueryRow(ctx, s.q.lockByID, id), &due)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}

			return err
		}
		if !due {
			return nil
		}

		var next time.Time
		if err := tx.QueryRow(ctx, s.q.lease, id, lease.Seconds()).Scan(&next); err != nil {
			return err
		}
		record.NextAttemptAt = &next
		claimed = &record

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("messaging postgres: claim %d in %s failed: %w", id, s.table, err)
	}

	return claimed, nil
}

// ClaimBatch implements messaging.BatchClaimer. The webhook layout has no namespace and ignores entityTable.
func (s *OutboxTable) ClaimBatch(ctx context.Context, entityTable string, limit int, lease time.Duration) ([]messaging.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	var claimed []messaging.OutboxRecord
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var (
			rows pgx.Rows
			err  error
		)
		if s.layout == WebhookLayout {
			rows, err = tx.Query(ctx, s.q.claimBatch, limit)
		} else {
			rows, err = tx.Query(ctx, s.q.claimBatch, limit, entityTable)
		}
		if err != nil {
			return err
		}
		records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (messaging.OutboxRecord, error) {
			return scanOutboxRecord(row, nil)
		})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		ids := make([]int64, len(records))
		for i, record := range records {
			ids[i] = record.ID
		}
		leased, err := tx.Query(ctx, s.q.leaseBatch, ids, lease.Seconds())
		if err != nil {
			return err
		}
		nextByID := make(map[int64]time.Time, len(ids))
		var (
			leasedID int64
			next     time.Time
		)
		if _, err := pgx.ForEachRow(leased, []any{&leasedID, &next}, func() error {
			nextByID[leasedID] = next

			return nil
		}); err != nil {
			return err
		}
		for i := range records {
			if at, ok := nextByID[records[i].ID]; ok {
				records[i].NextAttemptAt = &at
			}
		}
		claimed = records

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("messaging postgres: claim batch from %s failed: %w", s.table, err)
	}

	return claimed, nil
}

// MarkSent implements messaging.OutboxStore.
func (s *OutboxTable) MarkSent(ctx context.Context, id int64, at time.Time) error {
	if _, err := s.db.Exec(ctx, s.q.markSent, id, at); err != nil {
		return fmt.Errorf("messaging postgres: mark %d sent failed: %w", id, err)
	}

	return nil
}

// MarkFailed implements messaging.OutboxStore.
func (s *OutboxTable) MarkFailed(ctx context.Context, id int64, update messaging.FailureUpdate) error {
	if _, err := s.db.Exec(ctx, s.q.markFailed, id, update.Attempts, update.NextAttemptAt, update.LastError); err != nil {
		return fmt.Errorf("messaging postgres: mark %d failed failed: %w", id, err)
	}

	return nil
}

// PendingCount implements messaging.PendingCounter.
func (s *OutboxTable) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx, s.q.countPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("messaging postgres: count pending in %s failed: %w", s.table, err)
	}

	return count, nil
}

// Get returns a row by id, or nil when it does not exist.
func (s *OutboxTable) Get(ctx context.Context, id int64) (*messaging.OutboxRecord, error) {
	record, err := scanOutboxRecord(s.db.QueryRow(ctx, s.q.get, id), nil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("messaging postgres: get %d from %s failed: %w", id, s.table, err)
	}

	return &record, nil
}

// DeleteSentBefore removes up to limit sent rows processed at or before the cutoff.
func (s *OutboxTable) DeleteSentBefore(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, s.q.deleteSent, before, limit)
	if err != nil {
		return 0, fmt.Errorf("messaging postgres: cleanup %s failed: %w", s.table, err)
	}

	return tag.RowsAffected(), nil
}

func scanOutboxRecord(row pgx.Row, due *bool) (messaging.OutboxRecord, error) {
	var (
		record  messaging.OutboxRecord
		payload []byte
		status  string
	)
	dest := []any{
		&record.ID,
		&record.EventKey,
		&record.EntityTable,
		&record.EntityPK,
		&record.EventType,
		&payload,
		&status,
		&record.Attempts,
		&record.NextAttemptAt,
		&record.ProcessedAt,
		&record.LastError,
		&record.CreatedAt,
	}
	if due != nil {
		dest = append(dest, due)
	}
	if err := row.Scan(dest...); err != nil {
		return messaging.OutboxRecord{}, err
	}
	record.Payload = json.RawMessage(payload)
	record.Status = messaging.Status(status)

	return record, nil
}

// jsonText returns a JSONB parameter for raw, using an empty object for empty input.
func jsonText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}

	return string(raw)
}

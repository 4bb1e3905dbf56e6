package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/velmie/messaging"
)

// Executor allows inserting within an existing transaction.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// OutboxTable is an event or webhook outbox stored in MySQL.
type OutboxTable struct {
	db      *sql.DB
	exec    Executor
	cfg     Config
	layout  Layout
	queries queries
	table   string
}

var (
	_ messaging.OutboxRepository = (*OutboxTable)(nil)
	_ messaging.PendingCounter   = (*OutboxTable)(nil)
)

// NewEventOutbox returns the event outbox, by default table event_outbox.
func NewEventOutbox(db *sql.DB, opts ...Option) (*OutboxTable, error) {
	return newOutboxTable(db, EventLayout, DefaultEventOutboxTable, opts)
}

// NewWebhookOutbox returns the webhook outbox, by default table webhook_outbox.
func NewWebhookOutbox(db *sql.DB, opts ...Option) (*OutboxTable, error) {
	return newOutboxTable(db, WebhookLayout, DefaultWebhookOutboxTable, opts)
}

// MustNewEventOutbox constructs the event outbox or panics on error.
func MustNewEventOutbox(db *sql.DB, opts ...Option) *OutboxTable {
	table, err := NewEventOutbox(db, opts...)
	if err != nil {
		panic(err)
	}

	return table
}

func newOutboxTable(db *sql.DB, layout Layout, defaultTable string, opts []Option) (*OutboxTable, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	cfg, err := buildConfig(defaultTable, opts)
	if err != nil {
		return nil, err
	}

	return &OutboxTable{
		db:      db,
		exec:    db,
		cfg:     cfg,
		layout:  layout,
		queries: newQueries(cfg.Table, layout),
		table:   cfg.Table,
	}, nil
}

// Table returns the sanitized table name.
func (s *OutboxTable) Table() string {
	return s.table
}

// Bind returns a copy whose Insert runs on exec, typically the caller's *sql.Tx.
// Claims and status updates keep using the pool.
func (s *OutboxTable) Bind(exec Executor) *OutboxTable {
	if exec == nil {
		return s
	}
	bound := *s
	bound.exec = exec

	return &bound
}

// Insert implements messaging.OutboxWriter. A duplicate (entity_table, event_key) yields messaging.ErrDuplicate.
func (s *OutboxTable) Insert(ctx context.Context, record messaging.OutboxRecord) (int64, error) {
	status := record.Status
	if status == "" {
		status = messaging.StatusPending
	}
	payload := jsonText(record.Payload)
	next := utcPtr(record.NextAttemptAt)

	var args []any
	if s.layout == WebhookLayout {
		args = []any{record.EventType, payload, string(status), record.Attempts, next}
	} else {
		args = []any{record.EventKey, record.EntityTable, record.EntityPK, record.EventType, payload,
			string(status), record.Attempts, next}
	}

	res, err := s.exec.ExecContext(ctx, s.queries.insert, args...)
	if err != nil {
		if isDuplicateEntry(err) {
			return 0, messaging.ErrDuplicate
		}

		return 0, fmt.Errorf("messaging mysql: insert into %s failed: %w", s.table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("messaging mysql: insert id failed: %w", err)
	}

	return id, nil
}

// DueIDs implements messaging.OutboxStore.
func (s *OutboxTable) DueIDs(ctx context.Context, q messaging.DueQuery) ([]int64, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	now := q.Now.UTC()

	var (
		rows *sql.Rows
		err  error
	)
	if q.EntityTable != "" && s.queries.dueIDsEntity != "" {
		rows, err = s.db.QueryContext(ctx, s.queries.dueIDsEntity, q.EntityTable, now, now, q.Limit)
	} else {
		rows, err = s.db.QueryContext(ctx, s.queries.dueIDs, now, now, q.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("messaging mysql: select due failed: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, q.Limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("messaging mysql: scan failed: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messaging mysql: rows failed: %w", err)
	}

	return ids, nil
}

// TryClaim implements messaging.OutboxStore. The due rule is re-checked against UTC_TIMESTAMP(6).
func (s *OutboxTable) TryClaim(ctx context.Context, id int64, lease time.Duration) (*messaging.OutboxRecord, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.cfg.Isolation})
	if err != nil {
		return nil, fmt.Errorf("messaging mysql: begin tx failed: %w", err)
	}

	record, err := s.claimOne(ctx, tx, id, lease)
	if err != nil {
		return nil, errors.Join(err, tx.Rollback())
	}
	if record == nil {
		_ = tx.Rollback()

		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("messaging mysql: commit claim failed: %w", err)
	}

	return record, nil
}

func (s *OutboxTable) claimOne(ctx context.Context, tx *sql.Tx, id int64, lease time.Duration) (*messaging.OutboxRecord, error) {
	var due bool
	record, err := scanOutboxRecord(tx.QueryRowContext(ctx, s.queries.lockByID, id), &due)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("messaging mysql: lock %d failed: %w", id, err)
	}
	if !due {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, s.queries.lease, lease.Microseconds(), id); err != nil {
		return nil, fmt.Errorf("messaging mysql: lease %d failed: %w", id, err)
	}
	var next time.Time
	if err := tx.QueryRowContext(ctx, selectNextByIDs(s.table, 1), id).Scan(&id, &next); err != nil {
		return nil, fmt.Errorf("messaging mysql: read lease %d failed: %w", id, err)
	}
	record.NextAttemptAt = &next

	return &record, nil
}

// ClaimBatch implements messaging.BatchClaimer. The webhook layout has no namespace and ignores entityTable.
func (s *OutboxTable) ClaimBatch(ctx context.Context, entityTable string, limit int, lease time.Duration) ([]messaging.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.cfg.Isolation})
	if err != nil {
		return nil, fmt.Errorf("messaging mysql: begin tx failed: %w", err)
	}

	records, err := s.claimBatch(ctx, tx, entityTable, limit, lease)
	if err != nil {
		return nil, errors.Join(err, tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("messaging mysql: commit batch failed: %w", err)
	}

	return records, nil
}

func (s *OutboxTable) claimBatch(ctx context.Context, tx *sql.Tx, entityTable string, limit int, lease time.Duration) ([]messaging.OutboxRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if s.layout == WebhookLayout {
		rows, err = tx.QueryContext(ctx, s.queries.claimBatch, limit)
	} else {
		rows, err = tx.QueryContext(ctx, s.queries.claimBatch, entityTable, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("messaging mysql: select batch failed: %w", err)
	}

	records := make([]messaging.OutboxRecord, 0, limit)
	for rows.Next() {
		record, err := scanOutboxRecord(rows, nil)
		if err != nil {
			_ = rows.Close()

			return nil, fmt.Errorf("messaging mysql: scan failed: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("messaging mysql: rows failed: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messaging mysql: rows failed: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(records)+1)
	args = append(args, lease.Microseconds())
	for _, record := range records {
		args = append(args, record.ID)
	}
	if _, err := tx.ExecContext(ctx, leaseByIDs(s.table, len(records)), args...); err != nil {
		return nil, fmt.Errorf("messaging mysql: lease batch failed: %w", err)
	}

	next, err := readLeases(ctx, tx, s.table, args[1:])
	if err != nil {
		return nil, err
	}
	for i := range records {
		if at, ok := next[records[i].ID]; ok {
			records[i].NextAttemptAt = &at
		}
	}

	return records, nil
}

func readLeases(ctx context.Context, tx *sql.Tx, table string, ids []any) (map[int64]time.Time, error) {
	rows, err := tx.QueryContext(ctx, selectNextByIDs(table, len(ids)), ids...)
	if err != nil {
		return nil, fmt.Errorf("messaging mysql: read leases failed: %w", err)
	}
	defer rows.Close()

	next := make(map[int64]time.Time, len(ids))
	for rows.Next() {
		var (
			id int64
			at time.Time
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("messaging mysql: scan failed: %w", err)
		}
		next[id] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messaging mysql: rows failed: %w", err)
	}

	return next, nil
}

// MarkSent implements messaging.OutboxStore.
func (s *OutboxTable) MarkSent(ctx context.Context, id int64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, s.queries.markSent, at.UTC(), id); err != nil {
		return fmt.Errorf("messaging mysql: mark %d sent failed: %w", id, err)
	}

	return nil
}

// MarkFailed implements messaging.OutboxStore.
func (s *OutboxTable) MarkFailed(ctx context.Context, id int64, update messaging.FailureUpdate) error {
	_, err := s.db.ExecContext(ctx, s.queries.markFailed,
		update.Attempts, utcPtr(update.NextAttemptAt), update.LastError, id)
	if err != nil {
		return fmt.Errorf("messaging mysql: mark %d failed failed: %w", id, err)
	}

	return nil
}

// PendingCount implements messaging.PendingCounter.
func (s *OutboxTable) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, s.queries.countPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("messaging mysql: pending count failed: %w", err)
	}

	return count, nil
}

// Get returns a row by id, or nil when it does not exist.
func (s *OutboxTable) Get(ctx context.Context, id int64) (*messaging.OutboxRecord, error) {
	record, err := scanOutboxRecord(s.db.QueryRowContext(ctx, s.queries.get, id), nil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("messaging mysql: get %d failed: %w", id, err)
	}

	return &record, nil
}

// DeleteSentBefore removes up to limit sent rows processed at or before the cutoff.
func (s *OutboxTable) DeleteSentBefore(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, s.queries.deleteSent, before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("messaging mysql: cleanup delete failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("messaging mysql: cleanup rows failed: %w", err)
	}

	return affected, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOutboxRecord(row scanner, due *bool) (messaging.OutboxRecord, error) {
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

func jsonText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}

	return string(raw)
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.UTC()
}

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

// InboxTable is the consumer-side dedup table keyed by (source, event_key).
type InboxTable struct {
	db    DB
	table string
	q     inboxQueries
}

var _ messaging.InboxStore = (*InboxTable)(nil)

// NewInbox returns the inbox store, by default table inbox.
func NewInbox(db DB, opts ...Option) (*InboxTable, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	cfg, err := buildConfig(DefaultInboxTable, opts)
	if err != nil {
		return nil, err
	}

	return &InboxTable{db: db, table: cfg.Table, q: buildInboxQueries(cfg.Table)}, nil
}

// Table returns the sanitized table name.
func (s *InboxTable) Table() string {
	return s.table
}

// WithinTx implements messaging.InboxStore.
func (s *InboxTable) WithinTx(ctx context.Context, fn func(ctx context.Context, tx messaging.InboxTx) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(ctx, inboxTx{tx: tx, table: s.table, q: s.q})
	})
}

// MarkProcessedByKey implements messaging.InboxStore.
func (s *InboxTable) MarkProcessedByKey(ctx context.Context, source, eventKey string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, s.q.markByKey, source, eventKey, at)
	if err != nil {
		return false, fmt.Errorf("messaging postgres: ack %s/%s failed: %w", source, eventKey, err)
	}

	return tag.RowsAffected() > 0, nil
}

// DeleteBefore implements messaging.InboxStore. Processed rows are cut off by processed_at,
// failed rows by created_at.
func (s *InboxTable) DeleteBefore(ctx context.Context, source string, status messaging.Status, before time.Time) (int64, error) {
	query, ok := s.q.deleteBefore[string(status)]
	if !ok {
		return 0, fmt.Errorf("%w: status %q cannot be cleaned up", messaging.ErrInvalidArgument, status)
	}
	tag, err := s.db.Exec(ctx, query, source, before)
	if err != nil {
		return 0, fmt.Errorf("messaging postgres: cleanup %s failed: %w", s.table, err)
	}

	return tag.RowsAffected(), nil
}

type inboxTx struct {
	tx    pgx.Tx
	table string
	q     inboxQueries
}

func (t inboxTx) Insert(ctx context.Context, source, eventKey string, payload json.RawMessage) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, t.q.insert, source, eventKey, jsonText(payload)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return 0, messaging.ErrDuplicate
		}

		return 0, fmt.Errorf("messaging postgres: insert into %s failed: %w", t.table, err)
	}

	return id, nil
}

func (t inboxTx) Find(ctx context.Context, source, eventKey string) (*messaging.InboxRecord, error) {
	return t.one(t.tx.QueryRow(ctx, t.q.find, source, eventKey))
}

func (t inboxTx) ClaimBlocking(ctx context.Context, id int64) (*messaging.InboxRecord, error) {
	return t.one(t.tx.QueryRow(ctx, t.q.lockByID, id))
}

func (t inboxTx) MarkProcessed(ctx context.Context, id int64, at time.Time) error {
	if _, err := t.tx.Exec(ctx, t.q.markProcessed, id, at); err != nil {
		return fmt.Errorf("messaging postgres: mark inbox %d processed failed: %w", id, err)
	}

	return nil
}

func (t inboxTx) MarkFailed(ctx context.Context, id int64, attempts int, lastError string) error {
	if _, err := t.tx.Exec(ctx, t.q.markFailed, id, attempts, lastError); err != nil {
		return fmt.Errorf("messaging postgres: mark inbox %d failed failed: %w", id, err)
	}

	return nil
}

func (t inboxTx) one(row pgx.Row) (*messaging.InboxRecord, error) {
	var (
		record  messaging.InboxRecord
		payload []byte
		status  string
	)
	err := row.Scan(
		&record.ID,
		&record.Source,
		&record.EventKey,
		&payload,
		&status,
		&record.Attempts,
		&record.ProcessedAt,
		&record.LastError,
		&record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("messaging postgres: read %s failed: %w", t.table, err)
	}
	record.Payload = json.RawMessage(payload)
	record.Status = messaging.Status(status)

	return &record, nil
}

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

// InboxTable is the consumer-side dedup table keyed by (source, event_key).
type InboxTable struct {
	db      *sql.DB
	cfg     Config
	queries inboxQueries
	table   string
}

var _ messaging.InboxStore = (*InboxTable)(nil)

// NewInbox returns the inbox store, by default table inbox.
func NewInbox(db *sql.DB, opts ...Option) (*InboxTable, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	cfg, err := buildConfig(DefaultInboxTable, opts)
	if err != nil {
		return nil, err
	}

	return &InboxTable{db: db, cfg: cfg, queries: newInboxQueries(cfg.Table), table: cfg.Table}, nil
}

// Table returns the sanitized table name.
func (s *InboxTable) Table() string {
	return s.table
}

// WithinTx implements messaging.InboxStore.
func (s *InboxTable) WithinTx(ctx context.Context, fn func(ctx context.Context, tx messaging.InboxTx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.cfg.Isolation})
	if err != nil {
		return fmt.Errorf("messaging mysql: begin tx failed: %w", err)
	}
	if err := fn(ctx, inboxTx{tx: tx, table: s.table, q: s.queries}); err != nil {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			return errors.Join(err, rollbackErr)
		}

		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("messaging mysql: commit failed: %w", err)
	}

	return nil
}

// MarkProcessedByKey implements messaging.InboxStore.
func (s *InboxTable) MarkProcessedByKey(ctx context.Context, source, eventKey string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.queries.markByKey, at.UTC(), source, eventKey)
	if err != nil {
		return false, fmt.Errorf("messaging mysql: ack %s/%s failed: %w", source, eventKey, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("messaging mysql: ack rows failed: %w", err)
	}

	return affected > 0, nil
}

// DeleteBefore implements messaging.InboxStore. Processed rows are cut off by processed_at,
// failed rows by created_at.
func (s *InboxTable) DeleteBefore(ctx context.Context, source string, status messaging.Status, before time.Time) (int64, error) {
	query, ok := s.queries.deleteBefore[string(status)]
	if !ok {
		return 0, fmt.Errorf("%w: status %q cannot be cleaned up", messaging.ErrInvalidArgument, status)
	}
	res, err := s.db.ExecContext(ctx, query, source, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("messaging mysql: cleanup %s failed: %w", s.table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("messaging mysql: cleanup rows failed: %w", err)
	}

	return affected, nil
}

type inboxTx struct {
	tx    *sql.Tx
	table string
	q     inboxQueries
}

func (t inboxTx) Insert(ctx context.Context, source, eventKey string, payload json.RawMessage) (int64, error) {
	res, err := t.tx.ExecContext(ctx, t.q.insert, source, eventKey, jsonText(payload))
	if err != nil {
		if isDuplicateEntry(err) {
			return 0, messaging.ErrDuplicate
		}

		return 0, fmt.Errorf("messaging mysql: insert into %s failed: %w", t.table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("messaging mysql: insert id failed: %w", err)
	}

	return id, nil
}

func (t inboxTx) Find(ctx context.Context, source, eventKey string) (*messaging.InboxRecord, error) {
	return t.one(t.tx.QueryRowContext(ctx, t.q.find, source, eventKey))
}

func (t inboxTx) ClaimBlocking(ctx context.Context, id int64) (*messaging.InboxRecord, error) {
	return t.one(t.tx.QueryRowContext(ctx, t.q.lockByID, id))
}

func (t inboxTx) MarkProcessed(ctx context.Context, id int64, at time.Time) error {
	if _, err := t.tx.ExecContext(ctx, t.q.markProcessed, at.UTC(), id); err != nil {
		return fmt.Errorf("messaging mysql: mark inbox %d processed failed: %w", id, err)
	}

	return nil
}

func (t inboxTx) MarkFailed(ctx context.Context, id int64, attempts int, lastError string) error {
	if _, err := t.tx.ExecContext(ctx, t.q.markFailed, attempts, lastError, id); err != nil {
		return fmt.Errorf("messaging mysql: mark inbox %d failed failed: %w", id, err)
	}

	return nil
}

func (t inboxTx) one(row *sql.Row) (*messaging.InboxRecord, error) {
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
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("messaging mysql: read %s failed: %w", t.table, err)
	}
	record.Payload = json.RawMessage(payload)
	record.Status = messaging.Status(status)

	return &record, nil
}

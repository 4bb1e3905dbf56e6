package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/velmie/messaging"
)

const (
	defaultCleanupLimit      = 10000
	defaultCleanupEvery      = time.Hour
	defaultCleanupLockPrefix = "messaging:cleanup:"
)

// CleanupResult reports how many rows were removed.
type CleanupResult struct {
	Outbox int64
	Inbox  int64
}

// CleanupMaintainerConfig controls periodic removal of sent outbox rows and processed inbox rows.
type CleanupMaintainerConfig struct {
	// OutboxTables are pruned of sent rows. Defaults to event_outbox and webhook_outbox.
	OutboxTables []string
	// InboxTable is pruned of processed rows. Empty disables inbox cleanup.
	InboxTable string
	// Retention removes rows older than now-retention (required).
	Retention time.Duration
	// CheckEvery is the interval between cleanup runs.
	CheckEvery time.Duration
	// Limit caps the number of rows deleted per table and run (0 uses the default).
	Limit int
	// LockName is the advisory lock name. Defaults to messaging:cleanup:<first outbox table>.
	LockName string
	// Clock overrides time source (useful for tests).
	Clock messaging.Clock
	// Logger receives warnings about cleanup failures.
	Logger messaging.Logger
}

// CleanupMaintainer runs periodic cleanup guarded by GET_LOCK so only one session prunes at a time.
type CleanupMaintainer struct {
	db          *sql.DB
	cfg         CleanupMaintainerConfig
	outbox      []*OutboxTable
	inboxDelete string
}

// NewCleanupMaintainer creates a new cleanup maintainer with defaults applied.
func NewCleanupMaintainer(db *sql.DB, cfg CleanupMaintainerConfig) (*CleanupMaintainer, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrCleanupRetentionInvalid
	}
	if cfg.Clock == nil {
		cfg.Clock = messaging.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = messaging.NopLogger{}
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultCleanupEvery
	}
	if cfg.Limit == 0 {
		cfg.Limit = defaultCleanupLimit
	}
	if cfg.Limit < 0 {
		return nil, ErrCleanupLimitInvalid
	}
	if len(cfg.OutboxTables) == 0 {
		cfg.OutboxTables = []string{DefaultEventOutboxTable, DefaultWebhookOutboxTable}
	}

	m := &CleanupMaintainer{db: db}
	for _, name := range cfg.OutboxTables {
		table, err := NewEventOutbox(db, WithTable(name))
		if err != nil {
			return nil, err
		}
		m.outbox = append(m.outbox, table)
	}
	if cfg.InboxTable != "" {
		name, err := sanitizeTableName(cfg.InboxTable)
		if err != nil {
			return nil, err
		}
		// #nosec G201 -- table name is sanitized.
		m.inboxDelete = fmt.Sprintf(
			"DELETE FROM %s WHERE status = 'processed' AND processed_at IS NOT NULL AND processed_at <= ? ORDER BY id LIMIT ?",
			name,
		)
	}
	if cfg.LockName == "" {
		cfg.LockName = defaultCleanupLockPrefix + m.outbox[0].Table()
	}
	m.cfg = cfg

	return m, nil
}

// Run periodically deletes old rows until the context is canceled.
func (m *CleanupMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	if _, err := m.Ensure(ctx); err != nil {
		m.cfg.Logger.Warn("messaging cleanup failed", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Ensure(ctx); err != nil {
				m.cfg.Logger.Warn("messaging cleanup failed", "err", err)
			}
		}
	}
}

// Ensure executes a single cleanup pass.
func (m *CleanupMaintainer) Ensure(ctx context.Context) (CleanupResult, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("messaging mysql: cleanup conn failed: %w", err)
	}
	defer conn.Close()

	locked, err := m.tryLock(ctx, conn)
	if err != nil {
		return CleanupResult{}, err
	}
	if !locked {
		m.cfg.Logger.Debug("messaging cleanup lock held by another session", "lock", m.cfg.LockName)

		return CleanupResult{}, nil
	}
	defer m.releaseLock(ctx, conn)

	before := m.cfg.Clock.Now().Add(-m.cfg.Retention).UTC()

	var res CleanupResult
	for _, table := range m.outbox {
		n, err := table.DeleteSentBefore(ctx, before, m.cfg.Limit)
		if err != nil {
			return res, err
		}
		res.Outbox += n
	}
	if m.inboxDelete != "" {
		out, err := m.db.ExecContext(ctx, m.inboxDelete, before, m.cfg.Limit)
		if err != nil {
			return res, fmt.Errorf("messaging mysql: inbox cleanup failed: %w", err)
		}
		if res.Inbox, err = out.RowsAffected(); err != nil {
			return res, fmt.Errorf("messaging mysql: cleanup rows failed: %w", err)
		}
	}
	if res.Outbox > 0 || res.Inbox > 0 {
		m.cfg.Logger.Info("messaging cleanup pass", "outbox", res.Outbox, "inbox", res.Inbox, "before", before)
	}

	return res, nil
}

func (m *CleanupMaintainer) tryLock(ctx context.Context, conn *sql.Conn) (bool, error) {
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", m.cfg.LockName).Scan(&got); err != nil {
		return false, fmt.Errorf("messaging mysql: acquire cleanup lock failed: %w", err)
	}
	if !got.Valid || got.Int64 == 0 {
		return false, nil
	}

	return true, nil
}

func (m *CleanupMaintainer) releaseLock(ctx context.Context, conn *sql.Conn) {
	var released sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", m.cfg.LockName).Scan(&released); err != nil {
		m.cfg.Logger.Warn("messaging cleanup release lock failed", "err", err)
	}
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

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

// CleanupMaintainerConfig controls periodic removal of delivered outbox rows and processed inbox rows.
type CleanupMaintainerConfig struct {
	// OutboxTables are the outbox tables to prune of sent rows. Defaults to event_outbox and webhook_outbox.
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
	Clock    messaging.Clock
	Logger   messaging.Logger
}

// CleanupMaintainer prunes terminal rows. Concurrent maintainers serialize on a transaction-scoped
// advisory lock; a maintainer that does not get the lock skips the pass.
type CleanupMaintainer struct {
	db          DB
	cfg         CleanupMaintainerConfig
	outbox      []string
	inboxDelete string
}

// NewCleanupMaintainer creates a cleanup maintainer with defaults applied.
func NewCleanupMaintainer(db DB, cfg CleanupMaintainerConfig) (*CleanupMaintainer, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrCleanupRetentionInvalid
	}
	if cfg.Limit < 0 {
		return nil, ErrCleanupLimitInvalid
	}
	if cfg.Limit == 0 {
		cfg.Limit = defaultCleanupLimit
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultCleanupEvery
	}
	if cfg.Clock == nil {
		cfg.Clock = messaging.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = messaging.NopLogger{}
	}
	if len(cfg.OutboxTables) == 0 {
		cfg.OutboxTables = []string{DefaultEventOutboxTable, DefaultWebhookOutboxTable}
	}

	m := &CleanupMaintainer{db: db}
	for _, table := range cfg.OutboxTables {
		name, err := sanitizeTableName(table)
		if err != nil {
			return nil, err
		}
		m.outbox = append(m.outbox, buildOutboxQueries(name, EventLayout).deleteSent)
	}
	if cfg.InboxTable != "" {
		name, err := sanitizeTableName(cfg.InboxTable)
		if err != nil {
			return nil, err
		}
		m.inboxDelete = fmt.Sprintf(
			"DELETE FROM %[1]s WHERE id IN (SELECT id FROM %[1]s WHERE status = 'processed' AND processed_at IS NOT NULL "+
				"AND processed_at <= $1 ORDER BY id LIMIT $2)",
			name,
		)
	}
	if cfg.LockName == "" {
		cfg.LockName = defaultCleanupLockPrefix + cfg.OutboxTables[0]
	}
	m.cfg = cfg

	return m, nil
}

// Run performs a pass immediately and then every CheckEvery until ctx is canceled.
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
	before := m.cfg.Clock.Now().Add(-m.cfg.Retention)

	var res CleanupResult
	err := pgx.BeginFunc(ctx, m.db, func(tx pgx.Tx) error {
		var locked bool
		if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock(hashtext($1))", m.cfg.LockName).Scan(&locked); err != nil {
			return fmt.Errorf("acquire cleanup lock: %w", err)
		}
		if !locked {
			m.cfg.Logger.Debug("messaging cleanup lock held by another session", "lock", m.cfg.LockName)

			return nil
		}

		for _, query := range m.outbox {
			tag, err := tx.Exec(ctx, query, before, m.cfg.Limit)
			if err != nil {
				return fmt.Errorf("delete sent rows: %w", err)
			}
			res.Outbox += tag.RowsAffected()
		}
		if m.inboxDelete != "" {
			tag, err := tx.Exec(ctx, m.inboxDelete, before, m.cfg.Limit)
			if err != nil {
				return fmt.Errorf("delete processed inbox rows: %w", err)
			}
			res.Inbox = tag.RowsAffected()
		}

		return nil
	})
	if err != nil {
		return CleanupResult{}, fmt.Errorf("messaging postgres: cleanup failed: %w", err)
	}
	if res.Outbox > 0 || res.Inbox > 0 {
		m.cfg.Logger.Info("messaging cleanup pass", "outbox", res.Outbox, "inbox", res.Inbox, "before", before)
	}

	return res, nil
}

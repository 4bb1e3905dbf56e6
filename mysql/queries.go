package mysql

import "fmt"

const placeholderGrowth = 2

// Layout selects the column set of an outbox table.
type Layout int

const (
	// EventLayout is the event outbox: entity namespace, event key and attempts.
	EventLayout Layout = iota
	// WebhookLayout is the webhook outbox: no entity columns and a retries counter.
	WebhookLayout
)

func (l Layout) String() string {
	if l == WebhookLayout {
		return "webhook"
	}

	return "event"
}

func dueCondition(at string) string {
	return fmt.Sprintf(
		"((status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= %[1]s)) OR "+
			"(status = 'failed' AND next_attempt_at IS NOT NULL AND next_attempt_at <= %[1]s))",
		at,
	)
}

type queries struct {
	insert       string
	dueIDs       string
	dueIDsEntity string
	lockByID     string
	lease        string
	claimBatch   string
	markSent     string
	markFailed   string
	countPending string
	deleteSent   string
	get          string
}

func newQueries(table string, layout Layout) queries {
	var cols, insert, claimBatch, attempts string
	switch layout {
	case WebhookLayout:
		attempts = "retries"
		cols = "id, '', '', '', event_type, payload, status, retries, next_attempt_at, processed_at, " +
			"COALESCE(last_error, ''), created_at"
		insert = fmt.Sprintf(
			"INSERT INTO %s (event_type, payload, status, retries, next_attempt_at) VALUES (?, ?, ?, ?, ?)",
			table,
		)
		claimBatch = fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s ORDER BY id ASC LIMIT ? FOR UPDATE SKIP LOCKED",
			cols, table, dueCondition("UTC_TIMESTAMP(6)"),
		)
	default:
		attempts = "attempts"
		cols = "id, event_key, entity_table, entity_pk, event_type, payload, status, attempts, next_attempt_at, " +
			"processed_at, COALESCE(last_error, ''), created_at"
		insert = fmt.Sprintf(
			"INSERT INTO %s (event_key, entity_table, entity_pk, event_type, payload, status, attempts, next_attempt_at) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			table,
		)
		claimBatch = fmt.Sprintf(
			"SELECT %s FROM %s WHERE entity_table = ? AND %s ORDER BY id ASC LIMIT ? FOR UPDATE SKIP LOCKED",
			cols, table, dueCondition("UTC_TIMESTAMP(6)"),
		)
	}

	q := queries{
		insert: insert,
		// The due time is bound twice: once per branch of the condition.
		dueIDs: fmt.Sprintf(
			"SELECT id FROM %s WHERE %s ORDER BY id ASC LIMIT ?",
			table, dueCondition("?"),
		),
		lockByID: fmt.Sprintf(
			"SELECT %s, %s AS due FROM %s WHERE id = ? FOR UPDATE SKIP LOCKED",
			cols, dueCondition("UTC_TIMESTAMP(6)"), table,
		),
		lease: fmt.Sprintf(
			"UPDATE %s SET next_attempt_at = DATE_ADD(UTC_TIMESTAMP(6), INTERVAL ? MICROSECOND) WHERE id = ?",
			table,
		),
		claimBatch: claimBatch,
		markSent: fmt.Sprintf(
			"UPDATE %s SET status = 'sent', processed_at = ?, next_attempt_at = NULL, last_error = NULL WHERE id = ?",
			table,
		),
		markFailed: fmt.Sprintf(
			"UPDATE %s SET status = 'failed', %s = ?, next_attempt_at = ?, last_error = ? WHERE id = ?",
			table, attempts,
		),
		countPending: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, dueCondition("UTC_TIMESTAMP(6)")),
		deleteSent: fmt.Sprintf(
			"DELETE FROM %s WHERE status = 'sent' AND processed_at IS NOT NULL AND processed_at <= ? ORDER BY id LIMIT ?",
			table,
		),
		get: fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", cols, table),
	}
	if layout == EventLayout {
		q.dueIDsEntity = fmt.Sprintf(
			"SELECT id FROM %s WHERE entity_table = ? AND %s ORDER BY id ASC LIMIT ?",
			table, dueCondition("?"),
		)
	}

	return q
}

// selectNextByIDs reads back lease times after a batch claim.
func selectNextByIDs(table string, count int) string {
	return fmt.Sprintf("SELECT id, next_attempt_at FROM %s WHERE id IN (%s)", table, makePlaceholders(count))
}

func leaseByIDs(table string, count int) string {
	return fmt.Sprintf(
		"UPDATE %s SET next_attempt_at = DATE_ADD(UTC_TIMESTAMP(6), INTERVAL ? MICROSECOND) WHERE id IN (%s)",
		table, makePlaceholders(count),
	)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}

	buf := make([]byte, 0, count*placeholderGrowth)
	for i := 0; i < count; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '?')
	}

	return string(buf)
}

type inboxQueries struct {
	insert        string
	find          string
	lockByID      string
	markProcessed string
	markFailed    string
	markByKey     string
	deleteBefore  map[string]string
}

const inboxColumns = "id, source, event_key, payload, status, attempts, processed_at, COALESCE(last_error, ''), created_at"

func newInboxQueries(table string) inboxQueries {
	return inboxQueries{
		insert: fmt.Sprintf(
			"INSERT INTO %s (source, event_key, payload, status, attempts) VALUES (?, ?, ?, 'pending', 0)",
			table,
		),
		find:     fmt.Sprintf("SELECT %s FROM %s WHERE source = ? AND event_key = ?", inboxColumns, table),
		lockByID: fmt.Sprintf("SELECT %s FROM %s WHERE id = ? FOR UPDATE", inboxColumns, table),
		markProcessed: fmt.Sprintf(
			"UPDATE %s SET status = 'processed', processed_at = ?, last_error = NULL WHERE id = ?",
			table,
		),
		markFailed: fmt.Sprintf(
			"UPDATE %s SET status = 'failed', attempts = ?, last_error = ? WHERE id = ?",
			table,
		),
		markByKey: fmt.Sprintf(
			"UPDATE %s SET status = 'processed', processed_at = ?, last_error = NULL WHERE source = ? AND event_key = ?",
			table,
		),
		deleteBefore: map[string]string{
			"processed": fmt.Sprintf(
				"DELETE FROM %s WHERE source = ? AND status = 'processed' AND processed_at IS NOT NULL AND processed_at < ?",
				table,
			),
			"failed": fmt.Sprintf(
				"DELETE FROM %s WHERE source = ? AND status = 'failed' AND created_at < ?",
				table,
			),
		},
	}
}

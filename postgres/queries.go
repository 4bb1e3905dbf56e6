package postgres

import (
	"fmt"
	"strings"
)

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

func (l Layout) attemptsColumn() string {
	if l == WebhookLayout {
		return "retries"
	}

	return "attempts"
}

// dueCondition renders the claimability rule against the time expression at.
func dueCondition(at string) string {
	return fmt.Sprintf(
		"((status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= %[1]s)) OR "+
			"(status = 'failed' AND next_attempt_at IS NOT NULL AND next_attempt_at <= %[1]s))",
		at,
	)
}

type outboxQueries struct {
	insert       string
	dueIDs       string
	dueIDsEntity string
	lockByID     string
	lease        string
	claimBatch   string
	leaseBatch   string
	markSent     string
	markFailed   string
	countPending string
	deleteSent   string
	get          string
}

func buildOutboxQueries(table string, layout Layout) outboxQueries {
	attempts := layout.attemptsColumn()

	var columns, insert, claimBatch string
	switch layout {
	case WebhookLayout:
		columns = "id, '', '', '', event_type, payload, status, retries, next_attempt_at, processed_at, " +
			"COALESCE(last_error, ''), created_at"
		insert = fmt.Sprintf(
			"INSERT INTO %s (event_type, payload, status, retries, next_attempt_at) "+
				"VALUES ($1, $2::jsonb, $3, $4, $5) RETURNING id",
			table,
		)
		claimBatch = fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s ORDER BY id ASC LIMIT $1 FOR UPDATE SKIP LOCKED",
			columns, table, dueCondition("now()"),
		)
	default:
		columns = "id, event_key, entity_table, entity_pk, event_type, payload, status, attempts, " +
			"next_attempt_at, processed_at, COALESCE(last_error, ''), created_at"
		insert = fmt.Sprintf(
			"INSERT INTO %s (event_key, entity_table, entity_pk, event_type, payload, status, attempts, next_attempt_at) "+
				"VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8) "+
				"ON CONFLICT (entity_table, event_key) DO NOTHING RETURNING id",
			table,
		)
		claimBatch = fmt.Sprintf(
			"SELECT %s FROM %s WHERE entity_table = $2 AND %s ORDER BY id ASC LIMIT $1 FOR UPDATE SKIP LOCKED",
			columns, table, dueCondition("now()"),
		)
	}

	q := outboxQueries{
		insert: insert,
		dueIDs: fmt.Sprintf(
			"SELECT id FROM %s WHERE %s ORDER BY id ASC LIMIT $2",
			table, dueCondition("$1"),
		),
		lockByID: fmt.Sprintf(
			"SELECT %s, %s AS due FROM %s WHERE id = $1 FOR UPDATE SKIP LOCKED",
			columns, dueCondition("now()"), table,
		),
		lease: fmt.Sprintf(
			"UPDATE %s SET next_attempt_at = now() + make_interval(secs => $2) WHERE id = $1 RETURNING next_attempt_at",
			table,
		),
		claimBatch: claimBatch,
		leaseBatch: fmt.Sprintf(
			"UPDATE %s SET next_attempt_at = now() + make_interval(secs => $2) WHERE id = ANY($1) "+
				"RETURNING id, next_attempt_at",
			table,
		),
		markSent: fmt.Sprintf(
			"UPDATE %s SET status = 'sent', processed_at = $2, next_attempt_at = NULL, last_error = NULL WHERE id = $1",
			table,
		),
		markFailed: fmt.Sprintf(
			"UPDATE %s SET status = 'failed', %s = $2, next_attempt_at = $3, last_error = $4 WHERE id = $1",
			table, attempts,
		),
		countPending: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, dueCondition("now()")),
		deleteSent: fmt.Sprintf(
			"DELETE FROM %[1]s WHERE id IN (SELECT id FROM %[1]s WHERE status = 'sent' AND processed_at IS NOT NULL "+
				"AND processed_at <= $1 ORDER BY id LIMIT $2)",
			table,
		),
		get: fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", columns, table),
	}
	if layout == EventLayout {
		q.dueIDsEntity = fmt.Sprintf(
			"SELECT id FROM %s WHERE entity_table = $3 AND %s ORDER BY id ASC LIMIT $2",
			table, dueCondition("$1"),
		)
	}

	return q
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

func buildInboxQueries(table string) inboxQueries {
	return inboxQueries{
		insert: fmt.Sprintf(
			"INSERT INTO %s (source, event_key, payload, status, attempts) VALUES ($1, $2, $3::jsonb, 'pending', 0) "+
				"ON CONFLICT (source, event_key) DO NOTHING RETURNING id",
			table,
		),
		find:     fmt.Sprintf("SELECT %s FROM %s WHERE source = $1 AND event_key = $2", inboxColumns, table),
		lockByID: fmt.Sprintf("SELECT %s FROM %s WHERE id = $1 FOR UPDATE", inboxColumns, table),
		markProcessed: fmt.Sprintf(
			"UPDATE %s SET status = 'processed', processed_at = $2, last_error = NULL WHERE id = $1",
			table,
		),
		markFailed: fmt.Sprintf(
			"UPDATE %s SET status = 'failed', attempts = $2, last_error = $3 WHERE id = $1",
			table,
		),
		markByKey: fmt.Sprintf(
			"UPDATE %s SET status = 'processed', processed_at = $3, last_error = NULL WHERE source = $1 AND event_key = $2",
			table,
		),
		deleteBefore: map[string]string{
			"processed": fmt.Sprintf(
				"DELETE FROM %s WHERE source = $1 AND status = 'processed' AND processed_at IS NOT NULL AND processed_at < $2",
				table,
			),
			"failed": fmt.Sprintf(
				"DELETE FROM %s WHERE source = $1 AND status = 'failed' AND created_at < $2",
				table,
			),
		},
	}
}

// statementsOf splits a DDL script on statement terminators.
func statementsOf(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}

	return out
}

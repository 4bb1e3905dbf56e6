package postgres

import (
	"context"
	"fmt"
	"strings"
)

const eventOutboxTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGSERIAL PRIMARY KEY,
	event_key VARCHAR(36) NOT NULL,
	entity_table VARCHAR(64) NOT NULL,
	entity_pk VARCHAR(64) NOT NULL,
	event_type VARCHAR(100) NOT NULL,
	payload JSONB NOT NULL DEFAULT '{}'::jsonb,
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	attempts INT NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMPTZ NULL,
	processed_at TIMESTAMPTZ NULL,
	last_error TEXT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	CONSTRAINT %[2]s UNIQUE (entity_table, event_key)
);
CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s (status, next_attempt_at, id);`

const webhookOutboxTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGSERIAL PRIMARY KEY,
	event_type VARCHAR(100) NOT NULL,
	payload JSONB NOT NULL DEFAULT '{}'::jsonb,
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	retries INT NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMPTZ NULL,
	processed_at TIMESTAMPTZ NULL,
	last_error TEXT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (status, next_attempt_at, id);`

const inboxTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGSERIAL PRIMARY KEY,
	source VARCHAR(100) NOT NULL,
	event_key VARCHAR(64) NOT NULL,
	payload JSONB NOT NULL DEFAULT '{}'::jsonb,
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	attempts INT NOT NULL DEFAULT 0,
	processed_at TIMESTAMPTZ NULL,
	last_error TEXT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	CONSTRAINT %[2]s UNIQUE (source, event_key)
);`

const messagesTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	topic TEXT NOT NULL,
	payload JSONB NOT NULL,
	headers JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

const jobsTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	task TEXT NOT NULL,
	payload JSONB NOT NULL,
	headers JSONB NOT NULL,
	run_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (status, run_at);`

// EventOutboxSchema returns the DDL of an event outbox table.
func EventOutboxSchema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(eventOutboxTemplate, name, indexName(name, "event_key_uq"), indexName(name, "due_idx")), nil
}

// WebhookOutboxSchema returns the DDL of a webhook outbox table.
func WebhookOutboxSchema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(webhookOutboxTemplate, name, indexName(name, "due_idx")), nil
}

// InboxSchema returns the DDL of an inbox table.
func InboxSchema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(inboxTemplate, name, indexName(name, "source_key_uq")), nil
}

// MessagesSchema returns the DDL of the Transport table.
func MessagesSchema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(messagesTemplate, name), nil
}

// JobsSchema returns the DDL of the Scheduler table.
func JobsSchema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(jobsTemplate, name, indexName(name, "due_idx")), nil
}

// Schema returns the DDL of every table under its default name.
func Schema() string {
	parts := []string{
		mustSchema(EventOutboxSchema(DefaultEventOutboxTable)),
		mustSchema(WebhookOutboxSchema(DefaultWebhookOutboxTable)),
		mustSchema(InboxSchema(DefaultInboxTable)),
		mustSchema(MessagesSchema(DefaultMessagesTable)),
		mustSchema(JobsSchema(DefaultJobsTable)),
	}

	return strings.Join(parts, "\n\n")
}

// Migrate creates every default table that does not exist yet.
func Migrate(ctx context.Context, db DB) error {
	if db == nil {
		return ErrDBRequired
	}
	for _, stmt := range statementsOf(Schema()) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("messaging postgres: migrate failed: %w", err)
		}
	}

	return nil
}

func mustSchema(ddl string, err error) string {
	if err != nil {
		panic(err)
	}

	return ddl
}

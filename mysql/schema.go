package mysql

import (
	"fmt"
	"strings"
)

const eventOutboxTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
	event_key VARCHAR(36) NOT NULL,
	entity_table VARCHAR(64) NOT NULL,
	entity_pk VARCHAR(64) NOT NULL,
	event_type VARCHAR(100) NOT NULL,
	payload JSON NOT NULL,
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	attempts INT NOT NULL DEFAULT 0,
	next_attempt_at DATETIME(6) NULL,
	processed_at DATETIME(6) NULL,
	last_error TEXT NULL,
	created_at DATETIME(6) NOT NULL DEFAULT (UTC_TIMESTAMP(6)),
	PRIMARY KEY (id),
	UNIQUE KEY uq_entity_event_key (entity_table, event_key),
	INDEX idx_due (status, next_attempt_at, id)
);`

const webhookOutboxTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
	event_type VARCHAR(100) NOT NULL,
	payload JSON NOT NULL,
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	retries INT NOT NULL DEFAULT 0,
	next_attempt_at DATETIME(6) NULL,
	processed_at DATETIME(6) NULL,
	last_error TEXT NULL,
	created_at DATETIME(6) NOT NULL DEFAULT (UTC_TIMESTAMP(6)),
	PRIMARY KEY (id),
	INDEX idx_due (status, next_attempt_at, id)
);`

const inboxTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
	source VARCHAR(100) NOT NULL,
	event_key VARCHAR(64) NOT NULL,
	payload JSON NOT NULL,
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	attempts INT NOT NULL DEFAULT 0,
	processed_at DATETIME(6) NULL,
	last_error TEXT NULL,
	created_at DATETIME(6) NOT NULL DEFAULT (UTC_TIMESTAMP(6)),
	PRIMARY KEY (id),
	UNIQUE KEY uq_source_event_key (source, event_key)
);`

// EventOutboxSchema returns the DDL of an event outbox table.
func EventOutboxSchema(table string) (string, error) {
	return buildSchema(eventOutboxTemplate, table)
}

// WebhookOutboxSchema returns the DDL of a webhook outbox table.
func WebhookOutboxSchema(table string) (string, error) {
	return buildSchema(webhookOutboxTemplate, table)
}

// InboxSchema returns the DDL of an inbox table.
func InboxSchema(table string) (string, error) {
	return buildSchema(inboxTemplate, table)
}

// Schema returns the DDL of the event outbox, webhook outbox and inbox under their default names.
// Execute it statement by statement or on a connection opened with multiStatements=true.
func Schema() string {
	event, _ := EventOutboxSchema(DefaultEventOutboxTable)
	webhook, _ := WebhookOutboxSchema(DefaultWebhookOutboxTable)
	inbox, _ := InboxSchema(DefaultInboxTable)

	return strings.Join([]string{event, webhook, inbox}, "\n\n")
}

func buildSchema(template, table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(template, name), nil
}

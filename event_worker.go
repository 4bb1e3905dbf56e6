package messaging

import (
	"context"
	"time"
)

// NewEventOutboxWorker builds a worker that publishes due event outbox rows through transport.
func NewEventOutboxWorker(store OutboxStore, transport Transport, cfg EventOutboxConfig, opts ...Option) (*Worker, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if transport == nil {
		return nil, ErrTransportRequired
	}
	cfg = cfg.Normalized()

	settings := workerSettings{
		name:        cfg.WorkerName,
		kind:        "messaging.event_outbox",
		table:       eventOutboxTable,
		attemptsKey: "attempts",
		batchSize:   cfg.BatchSize,
		lease:       cfg.Lease(),
		maxAttempts: cfg.MaxAttempts,
		entityTable: cfg.EntityTable,
		backoff:     cfg.Backoff(),
	}

	deliver := func(ctx context.Context, record OutboxRecord, payload map[string]any) error {
		eventType, err := requireEventType(record)
		if err != nil {
			return err
		}

		return transport.Publish(ctx, NewEnvelope(eventType, payload, recordHeaders(record)))
	}

	return newWorker(store, deliver, settings, opts), nil
}

// recordHeaders returns the non-empty metadata headers attached to published envelopes.
func recordHeaders(record OutboxRecord) map[string]any {
	headers := make(map[string]any, 4)
	if record.EventKey != "" {
		headers["event_key"] = record.EventKey
	}
	if record.EntityTable != "" {
		headers["entity_table"] = record.EntityTable
	}
	if record.EntityPK != "" {
		headers["entity_pk"] = record.EntityPK
	}
	if !record.CreatedAt.IsZero() {
		headers["created_at"] = record.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	return headers
}

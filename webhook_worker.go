package messaging

import (
	"context"
	"errors"
)

// NewWebhookOutboxWorker builds a worker that dispatches due webhook outbox rows through dispatcher.
func NewWebhookOutboxWorker(store OutboxStore, dispatcher Dispatcher, cfg WebhookOutboxConfig, opts ...Option) (*Worker, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if dispatcher == nil {
		return nil, ErrDispatcherRequired
	}
	cfg = cfg.Normalized()

	settings := workerSettings{
		name:        cfg.WorkerName,
		kind:        "messaging.webhook_outbox",
		table:       webhookOutboxTable,
		attemptsKey: "retries",
		batchSize:   cfg.BatchSize,
		lease:       cfg.Lease(),
		maxAttempts: cfg.MaxRetries,
		backoff:     cfg.Backoff(),
	}

	deliver := func(ctx context.Context, record OutboxRecord, payload map[string]any) error {
		eventType, err := requireEventType(record)
		if err != nil {
			return err
		}

		result := dispatcher.Dispatch(ctx, eventType, payload, DispatchMeta{
			ID:        record.ID,
			EventType: eventType,
			Retries:   record.Attempts,
		})
		if !result.OK {
			return errors.New(result.Error())
		}

		return nil
	}

	return newWorker(store, deliver, settings, opts), nil
}

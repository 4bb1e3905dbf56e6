package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	flushLease          = 300 * time.Second
	notifyTimeout       = 5 * time.Second
	notificationWebhook = "webhook"
)

// Outbox writes messages into the event outbox and offers a flush path for legacy senders.
type Outbox struct {
	repo    OutboxRepository
	table   string
	backoff Backoff
	opts    Options
}

// NewOutbox builds an Outbox for the given entity table (normalized, defaulting to "outbox").
func NewOutbox(repo OutboxRepository, table string, opts ...Option) (*Outbox, error) {
	if repo == nil {
		return nil, ErrStoreRequired
	}
	o := buildOptions(opts)
	backoff := LegacyBackoff()
	backoff.Jitter = o.Jitter

	return &Outbox{
		repo:    repo,
		table:   NormalizeFixedString(table, MaxEntityTableLen, DefaultEntityTable),
		backoff: backoff,
		opts:    o,
	}, nil
}

// Table returns the normalized entity table.
func (o *Outbox) Table() string {
	return o.table
}

// Enqueue stores a message. With a DedupKey, a second enqueue for the same table and topic is absorbed.
func (o *Outbox) Enqueue(ctx context.Context, req EnqueueRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	topic := strings.TrimSpace(req.Topic)
	eventType := NormalizeFixedString(topic, MaxEventTypeLen, topic)
	entityPK := NormalizeFixedString(req.PartitionKey, MaxEntityPKLen, DefaultEntityPK)

	dedup := strings.TrimSpace(req.DedupKey) != ""
	eventKey := NewRandomID()
	if dedup {
		eventKey = NormalizeID(req.DedupKey, o.table+"|"+eventType)
	}

	notifications := req.Notifications
	if notifications == nil {
		notifications = []Notification{}
	}
	raw, err := json.Marshal(storedPayload{
		Payload:       cloneDocument(req.Payload),
		Headers:       cloneDocument(req.Headers),
		Notifications: notifications,
	})
	if err != nil {
		return fmt.Errorf("messaging: encode outbox payload: %w", err)
	}
	if o.opts.Encrypter != nil {
		raw, err = o.opts.Encrypter.Encrypt(ctx, eventOutboxTable, raw)
		if err != nil {
			return fmt.Errorf("messaging: encrypt outbox payload: %w", err)
		}
	}

	record := OutboxRecord{
		EventKey:    eventKey,
		EntityTable: o.table,
		EntityPK:    entityPK,
		EventType:   eventType,
		Payload:     raw,
		Status:      StatusPending,
	}
	if !req.AvailableAt.IsZero() {
		at := req.AvailableAt.UTC()
		record.NextAttemptAt = &at
	}

	if _, err := o.repo.Insert(ctx, record); err != nil {
		if dedup && errors.Is(err, ErrDuplicate) {
			o.opts.Logger.Info("outbox-duplicate", "topic", eventType, "dedup", req.DedupKey)

			return nil
		}

		return err
	}

	return nil
}

// Flush leases up to limit due rows of this table in one transaction and hands each to sender.
// It returns the number of rows sent.
func (o *Outbox) Flush(ctx context.Context, sender Sender, limit int) (int, error) {
	if sender == nil {
		return 0, fmt.Errorf("%w: outbox sender is required", ErrInvalidArgument)
	}
	limit = max(1, limit)

	rows, err := o.repo.ClaimBatch(ctx, o.table, limit, flushLease)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, row := range rows {
		if row.ID <= 0 {
			continue
		}
		if err := o.flushOne(ctx, sender, row); err != nil {
			if markErr := o.markFailed(ctx, row, err); markErr != nil {
				return sent, markErr
			}

			continue
		}
		sent++
	}

	return sent, nil
}

func (o *Outbox) flushOne(ctx context.Context, sender Sender, row OutboxRecord) error {
	stored := o.decodeStored(ctx, row.Payload)

	ok, err := sender.Send(ctx, toLegacyRow(row, stored))
	if err != nil {
		return err
	}
	if !ok {
		return ErrSenderRejected
	}

	if err := o.repo.MarkSent(ctx, row.ID, o.opts.Clock.Now()); err != nil {
		return err
	}
	o.dispatchNotifications(ctx, row, stored.Notifications)

	return nil
}

func (o *Outbox) markFailed(ctx context.Context, row OutboxRecord, cause error) error {
	wait := o.backoff.Delay(row.Attempts)
	next := o.opts.Clock.Now().Add(wait)

	if err := o.repo.MarkFailed(ctx, row.ID, FailureUpdate{
		Attempts:      row.Attempts + 1,
		NextAttemptAt: &next,
		LastError:     TruncateError(cause),
	}); err != nil {
		return fmt.Errorf("messaging: record flush failure for %d: %w", row.ID, errors.Join(cause, err))
	}

	o.opts.Logger.Warn("outbox-send-failed",
		"id", row.ID,
		"topic", row.EventType,
		"next_in_s", int(wait/time.Second),
		"error", cause.Error(),
	)

	return nil
}

func (o *Outbox) decodeStored(ctx context.Context, raw json.RawMessage) storedPayload {
	doc := maybeDecrypt(ctx, o.opts.Decrypter, eventOutboxTable, DecodeDocument(raw))

	var stored storedPayload
	if encoded, err := json.Marshal(doc); err == nil {
		_ = json.Unmarshal(encoded, &stored)
	}

	return stored
}

func (o *Outbox) dispatchNotifications(ctx context.Context, row OutboxRecord, notes []Notification) {
	for _, note := range notes {
		if note.Type != notificationWebhook {
			continue
		}
		url := strings.TrimSpace(note.URL)
		if url == "" {
			continue
		}
		if o.opts.Notifier == nil {
			o.opts.Logger.Warn("outbox-webhook-skipped", "url", url, "reason", "no notifier configured")

			continue
		}

		body := note.Payload
		if body == nil {
			body = map[string]any{}
		}
		notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
		result := o.opts.Notifier.Dispatch(notifyCtx, row.EventType, map[string]any{
			"url":  url,
			"body": body,
		}, DispatchMeta{ID: row.ID, EventType: row.EventType, Retries: row.Attempts})
		cancel()

		if !result.OK {
			o.opts.Logger.Warn("outbox-webhook-failed", "url", url, "status", result.StatusCode, "error", result.Error())
		}
	}
}

func toLegacyRow(row OutboxRecord, stored storedPayload) LegacyRow {
	payload := stored.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	headers := stored.Headers
	if headers == nil {
		headers = map[string]any{}
	}

	return LegacyRow{
		ID:       row.ID,
		Topic:    row.EventType,
		PartKey:  row.EntityPK,
		Payload:  encodeOrEmpty(payload),
		Headers:  encodeOrEmpty(headers),
		Attempts: row.Attempts,
	}
}

func encodeOrEmpty(v map[string]any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}

	return string(raw)
}

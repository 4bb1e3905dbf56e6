package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const day = 24 * time.Hour

// Inbox executes handlers at most once per inbound message id for a single source.
type Inbox struct {
	store  InboxStore
	source string
	opts   Options
}

// NewInbox builds an Inbox. The source is normalized to MaxSourceLen, defaulting to "inbox".
func NewInbox(store InboxStore, source string, opts ...Option) (*Inbox, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}

	return &Inbox{
		store:  store,
		source: NormalizeFixedString(source, MaxSourceLen, DefaultSource),
		opts:   buildOptions(opts),
	}, nil
}

// Source returns the normalized source name.
func (i *Inbox) Source() string {
	return i.source
}

// EventKey returns the dedup key stored for messageID.
func (i *Inbox) EventKey(messageID string) string {
	return NormalizeID(messageID, i.source)
}

// Process records messageID and runs h unless the message was already processed.
// It reports whether the handler ran successfully. A handler error is recorded on the row,
// committed, and returned unchanged.
func (i *Inbox) Process(ctx context.Context, messageID, topic string, h Handler) (bool, error) {
	if strings.TrimSpace(messageID) == "" {
		return false, fmt.Errorf("%w: message id is required", ErrInvalidArgument)
	}
	if h == nil {
		return false, fmt.Errorf("%w: handler is required", ErrInvalidArgument)
	}

	msg := InboxMessage{
		ID:       messageID,
		Topic:    topic,
		EventKey: i.EventKey(messageID),
		Source:   i.source,
	}
	payload, err := json.Marshal(map[string]any{"topic": topic})
	if err != nil {
		return false, fmt.Errorf("messaging: encode inbox payload: %w", err)
	}

	var (
		processed  bool
		handlerErr error
	)
	err = i.store.WithinTx(ctx, func(ctx context.Context, tx InboxTx) error {
		processed, handlerErr = false, nil

		record, err := i.resolve(ctx, tx, msg, payload)
		if err != nil || record == nil {
			return err
		}

		locked, err := tx.ClaimBlocking(ctx, record.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return nil
		}
		if locked.Status == StatusProcessed {
			i.opts.Logger.Debug("inbox-duplicate", "source", i.source, "event_key", msg.EventKey)

			return nil
		}

		if err := h.Handle(ctx, msg); err != nil {
			handlerErr = err
			attempts := locked.Attempts + 1
			i.opts.Logger.Warn("inbox-handler-failed",
				"source", i.source,
				"event_key", msg.EventKey,
				"topic", topic,
				"attempts", attempts,
				"error", err,
			)

			return tx.MarkFailed(ctx, locked.ID, attempts, TruncateError(err))
		}

		if err := tx.MarkProcessed(ctx, locked.ID, i.opts.Clock.Now()); err != nil {
			return err
		}
		processed = true

		return nil
	})
	if err != nil {
		return false, errors.Join(handlerErr, err)
	}
	if handlerErr != nil {
		return false, handlerErr
	}

	return processed, nil
}

func (i *Inbox) resolve(ctx context.Context, tx InboxTx, msg InboxMessage, payload json.RawMessage) (*InboxRecord, error) {
	id, err := tx.Insert(ctx, i.source, msg.EventKey, payload)
	if err == nil {
		return &InboxRecord{ID: id, Source: i.source, EventKey: msg.EventKey, Status: StatusPending}, nil
	}
	if !errors.Is(err, ErrDuplicate) {
		return nil, err
	}

	return tx.Find(ctx, i.source, msg.EventKey)
}

// Ack forces the row for messageID to processed without running a handler.
// A message that was never recorded is left alone.
func (i *Inbox) Ack(ctx context.Context, messageID string) error {
	if strings.TrimSpace(messageID) == "" {
		return fmt.Errorf("%w: message id is required", ErrInvalidArgument)
	}
	key := i.EventKey(messageID)
	found, err := i.store.MarkProcessedByKey(ctx, i.source, key, i.opts.Clock.Now())
	if err != nil {
		return err
	}
	if !found {
		i.opts.Logger.Debug("inbox-ack-missing", "source", i.source, "event_key", key)
	}

	return nil
}

// Cleanup deletes rows in the given terminal status older than olderThanDays.
// Zero days cuts off at the current time.
// An empty status means processed.
func (i *Inbox) Cleanup(ctx context.Context, status Status, olderThanDays int) (int64, error) {
	if status == "" {
		status = StatusProcessed
	}
	if status != StatusProcessed && status != StatusFailed {
		return 0, fmt.Errorf("%w: cleanup status %q is not terminal", ErrInvalidArgument, status)
	}
	olderThanDays = max(0, olderThanDays)
	before := i.opts.Clock.Now().Add(-time.Duration(olderThanDays) * day)

	return i.store.DeleteBefore(ctx, i.source, status, before)
}

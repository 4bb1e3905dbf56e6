package messaging

import (
	"fmt"
	"strings"
	"time"
)

// Notification is a best-effort side channel fired after a record is flushed successfully.
// Only Type "webhook" is understood.
type Notification struct {
	Type    string         `json:"type"`
	URL     string         `json:"url,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// EnqueueRequest describes a new outbox message to be persisted.
type EnqueueRequest struct {
	// Topic becomes the event type. Required.
	Topic string
	// Payload is the message body.
	Payload map[string]any
	// PartitionKey is stored as entity_pk, defaulting to "-".
	PartitionKey string
	// DedupKey makes the enqueue idempotent per (table, topic). Empty means a random key.
	DedupKey string
	// Headers are stored next to the payload and handed to legacy senders.
	Headers map[string]any
	// AvailableAt delays the first delivery attempt.
	AvailableAt time.Time
	// Notifications are fired after a successful flush.
	Notifications []Notification
}

// Validate checks required fields.
func (r EnqueueRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return fmt.Errorf("%w: outbox topic must not be empty", ErrInvalidArgument)
	}
	for i, n := range r.Notifications {
		if n.Type == "" {
			return fmt.Errorf("%w: notification %d has no type", ErrInvalidArgument, i)
		}
	}

	return nil
}

// storedPayload is the JSON document kept in the payload column for enqueued messages.
type storedPayload struct {
	Payload       map[string]any `json:"payload"`
	Headers       map[string]any `json:"headers"`
	Notifications []Notification `json:"notifications"`
}

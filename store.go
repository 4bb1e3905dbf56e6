package messaging

import (
	"context"
	"encoding/json"
	"time"
)

// DueQuery selects claimable outbox rows.
type DueQuery struct {
	// Now is the selection time computed by the worker.
	Now time.Time
	// Limit caps the number of ids returned.
	Limit int
	// EntityTable optionally restricts the selection to one namespace.
	EntityTable string
}

// OutboxStore is the storage contract of the claim/process loop.
type OutboxStore interface {
	// DueIDs returns ids of rows that are due at q.Now in ascending order: pending rows whose
	// next_attempt_at is null or <= q.Now, and failed rows whose next_attempt_at is set and <= q.Now.
	DueIDs(ctx context.Context, q DueQuery) ([]int64, error)
	// TryClaim locks the row with skip-locked semantics inside a short transaction, re-checks that it is
	// still retryable and due using the store's clock, and pushes next_attempt_at forward by lease.
	// It returns nil without error when the row cannot be claimed.
	TryClaim(ctx context.Context, id int64, lease time.Duration) (*OutboxRecord, error)
	// MarkSent moves the row to sent and clears next_attempt_at.
	MarkSent(ctx context.Context, id int64, at time.Time) error
	// MarkFailed records a failed attempt.
	MarkFailed(ctx context.Context, id int64, update FailureUpdate) error
}

// OutboxWriter inserts outbox rows. Inserts violating (entity_table, event_key) return ErrDuplicate.
type OutboxWriter interface {
	Insert(ctx context.Context, record OutboxRecord) (int64, error)
}

// BatchClaimer leases a batch of due rows in a single skip-locked transaction.
type BatchClaimer interface {
	ClaimBatch(ctx context.Context, entityTable string, limit int, lease time.Duration) ([]OutboxRecord, error)
}

// OutboxRepository is what the Outbox producer needs from storage.
type OutboxRepository interface {
	OutboxStore
	OutboxWriter
	BatchClaimer
}

// PendingCounter is optionally implemented by stores and workers to report the due backlog.
type PendingCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

// InboxStore is the storage contract of the Inbox.
type InboxStore interface {
	// WithinTx runs fn in a transaction. The transaction commits when fn returns nil.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx InboxTx) error) error
	// MarkProcessedByKey forces an existing row to processed. It reports whether a row was found.
	MarkProcessedByKey(ctx context.Context, source, eventKey string, at time.Time) (bool, error)
	// DeleteBefore removes rows of source in the given terminal status older than before.
	DeleteBefore(ctx context.Context, source string, status Status, before time.Time) (int64, error)
}

// InboxTx is the transactional view used by Inbox.Process.
type InboxTx interface {
	// Insert creates a pending row and returns its id, or ErrDuplicate when (source, eventKey) exists.
	Insert(ctx context.Context, source, eventKey string, payload json.RawMessage) (int64, error)
	// Find returns the row for (source, eventKey), or nil.
	Find(ctx context.Context, source, eventKey string) (*InboxRecord, error)
	// ClaimBlocking locks the row, waiting for concurrent holders. It returns nil when the row is missing.
	ClaimBlocking(ctx context.Context, id int64) (*InboxRecord, error)
	// MarkProcessed sets processed, processed_at and clears last_error.
	MarkProcessed(ctx context.Context, id int64, at time.Time) error
	// MarkFailed sets failed with the new attempt count and error text.
	MarkFailed(ctx context.Context, id int64, attempts int, lastError string) error
}

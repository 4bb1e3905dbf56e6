package memory

import (
	"context"
	"encoding/json"
	"maps"
	"sync"
	"time"

	"github.com/velmie/messaging"
)

// InboxTable is an in-memory messaging.InboxStore. Transactions are serialized, which gives the
// blocking-lock behavior the inbox relies on; a failed transaction restores the previous state.
type InboxTable struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	clock  messaging.Clock
	nextID int64
	rows   map[int64]*messaging.InboxRecord
	keys   map[string]int64
}

var _ messaging.InboxStore = (*InboxTable)(nil)

// NewInboxTable returns an empty table.
func NewInboxTable(clock messaging.Clock) *InboxTable {
	if clock == nil {
		clock = messaging.SystemClock{}
	}

	return &InboxTable{
		clock: clock,
		rows:  make(map[int64]*messaging.InboxRecord),
		keys:  make(map[string]int64),
	}
}

// WithinTx implements messaging.InboxStore.
func (t *InboxTable) WithinTx(ctx context.Context, fn func(ctx context.Context, tx messaging.InboxTx) error) error {
	t.txMu.Lock()
	defer t.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := t.snapshot()
	if err := fn(ctx, inboxTx{t: t}); err != nil {
		t.restore(snapshot)

		return err
	}

	return nil
}

// MarkProcessedByKey implements messaging.InboxStore.
func (t *InboxTable) MarkProcessedByKey(_ context.Context, source, eventKey string, at time.Time) (bool, error) {
	t.txMu.Lock()
	defer t.txMu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.keys[inboxKey(source, eventKey)]
	if !ok {
		return false, nil
	}
	row := t.rows[id]
	row.Status = messaging.StatusProcessed
	row.ProcessedAt = &at
	row.LastError = ""

	return true, nil
}

// DeleteBefore implements messaging.InboxStore. Processed rows are aged by processed_at,
// failed rows by created_at.
func (t *InboxTable) DeleteBefore(_ context.Context, source string, status messaging.Status, before time.Time) (int64, error) {
	t.txMu.Lock()
	defer t.txMu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	var n int64
	for id, row := range t.rows {
		if row.Source != source || row.Status != status {
			continue
		}
		ts := row.CreatedAt
		if status == messaging.StatusProcessed {
			if row.ProcessedAt == nil {
				continue
			}
			ts = *row.ProcessedAt
		}
		if !ts.Before(before) {
			continue
		}
		delete(t.rows, id)
		delete(t.keys, inboxKey(row.Source, row.EventKey))
		n++
	}

	return n, nil
}

// Get returns a copy of the row for (source, eventKey).
func (t *InboxTable) Get(source, eventKey string) (messaging.InboxRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.keys[inboxKey(source, eventKey)]
	if !ok {
		return messaging.InboxRecord{}, false
	}

	return cloneInbox(*t.rows[id]), true
}

// Len returns the number of stored rows.
func (t *InboxTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.rows)
}

type inboxSnapshot struct {
	nextID int64
	rows   map[int64]*messaging.InboxRecord
	keys   map[string]int64
}

func (t *InboxTable) snapshot() inboxSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := make(map[int64]*messaging.InboxRecord, len(t.rows))
	for id, row := range t.rows {
		c := cloneInbox(*row)
		rows[id] = &c
	}

	return inboxSnapshot{nextID: t.nextID, rows: rows, keys: maps.Clone(t.keys)}
}

func (t *InboxTable) restore(s inboxSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID = s.nextID
	t.rows = s.rows
	t.keys = s.keys
}

type inboxTx struct {
	t *InboxTable
}

func (tx inboxTx) Insert(_ context.Context, source, eventKey string, payload json.RawMessage) (int64, error) {
	t := tx.t
	t.mu.Lock()
	defer t.mu.Unlock()

	key := inboxKey(source, eventKey)
	if _, ok := t.keys[key]; ok {
		return 0, messaging.ErrDuplicate
	}
	t.nextID++
	t.rows[t.nextID] = &messaging.InboxRecord{
		ID:        t.nextID,
		Source:    source,
		EventKey:  eventKey,
		Payload:   append(json.RawMessage(nil), payload...),
		Status:    messaging.StatusPending,
		CreatedAt: t.clock.Now(),
	}
	t.keys[key] = t.nextID

	return t.nextID, nil
}

func (tx inboxTx) Find(_ context.Context, source, eventKey string) (*messaging.InboxRecord, error) {
	t := tx.t
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.keys[inboxKey(source, eventKey)]
	if !ok {
		return nil, nil
	}
	row := cloneInbox(*t.rows[id])

	return &row, nil
}

func (tx inboxTx) ClaimBlocking(_ context.Context, id int64) (*messaging.InboxRecord, error) {
	t := tx.t
	t.mu.Lock()
	defer t.mu.Unlock()

	row, ok := t.rows[id]
	if !ok {
		return nil, nil
	}
	c := cloneInbox(*row)

	return &c, nil
}

func (tx inboxTx) MarkProcessed(_ context.Context, id int64, at time.Time) error {
	t := tx.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if row, ok := t.rows[id]; ok {
		row.Status = messaging.StatusProcessed
		row.ProcessedAt = &at
		row.LastError = ""
	}

	return nil
}

func (tx inboxTx) MarkFailed(_ context.Context, id int64, attempts int, lastError string) error {
	t := tx.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if row, ok := t.rows[id]; ok {
		row.Status = messaging.StatusFailed
		row.Attempts = attempts
		row.LastError = lastError
	}

	return nil
}

func inboxKey(source, eventKey string) string {
	return source + "|" + eventKey
}

func cloneInbox(r messaging.InboxRecord) messaging.InboxRecord {
	r.Payload = append(json.RawMessage(nil), r.Payload...)
	r.ProcessedAt = cloneTime(r.ProcessedAt)

	return r
}

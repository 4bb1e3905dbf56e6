package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/velmie/messaging"
)

// OutboxTable is an in-memory messaging.OutboxRepository.
type OutboxTable struct {
	mu     sync.Mutex
	clock  messaging.Clock
	nextID int64
	rows   map[int64]*messaging.OutboxRecord
	keys   map[string]int64
	held   map[int64]int
}

var _ messaging.OutboxRepository = (*OutboxTable)(nil)
var _ messaging.PendingCounter = (*OutboxTable)(nil)

// NewOutboxTable returns an empty table. The clock is used for claim re-checks, leases and created_at.
func NewOutboxTable(clock messaging.Clock) *OutboxTable {
	if clock == nil {
		clock = messaging.SystemClock{}
	}

	return &OutboxTable{
		clock: clock,
		rows:  make(map[int64]*messaging.OutboxRecord),
		keys:  make(map[string]int64),
		held:  make(map[int64]int),
	}
}

// Insert stores a record and returns its id. Records with an event key are unique per entity table.
func (t *OutboxTable) Insert(_ context.Context, record messaging.OutboxRecord) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var key string
	if record.EventKey != "" {
		key = record.EntityTable + "|" + record.EventKey
		if _, ok := t.keys[key]; ok {
			return 0, messaging.ErrDuplicate
		}
	}

	t.nextID++
	record.ID = t.nextID
	if record.Status == "" {
		record.Status = messaging.StatusPending
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = t.clock.Now()
	}
	stored := cloneOutbox(record)
	t.rows[record.ID] = &stored
	if key != "" {
		t.keys[key] = record.ID
	}

	return record.ID, nil
}

// DueIDs implements messaging.OutboxStore.
func (t *OutboxTable) DueIDs(_ context.Context, q messaging.DueQuery) ([]int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]int64, 0, q.Limit)
	for _, id := range t.sortedIDs() {
		if len(ids) >= q.Limit {
			break
		}
		row := t.rows[id]
		if q.EntityTable != "" && row.EntityTable != q.EntityTable {
			continue
		}
		if row.Due(q.Now) {
			ids = append(ids, id)
		}
	}

	return ids, nil
}

// TryClaim implements messaging.OutboxStore. Held rows behave like rows locked by a peer transaction.
func (t *OutboxTable) TryClaim(_ context.Context, id int64, lease time.Duration) (*messaging.OutboxRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	row, ok := t.rows[id]
	if !ok || t.held[id] > 0 {
		return nil, nil
	}
	now := t.clock.Now()
	if !row.Due(now) {
		return nil, nil
	}

	until := now.Add(lease)
	row.NextAttemptAt = &until
	claimed := cloneOutbox(*row)

	return &claimed, nil
}

// ClaimBatch implements messaging.BatchClaimer.
func (t *OutboxTable) ClaimBatch(_ context.Context, entityTable string, limit int, lease time.Duration) ([]messaging.OutboxRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	until := now.Add(lease)
	out := make([]messaging.OutboxRecord, 0, limit)
	for _, id := range t.sortedIDs() {
		if len(out) >= limit {
			break
		}
		row := t.rows[id]
		if row.EntityTable != entityTable || t.held[id] > 0 || !row.Due(now) {
			continue
		}
		leased := until
		row.NextAttemptAt = &leased
		out = append(out, cloneOutbox(*row))
	}

	return out, nil
}

// MarkSent implements messaging.OutboxStore.
func (t *OutboxTable) MarkSent(_ context.Context, id int64, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	row, ok := t.rows[id]
	if !ok {
		return nil
	}
	row.Status = messaging.StatusSent
	row.ProcessedAt = &at
	row.NextAttemptAt = nil
	row.LastError = ""

	return nil
}

// MarkFailed implements messaging.OutboxStore.
func (t *OutboxTable) MarkFailed(_ context.Context, id int64, update messaging.FailureUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	row, ok := t.rows[id]
	if !ok {
		return nil
	}
	row.Status = messaging.StatusFailed
	row.Attempts = update.Attempts
	row.NextAttemptAt = cloneTime(update.NextAttemptAt)
	row.LastError = update.LastError

	return nil
}

// PendingCount implements messaging.PendingCounter.
func (t *OutboxTable) PendingCount(_ context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	count := 0
	for _, row := range t.rows {
		if row.Due(now) {
			count++
		}
	}

	return count, nil
}

// Hold marks the row as locked by another transaction until the returned release func is called.
func (t *OutboxTable) Hold(id int64) (release func()) {
	t.mu.Lock()
	t.held[id]++
	t.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			t.mu.Lock()
			t.held[id]--
			t.mu.Unlock()
		})
	}
}

// Get returns a copy of the row.
func (t *OutboxTable) Get(id int64) (messaging.OutboxRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	row, ok := t.rows[id]
	if !ok {
		return messaging.OutboxRecord{}, false
	}

	return cloneOutbox(*row), true
}

// Records returns copies of all rows ordered by id.
func (t *OutboxTable) Records() []messaging.OutboxRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]messaging.OutboxRecord, 0, len(t.rows))
	for _, id := range t.sortedIDs() {
		out = append(out, cloneOutbox(*t.rows[id]))
	}

	return out
}

// DeleteSentBefore removes sent rows processed before the cutoff.
func (t *OutboxTable) DeleteSentBefore(_ context.Context, before time.Time) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var n int64
	for id, row := range t.rows {
		if row.Status != messaging.StatusSent || row.ProcessedAt == nil || !row.ProcessedAt.Before(before) {
			continue
		}
		delete(t.rows, id)
		if row.EventKey != "" {
			delete(t.keys, row.EntityTable+"|"+row.EventKey)
		}
		n++
	}

	return n, nil
}

func (t *OutboxTable) sortedIDs() []int64 {
	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}

func cloneOutbox(r messaging.OutboxRecord) messaging.OutboxRecord {
	r.Payload = append([]byte(nil), r.Payload...)
	r.NextAttemptAt = cloneTime(r.NextAttemptAt)
	r.ProcessedAt = cloneTime(r.ProcessedAt)

	return r
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t

	return &v
}

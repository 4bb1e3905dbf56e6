package messaging

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type sequenceClock struct {
	times []time.Time
	index int
}

func (c *sequenceClock) Now() time.Time {
	if len(c.times) == 0 {
		return time.Time{}
	}
	if c.index >= len(c.times) {
		return c.times[len(c.times)-1]
	}
	t := c.times[c.index]
	c.index++

	return t
}

func zeroJitter() time.Duration {
	return 0
}

// fakeOutboxStore mimics a relational outbox table. now is the store's own clock.
type fakeOutboxStore struct {
	mu       sync.Mutex
	now      time.Time
	nextID   int64
	records  map[int64]*OutboxRecord
	locked   map[int64]bool
	dueErr   error
	claimErr error
	sentErr  error
	failErr  error
	insErr   error
	queries  []DueQuery
}

func newFakeOutboxStore(now time.Time) *fakeOutboxStore {
	return &fakeOutboxStore{
		now:     now,
		records: make(map[int64]*OutboxRecord),
		locked:  make(map[int64]bool),
	}
}

func (s *fakeOutboxStore) add(r OutboxRecord) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	r.ID = s.nextID
	if r.Status == "" {
		r.Status = StatusPending
	}
	s.records[r.ID] = &r

	return r.ID
}

func (s *fakeOutboxStore) get(id int64) OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return *s.records[id]
}

func (s *fakeOutboxStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}

func (s *fakeOutboxStore) DueIDs(_ context.Context, q DueQuery) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries = append(s.queries, q)
	if s.dueErr != nil {
		return nil, s.dueErr
	}
	var ids []int64
	for _, id := range s.sortedIDs() {
		r := s.records[id]
		if q.EntityTable != "" && r.EntityTable != q.EntityTable {
			continue
		}
		if r.Due(q.Now) && len(ids) < q.Limit {
			ids = append(ids, id)
		}
	}

	return ids, nil
}

func (s *fakeOutboxStore) TryClaim(_ context.Context, id int64, lease time.Duration) (*OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claimErr != nil {
		return nil, s.claimErr
	}
	r, ok := s.records[id]
	if !ok || s.locked[id] || !r.Due(s.now) {
		return nil, nil
	}
	until := s.now.Add(lease)
	r.NextAttemptAt = &until
	claimed := *r

	return &claimed, nil
}

func (s *fakeOutboxStore) ClaimBatch(_ context.Context, entityTable string, limit int, lease time.Duration) ([]OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claimErr != nil {
		return nil, s.claimErr
	}
	var out []OutboxRecord
	for _, id := range s.sortedIDs() {
		r := s.records[id]
		if r.EntityTable != entityTable || s.locked[id] || !r.Due(s.now) || len(out) >= limit {
			continue
		}
		until := s.now.Add(lease)
		r.NextAttemptAt = &until
		out = append(out, *r)
	}

	return out, nil
}

func (s *fakeOutboxStore) MarkSent(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sentErr != nil {
		return s.sentErr
	}
	r := s.records[id]
	r.Status = StatusSent
	r.ProcessedAt = &at
	r.NextAttemptAt = nil

	return nil
}

func (s *fakeOutboxStore) MarkFailed(_ context.Context, id int64, update FailureUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failErr != nil {
		return s.failErr
	}
	r := s.records[id]
	r.Status = StatusFailed
	r.Attempts = update.Attempts
	r.NextAttemptAt = update.NextAttemptAt
	r.LastError = update.LastError

	return nil
}

func (s *fakeOutboxStore) Insert(_ context.Context, record OutboxRecord) (int64, error) {
	s.mu.Lock()
	if s.insErr != nil {
		s.mu.Unlock()
		return 0, s.insErr
	}
	for _, r := range s.records {
		if r.EntityTable == record.EntityTable && r.EventKey == record.EventKey {
			s.mu.Unlock()
			return 0, ErrDuplicate
		}
	}
	s.mu.Unlock()

	return s.add(record), nil
}

func (s *fakeOutboxStore) PendingCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.records {
		if r.Due(s.now) {
			n++
		}
	}

	return n, nil
}

type fakeInboxStore struct {
	mu       sync.Mutex
	nextID   int64
	rows     map[int64]*InboxRecord
	insErr   error
	deletes  []inboxDelete
	deleteN  int64
	txCount  int
	rollback int
}

type inboxDelete struct {
	source string
	status Status
	before time.Time
}

func newFakeInboxStore() *fakeInboxStore {
	return &fakeInboxStore{rows: make(map[int64]*InboxRecord)}
}

func (s *fakeInboxStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx InboxTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txCount++
	snapshot := make(map[int64]InboxRecord, len(s.rows))
	for id, r := range s.rows {
		snapshot[id] = *r
	}
	nextID := s.nextID

	if err := fn(ctx, fakeInboxTx{s: s}); err != nil {
		s.rollback++
		s.rows = make(map[int64]*InboxRecord, len(snapshot))
		for id, r := range snapshot {
			s.rows[id] = &r
		}
		s.nextID = nextID

		return err
	}

	return nil
}

func (s *fakeInboxStore) MarkProcessedByKey(_ context.Context, source, eventKey string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.find(source, eventKey)
	if r == nil {
		return false, nil
	}
	r.Status = StatusProcessed
	r.ProcessedAt = &at

	return true, nil
}

func (s *fakeInboxStore) DeleteBefore(_ context.Context, source string, status Status, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deletes = append(s.deletes, inboxDelete{source: source, status: status, before: before})

	return s.deleteN, nil
}

func (s *fakeInboxStore) find(source, eventKey string) *InboxRecord {
	for _, r := range s.rows {
		if r.Source == source && r.EventKey == eventKey {
			return r
		}
	}

	return nil
}

func (s *fakeInboxStore) record(source, eventKey string) (InboxRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.find(source, eventKey)
	if r == nil {
		return InboxRecord{}, false
	}

	return *r, true
}

// fakeInboxTx runs while fakeInboxStore.mu is held by WithinTx.
type fakeInboxTx struct {
	s *fakeInboxStore
}

func (tx fakeInboxTx) Insert(_ context.Context, source, eventKey string, payload json.RawMessage) (int64, error) {
	if tx.s.insErr != nil {
		return 0, tx.s.insErr
	}
	if tx.s.find(source, eventKey) != nil {
		return 0, ErrDuplicate
	}
	tx.s.nextID++
	tx.s.rows[tx.s.nextID] = &InboxRecord{
		ID:       tx.s.nextID,
		Source:   source,
		EventKey: eventKey,
		Payload:  payload,
		Status:   StatusPending,
	}

	return tx.s.nextID, nil
}

func (tx fakeInboxTx) Find(_ context.Context, source, eventKey string) (*InboxRecord, error) {
	r := tx.s.find(source, eventKey)
	if r == nil {
		return nil, nil
	}
	c := *r

	return &c, nil
}

func (tx fakeInboxTx) ClaimBlocking(_ context.Context, id int64) (*InboxRecord, error) {
	r, ok := tx.s.rows[id]
	if !ok {
		return nil, nil
	}
	c := *r

	return &c, nil
}

func (tx fakeInboxTx) MarkProcessed(_ context.Context, id int64, at time.Time) error {
	r := tx.s.rows[id]
	r.Status = StatusProcessed
	r.ProcessedAt = &at
	r.LastError = ""

	return nil
}

func (tx fakeInboxTx) MarkFailed(_ context.Context, id int64, attempts int, lastError string) error {
	r := tx.s.rows[id]
	r.Status = StatusFailed
	r.Attempts = attempts
	r.LastError = lastError

	return nil
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *captureLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *captureLogger) count(level, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			n++
		}
	}

	return n
}

type captureMetrics struct {
	mu           sync.Mutex
	batches      int
	sent         int
	retries      int
	dead         int
	skipped      int
	pending      int
	pendingCalls int
}

func (m *captureMetrics) ObserveBatchDuration(time.Duration) {
	m.mu.Lock()
	m.batches++
	m.mu.Unlock()
}

func (m *captureMetrics) AddSent(count int) {
	m.mu.Lock()
	m.sent += count
	m.mu.Unlock()
}

func (m *captureMetrics) AddRetries(count int) {
	m.mu.Lock()
	m.retries += count
	m.mu.Unlock()
}

func (m *captureMetrics) AddDead(count int) {
	m.mu.Lock()
	m.dead += count
	m.mu.Unlock()
}

func (m *captureMetrics) AddSkipped(count int) {
	m.mu.Lock()
	m.skipped += count
	m.mu.Unlock()
}

func (m *captureMetrics) SetPending(count int) {
	m.mu.Lock()
	m.pending = count
	m.pendingCalls++
	m.mu.Unlock()
}

type captureTransport struct {
	mu        sync.Mutex
	envelopes []Envelope
	err       error
}

func (t *captureTransport) Publish(_ context.Context, env Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return t.err
	}
	t.envelopes = append(t.envelopes, env)

	return nil
}

type dispatchCall struct {
	eventType string
	payload   map[string]any
	meta      DispatchMeta
}

type captureDispatcher struct {
	mu     sync.Mutex
	calls  []dispatchCall
	result DispatchResult
}

func (d *captureDispatcher) Dispatch(_ context.Context, eventType string, payload map[string]any, meta DispatchMeta) DispatchResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, dispatchCall{eventType: eventType, payload: payload, meta: meta})

	return d.result
}

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func newTestOutbox(t *testing.T, store OutboxRepository, table string, opts ...Option) *Outbox {
	t.Helper()

	opts = append([]Option{WithClock(fixedClock{now: testNow}), WithJitter(zeroJitter)}, opts...)
	o, err := NewOutbox(store, table, opts...)
	if err != nil {
		t.Fatalf("new outbox: %v", err)
	}

	return o
}

func TestOutboxEnqueue(t *testing.T) {
	store := newFakeOutboxStore(testNow)
	o := newTestOutbox(t, store, "orders")

	err := o.Enqueue(context.Background(), EnqueueRequest{
		Topic:   " orders.created ",
		Payload: map[string]any{"id": 7},
		Headers: map[string]any{"trace": "abc"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rec := store.get(1)
	if rec.EntityTable != "orders" || rec.EventType != "orders.created" || rec.EntityPK != DefaultEntityPK {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Status != StatusPending || rec.NextAttemptAt != nil {
		t.Fatalf("expected immediately due pending record, got %+v", rec)
	}
	if !IsID(rec.EventKey) || rec.EventKey[14] != '4' {
		t.Fatalf("expected random event key, got %q", rec.EventKey)
	}
	want := `{"headers":{"trace":"abc"},"notifications":[],"payload":{"id":7}}`
	var got, expected any
	_ = json.Unmarshal(rec.Payload, &got)
	_ = json.Unmarshal([]byte(want), &expected)
	if mustJSON(t, got) != mustJSON(t, expected) {
		t.Fatalf("unexpected stored payload %s", rec.Payload)
	}
}

func TestOutboxEnqueueDedup(t *testing.T) {
	store := newFakeOutboxStore(testNow)
	logger := &captureLogger{}
	o := newTestOutbox(t, store, "orders", WithLogger(logger))

	req := EnqueueRequest{Topic: "orders.created", DedupKey: "order-7", PartitionKey: "7"}
	if err := o.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := o.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("enqueue duplicate: %v", err)
	}

	if len(store.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(store.records))
	}
	rec := store.get(1)
	if rec.EventKey != NormalizeID("order-7", "orders|orders.created") {
		t.Fatalf("unexpected event key %q", rec.EventKey)
	}
	if rec.EntityPK != "7" {
		t.Fatalf("unexpected entity pk %q", rec.EntityPK)
	}
	if logger.count("info", "outbox-duplicate") != 1 {
		t.Fatalf("expected duplicate to be logged")
	}
}

func TestOutboxEnqueueErrors(t *testing.T) {
	store := newFakeOutboxStore(testNow)
	o := newTestOutbox(t, store, "")
	if o.Table() != DefaultEntityTable {
		t.Fatalf("expected default table, got %q", o.Table())
	}

	if err := o.Enqueue(context.Background(), EnqueueRequest{Topic: "  "}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if err := o.Enqueue(context.Background(), EnqueueRequest{Topic: "a", Notifications: []Notification{{URL: "x"}}}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for untyped notification, got %v", err)
	}

	store.insErr = errors.New("insert failed")
	if err := o.Enqueue(context.Background(), EnqueueRequest{Topic: "a"}); !errors.Is(err, store.insErr) {
		t.Fatalf("expected insert error, got %v", err)
	}

	store.insErr = ErrDuplicate
	if err := o.Enqueue(context.Background(), EnqueueRequest{Topic: "a"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate without dedup key to surface, got %v", err)
	}

	if _, err := NewOutbox(nil, "x"); !errors.Is(err, ErrStoreRequired) {
		t.Fatalf("expected ErrStoreRequired, got %v", err)
	}
}

func TestOutboxEnqueueAvailableAt(t *testing.T) {
	store := newFakeOutboxStore(testNow)
	o := newTestOutbox(t, store, "orders")
	at := testNow.Add(time.Hour)

	if err := o.Enqueue(context.Background(), EnqueueRequest{Topic: "a", AvailableAt: at}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if rec := store.get(1); rec.NextAttemptAt == nil || !rec.NextAttemptAt.Equal(at) {
		t.Fatalf("expected delayed record, got %+v", rec)
	}

	n, err := o.Flush(context.Background(), SenderFunc(func(context.Context, LegacyRow) (bool, error) {
		return true, nil
	}), 10)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected delayed record not to flush, got %d", n)
	}
}

type sealingEncrypter struct{}

func (sealingEncrypter) Encrypt(_ context.Context, table string, payload json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(map[string]any{"sealed": string(payload), "table": table})
}

func TestOutboxEnqueueEncryptsAndFlushDecrypts(t *testing.T) {
	store := newFakeOutboxStore(testNow)
	decrypter := DecrypterFunc(func(_ context.Context, _ string, payload json.RawMessage) (json.RawMessage, error) {
		var doc struct {
			Sealed string `json:"sealed"`
		}
		if err := json.Unmarshal(payload, &doc); err != nil || doc.Sealed == "" {
			return payload, err
		}

		return json.RawMessage(doc.Sealed), nil
	})
	o := newTestOutbox(t, store, "orders", WithEncrypter(sealingEncrypter{}), WithDecrypter(decrypter))

	if err := o.Enqueue(context.Background(), EnqueueRequest{Topic: "a", Payload: map[string]any{"secret": "s"}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	stored := DecodeDocument(store.get(1).Payload)
	if stored["table"] != "event_outbox" || stored["sealed"] == nil {
		t.Fatalf("expected sealed payload, got %v", stored)
	}

	var row LegacyRow
	if _, err := o.Flush(context.Background(), SenderFunc(func(_ context.Context, r LegacyRow) (bool, error) {
		row = r
		return true, nil
	}), 1); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if row.Payload != `{"secret":"s"}` {
		t.Fatalf("expected decrypted payload, got %s", row.Payload)
	}
}

func TestOutboxFlushSendsAndNotifies(t *testing.T) {
	store := newFakeOutboxStore(testNow)
	notifier := &captureDispatcher{result: DispatchSucceeded(200)}
	o := newTestOutbox(t, store, "orders", WithNotifier(notifier))

	err := o.Enqueue(context.Background(), EnqueueRequest{
		Topic:        "orders.created",
		Payload:      map[string]any{"id": 1},
		PartitionKey: "p-1",
		Notifications: []Notification{
			{Type: "webhook", URL: "https://example.test/hook", Payload: map[string]any{"ok": true}},
			{Type: "email", URL: "ignored"},
			{Type: "webhook", URL: " "},
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	_ = store.add(OutboxRecord{EntityTable: "other", EventType: "x"})

	var rows []LegacyRow
	n, err := o.Flush(context.Background(), SenderFunc(func(_ context.Context, row LegacyRow) (bool, error) {
		rows = append(rows, row)
		return true, nil
	}), 0)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n != 1 || len(rows) != 1 {
		t.Fatalf("expected one flushed row, got %d", n)
	}
	if rows[0].Topic != "orders.created" || rows[0].PartKey != "p-1" || rows[0].Payload != `{"id":1}` || rows[0].Headers != `{}` {
		t.Fatalf("unexpected row %+v", rows[0])
	}
	if rec := store.get(1); rec.Status != StatusSent {
		t.Fatalf("expected sent record, got %+v", rec)
	}
	if store.get(2).Status != StatusPending {
		t.Fatalf("expected other table to be untouched")
	}

	if len(notifier.calls) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.calls))
	}
	call := notifier.calls[0]
	if call.payload["url"] != "https://example.test/hook" || call.eventType != "orders.created" {
		t.Fatalf("unexpected notification %+v", call)
	}
	if body, ok := call.payload["body"].(map[string]any); !ok || body["ok"] != true {
		t.Fatalf("unexpected notification body %+v", call.payload)
	}
}

func TestOutboxFlushNotificationFailureIsSwallowed(t *testing.T) {
	store := newFakeOutboxStore(testNow)
	logger := &captureLogger{}
	o := newTestOutbox(t, store, "orders", WithLogger(logger), WithNotifier(&captureDispatcher{result: DispatchFailed("http_500", 500)}))

	_ = o.Enqueue(context.Background(), EnqueueRequest{
		Topic:         "a",
		Notifications: []Notification{{Type: "webhook", URL: "https://example.test"}},
	})
	n, err := o.Flush(context.Background(), SenderFunc(func(context.Context, LegacyRow) (bool, error) {
		return true, nil
	}), 5)
	if err != nil || n != 1 {
		t.Fatalf("expected flush to succeed, got %d %v", n, err)
	}
	if logger.count("warn", "outbox-webhook-failed") != 1 {
		t.Fatalf("expected notification failure to be logged")
	}
}

func TestOutboxFlushFailure(t *testing.T) {
	store := newFakeOutboxStore(testNow)
	logger := &captureLogger{}
	o := newTestOutbox(t, store, "orders", WithLogger(logger))
	_ = o.Enqueue(context.Background(), EnqueueRequest{Topic: "a"})
	_ = o.Enqueue(context.Background(), EnqueueRequest{Topic: "b"})

	n, err := o.Flush(context.Background(), SenderFunc(func(_ context.Context, row LegacyRow) (bool, error) {
		if row.Topic == "a" {
			return false, nil
		}
		return false, errors.New("broker refused")
	}), 10)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing sent, got %d", n)
	}

	a := store.get(1)
	if a.Status != StatusFailed || a.Attempts != 1 || a.LastError != ErrSenderRejected.Error() {
		t.Fatalf("unexpected record %+v", a)
	}
	if a.NextAttemptAt == nil || !a.NextAttemptAt.Equal(testNow.Add(time.Second)) {
		t.Fatalf("expected 1s backoff, got %v", a.NextAttemptAt)
	}
	if b := store.get(2); b.LastError != "broker refused" {
		t.Fatalf("unexpected record %+v", b)
	}
	if logger.count("warn", "outbox-send-failed") != 2 {
		t.Fatalf("expected send failures to be logged")
	}

	if _, err := o.Flush(context.Background(), nil, 1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()

	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	return string(raw)
}

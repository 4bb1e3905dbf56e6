package seal_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velmie/messaging"
	"github.com/velmie/messaging/memory"
	"github.com/velmie/messaging/seal"
)

func newBox(t *testing.T) *seal.Box {
	t.Helper()
	key, err := seal.GenerateKey()
	require.NoError(t, err)
	box, err := seal.NewFromBase64(key)
	require.NoError(t, err)

	return box
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	box := newBox(t)

	plain := json.RawMessage(`{"card":"4111"}`)
	sealed, err := box.Encrypt(ctx, "event_outbox", plain)
	require.NoError(t, err)
	require.True(t, seal.IsSealed(sealed))
	require.NotContains(t, string(sealed), "4111")

	opened, err := box.Decrypt(ctx, "event_outbox", sealed)
	require.NoError(t, err)
	require.JSONEq(t, string(plain), string(opened))
}

func TestDecryptPassesPlaintextThrough(t *testing.T) {
	box := newBox(t)
	plain := json.RawMessage(`{"enc":"other","data":"x"}`)

	out, err := box.Decrypt(context.Background(), "event_outbox", plain)
	require.NoError(t, err)
	require.Equal(t, plain, out)
}

func TestDecryptBindsTable(t *testing.T) {
	ctx := context.Background()
	box := newBox(t)
	sealed, err := box.Encrypt(ctx, "event_outbox", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)

	_, err = box.Decrypt(ctx, "webhook_outbox", sealed)
	require.ErrorIs(t, err, seal.ErrMalformed)

	other := newBox(t)
	_, err = other.Decrypt(ctx, "event_outbox", sealed)
	require.ErrorIs(t, err, seal.ErrMalformed)
}

func TestInvalidKeys(t *testing.T) {
	_, err := seal.New(make([]byte, 16))
	require.ErrorIs(t, err, seal.ErrInvalidKey)
	_, err = seal.NewFromBase64("not base64!")
	require.ErrorIs(t, err, seal.ErrInvalidKey)
}

func TestSealedOutboxDeliversPlaintext(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := messaging.ClockFunc(func() time.Time { return now })
	box := newBox(t)

	table := memory.NewOutboxTable(clock)
	outbox, err := messaging.NewOutbox(table, "orders", messaging.WithEncrypter(box), messaging.WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, outbox.Enqueue(ctx, messaging.EnqueueRequest{Topic: "order.created", Payload: map[string]any{"id": "o-1"}}))

	records := table.Records()
	require.Len(t, records, 1)
	require.True(t, seal.IsSealed(records[0].Payload))

	transport := memory.NewTransport()
	worker, err := messaging.NewEventOutboxWorker(table, transport, messaging.DefaultEventOutboxConfig(),
		messaging.WithClock(clock), messaging.WithDecrypter(box))
	require.NoError(t, err)

	res, err := worker.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Sent)

	msgs := transport.Drain()
	require.Len(t, msgs, 1)
	require.Equal(t, map[string]any{"id": "o-1"}, msgs[0].Payload()["payload"])
}

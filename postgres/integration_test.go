//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/velmie/messaging"
	"github.com/velmie/messaging/memory"
	"github.com/velmie/messaging/postgres"
)

const (
	postgresImage    = "postgres:16-alpine"
	postgresUser     = "messaging"
	postgresPassword = "secret"
	postgresDatabase = "messaging"
)

func startPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	port := nat.Port("5432/tcp")
	dsn := func(host string, port nat.Port) string {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			postgresUser, postgresPassword, host, port.Port(), postgresDatabase)
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{string(port)},
			Env: map[string]string{
				"POSTGRES_USER":     postgresUser,
				"POSTGRES_PASSWORD": postgresPassword,
				"POSTGRES_DB":       postgresDatabase,
			},
			WaitingFor: wait.ForSQL(port, "pgx", dsn).WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)

	pool, err := postgres.Connect(ctx, dsn(host, mapped))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool))

	return pool
}

func TestEventOutboxWorkerIntegration(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t, ctx)

	table, err := postgres.NewEventOutbox(pool)
	require.NoError(t, err)
	id, err := table.Insert(ctx, messaging.OutboxRecord{
		EventKey:    messaging.NewRandomID(),
		EntityTable: "orders",
		EntityPK:    "1",
		EventType:   "test.event",
		Payload:     json.RawMessage(`{"hello":"world"}`),
	})
	require.NoError(t, err)

	transport := memory.NewTransport()
	worker, err := messaging.NewEventOutboxWorker(table, transport, messaging.DefaultEventOutboxConfig())
	require.NoError(t, err)

	res, err := worker.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, messaging.RunResult{Processed: 1, Sent: 1}, res)

	msgs := transport.Drain()
	require.Len(t, msgs, 1)
	require.Equal(t, "test.event", msgs[0].Topic())
	require.Equal(t, map[string]any{"hello": "world"}, msgs[0].Payload())

	rec, err := table.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, messaging.StatusSent, rec.Status)
	require.NotNil(t, rec.ProcessedAt)
	require.Nil(t, rec.NextAttemptAt)

	pending, err := table.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestDuplicateInsertKeepsTransactionUsable(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t, ctx)

	table, err := postgres.NewEventOutbox(pool)
	require.NoError(t, err)

	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		bound, err := messaging.NewOutbox(table.Bind(tx), "orders")
		if err != nil {
			return err
		}
		req := messaging.EnqueueRequest{Topic: "order.created", Payload: map[string]any{"id": 1}, DedupKey: "order-1"}
		if err := bound.Enqueue(ctx, req); err != nil {
			return err
		}
		if err := bound.Enqueue(ctx, req); err != nil {
			return err
		}

		return bound.Enqueue(ctx, messaging.EnqueueRequest{Topic: "order.paid", DedupKey: "order-1-paid"})
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM event_outbox WHERE entity_table = 'orders'").Scan(&count))
	require.Equal(t, 2, count)

	_, err = table.Insert(ctx, messaging.OutboxRecord{
		EventKey:    messaging.NormalizeID("order-1", "orders|order.created"),
		EntityTable: "orders",
		EntityPK:    "-",
		EventType:   "order.created",
	})
	require.ErrorIs(t, err, messaging.ErrDuplicate)
}

func TestTryClaimSkipsLockedAndFutureRows(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t, ctx)

	table, err := postgres.NewEventOutbox(pool)
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	locked, err := table.Insert(ctx, messaging.OutboxRecord{EventKey: messaging.NewRandomID(), EntityTable: "t", EntityPK: "1", EventType: "a"})
	require.NoError(t, err)
	later, err := table.Insert(ctx, messaging.OutboxRecord{EventKey: messaging.NewRandomID(), EntityTable: "t", EntityPK: "2", EventType: "b", NextAttemptAt: &future})
	require.NoError(t, err)

	ids, err := table.DueIDs(ctx, messaging.DueQuery{Now: time.Now(), Limit: 10})
	require.NoError(t, err)
	require.Equal(t, []int64{locked}, ids)

	holder, err := pool.Begin(ctx)
	require.NoError(t, err)
	_, err = holder.Exec(ctx, "SELECT id FROM event_outbox WHERE id = $1 FOR UPDATE", locked)
	require.NoError(t, err)

	claimed, err := table.TryClaim(ctx, locked, time.Minute)
	require.NoError(t, err)
	require.Nil(t, claimed)
	require.NoError(t, holder.Rollback(ctx))

	claimed, err = table.TryClaim(ctx, later, time.Minute)
	require.NoError(t, err)
	require.Nil(t, claimed)

	claimed, err = table.TryClaim(ctx, locked, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NotNil(t, claimed.NextAttemptAt)
	require.True(t, claimed.NextAttemptAt.After(time.Now().Add(30*time.Second)))

	again, err := table.TryClaim(ctx, locked, time.Minute)
	require.NoError(t, err)
	require.Nil(t, again, "a leased row is not due until the lease expires")
}

func TestPermanentFailureIsTerminal(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t, ctx)

	table, err := postgres.NewWebhookOutbox(pool)
	require.NoError(t, err)
	id, err := table.Insert(ctx, messaging.OutboxRecord{EventType: "user.created", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)

	cfg := messaging.DefaultWebhookOutboxConfig()
	cfg.MaxRetries = 1
	dispatcher := messaging.DispatcherFunc(func(context.Context, string, map[string]any, messaging.DispatchMeta) messaging.DispatchResult {
		return messaging.DispatchFailed("http_500", 500)
	})
	worker, err := messaging.NewWebhookOutboxWorker(table, dispatcher, cfg)
	require.NoError(t, err)

	res, err := worker.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	rec, err := table.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, messaging.StatusFailed, rec.Status)
	require.Equal(t, 1, rec.Attempts)
	require.Nil(t, rec.NextAttemptAt)
	require.Equal(t, "http_500", rec.LastError)

	ids, err := table.DueIDs(ctx, messaging.DueQuery{Now: time.Now().Add(24 * time.Hour), Limit: 10})
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestConcurrentWorkersDeliverOnce(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t, ctx)

	table, err := postgres.NewEventOutbox(pool)
	require.NoError(t, err)
	const total = 50
	for i := 0; i < total; i++ {
		_, err := table.Insert(ctx, messaging.OutboxRecord{
			EventKey:    messaging.NewRandomID(),
			EntityTable: "orders",
			EntityPK:    fmt.Sprint(i),
			EventType:   "order.created",
		})
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	transport := messaging.TransportFunc(func(_ context.Context, env messaging.Envelope) error {
		mu.Lock()
		seen[env.HeaderString("event_key")]++
		mu.Unlock()

		return nil
	})

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker, err := messaging.NewEventOutboxWorker(table, transport, messaging.DefaultEventOutboxConfig())
			if err != nil {
				t.Error(err)
				return
			}
			for {
				res, err := worker.RunOnce(ctx)
				if err != nil {
					t.Error(err)
					return
				}
				if res.Processed == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, total)
	for key, n := range seen {
		require.Equal(t, 1, n, key)
	}
}

func TestFlushClaimsBatch(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t, ctx)

	table, err := postgres.NewEventOutbox(pool)
	require.NoError(t, err)
	outbox, err := messaging.NewOutbox(table, "billing")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, outbox.Enqueue(ctx, messaging.EnqueueRequest{Topic: "invoice.issued", Payload: map[string]any{"n": i}}))
	}

	var rows []messaging.LegacyRow
	sent, err := outbox.Flush(ctx, messaging.SenderFunc(func(_ context.Context, row messaging.LegacyRow) (bool, error) {
		rows = append(rows, row)
		return true, nil
	}), 10)
	require.NoError(t, err)
	require.Equal(t, 3, sent)
	require.Len(t, rows, 3)
	require.Equal(t, "invoice.issued", rows[0].Topic)

	sent, err = outbox.Flush(ctx, messaging.SenderFunc(func(context.Context, messaging.LegacyRow) (bool, error) {
		return false, errors.New("must not be called")
	}), 10)
	require.NoError(t, err)
	require.Zero(t, sent)
}

func TestInboxIntegration(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t, ctx)

	store, err := postgres.NewInbox(pool)
	require.NoError(t, err)
	inbox, err := messaging.NewInbox(store, "payments")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		calls int
	)
	handler := messaging.HandlerFunc(func(context.Context, messaging.InboxMessage) error {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)

		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := inbox.Process(ctx, "m-1", "payment.captured", handler); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, calls)

	boom := errors.New("boom")
	ok, err := inbox.Process(ctx, "m-2", "payment.captured", messaging.HandlerFunc(func(context.Context, messaging.InboxMessage) error {
		return boom
	}))
	require.ErrorIs(t, err, boom)
	require.False(t, ok)

	var (
		status   string
		attempts int
	)
	require.NoError(t, pool.QueryRow(ctx, "SELECT status, attempts FROM inbox WHERE event_key = $1", inbox.EventKey("m-2")).Scan(&status, &attempts))
	require.Equal(t, "failed", status)
	require.Equal(t, 1, attempts)

	require.NoError(t, inbox.Ack(ctx, "m-2"))
	require.NoError(t, inbox.Ack(ctx, "missing"))

	_, err = pool.Exec(ctx, "UPDATE inbox SET processed_at = now() - interval '3 days'")
	require.NoError(t, err)
	deleted, err := inbox.Cleanup(ctx, messaging.StatusProcessed, 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)
}

func TestInboxLongSourceIntegration(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t, ctx)

	store, err := postgres.NewInbox(pool)
	require.NoError(t, err)
	source := strings.Repeat("s", 90)
	inbox, err := messaging.NewInbox(store, source)
	require.NoError(t, err)

	ok, err := inbox.Process(ctx, "m-1", "payment.captured", messaging.HandlerFunc(func(context.Context, messaging.InboxMessage) error {
		return nil
	}))
	require.NoError(t, err)
	require.True(t, ok)

	var stored string
	require.NoError(t, pool.QueryRow(ctx, "SELECT source FROM inbox WHERE event_key = $1", inbox.EventKey("m-1")).Scan(&stored))
	require.Equal(t, source, stored)
}

func TestTransportAndSchedulerIntegration(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t, ctx)

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()
	_, err = conn.Exec(ctx, "LISTEN "+postgres.DefaultChannel)
	require.NoError(t, err)

	transport, err := postgres.NewTransport(pool)
	require.NoError(t, err)
	scheduler, err := postgres.NewScheduler(pool)
	require.NoError(t, err)
	manager, err := messaging.NewManager(transport, scheduler)
	require.NoError(t, err)

	require.NoError(t, manager.Publish(ctx, "orders.created", map[string]any{"id": 7}, nil))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	note, err := conn.Conn().WaitForNotification(waitCtx)
	require.NoError(t, err)
	require.Contains(t, note.Payload, `"topic":"orders.created"`)

	var topic string
	require.NoError(t, pool.QueryRow(ctx, "SELECT topic FROM messaging_messages").Scan(&topic))
	require.Equal(t, "orders.created", topic)

	now := time.Now().UTC()
	require.NoError(t, manager.Schedule(ctx, "late", now.Add(-time.Minute), map[string]any{"n": 2}))
	require.NoError(t, manager.Schedule(ctx, "early", now.Add(-time.Hour), map[string]any{"n": 1}))
	require.NoError(t, manager.Schedule(ctx, "future", now.Add(time.Hour), nil))

	jobs, err := scheduler.Due(ctx, now)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "early", jobs[0].Task)
	require.Equal(t, "late", jobs[1].Task)
	require.Equal(t, map[string]any{"n": float64(1)}, jobs[0].Payload)
	require.Equal(t, messaging.StatusPending, jobs[0].Status)
}

func TestCleanupMaintainerIntegration(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t, ctx)

	table, err := postgres.NewEventOutbox(pool)
	require.NoError(t, err)
	old, err := table.Insert(ctx, messaging.OutboxRecord{EventKey: messaging.NewRandomID(), EntityTable: "t", EntityPK: "1", EventType: "a"})
	require.NoError(t, err)
	fresh, err := table.Insert(ctx, messaging.OutboxRecord{EventKey: messaging.NewRandomID(), EntityTable: "t", EntityPK: "2", EventType: "b"})
	require.NoError(t, err)
	require.NoError(t, table.MarkSent(ctx, old, time.Now().Add(-48*time.Hour)))
	require.NoError(t, table.MarkSent(ctx, fresh, time.Now()))

	maintainer, err := postgres.NewCleanupMaintainer(pool, postgres.CleanupMaintainerConfig{
		InboxTable: postgres.DefaultInboxTable,
		Retention:  24 * time.Hour,
	})
	require.NoError(t, err)

	res, err := maintainer.Ensure(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Outbox)

	gone, err := table.Get(ctx, old)
	require.NoError(t, err)
	require.Nil(t, gone)
	kept, err := table.Get(ctx, fresh)
	require.NoError(t, err)
	require.NotNil(t, kept)
}

//go:build integration

package transport_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/velmie/messaging"
	"github.com/velmie/messaging/transport"
)

func TestRedisPublishReachesSubscriber(t *testing.T) {
	ctx := context.Background()
	addr := startRedis(t, ctx)

	client, err := transport.DialRedis(ctx, addr, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	sub := client.Subscribe(ctx, "events:order.created")
	t.Cleanup(func() { _ = sub.Close() })
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	pub, err := transport.NewRedis(client, transport.WithPrefix("events:"))
	require.NoError(t, err)
	env := messaging.NewEnvelope("order.created", map[string]any{"id": "o-1"}, map[string]any{"entity_pk": "o-1"})
	require.NoError(t, pub.Publish(ctx, env))

	select {
	case msg := <-sub.Channel():
		var got messaging.Envelope
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		require.Equal(t, "order.created", got.Topic())
		require.Equal(t, "o-1", got.HeaderString("entity_pk"))
		require.Equal(t, map[string]any{"id": "o-1"}, got.Payload())
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

func startRedis(t *testing.T, ctx context.Context) string {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	port := nat.Port("6379/tcp")
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{string(port)},
			WaitingFor:   wait.ForListeningPort(port).WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

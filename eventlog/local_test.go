package eventlog_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velmie/messaging"
	"github.com/velmie/messaging/eventlog"
)

func fixedClock() messaging.Clock {
	return messaging.ClockFunc(func() time.Time {
		return time.Unix(1_700_000_000, 0)
	})
}

func TestAppendAndReadBack(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "storage")
	log, err := eventlog.Open(dir, fixedClock())
	require.NoError(t, err)

	event := map[string]any{"type": "publish", "topic": "orders.created"}
	require.NoError(t, log.Append(event))
	require.NoError(t, log.Append(map[string]any{"type": "schedule", "task": "report"}))
	require.NotContains(t, event, "timestamp")

	events, err := log.Events()
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "orders.created", events[0]["topic"])
	require.Equal(t, float64(1_700_000_000), events[0]["timestamp"])
	require.Equal(t, filepath.Join(dir, eventlog.FileName), log.Path())
}

func TestEventsWithoutFile(t *testing.T) {
	log, err := eventlog.Open(t.TempDir(), nil)
	require.NoError(t, err)

	events, err := log.Events()
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestEventsSkipsGarbage(t *testing.T) {
	dir := t.TempDir()
	log, err := eventlog.Open(dir, fixedClock())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(log.Path(), []byte("not json\n[1,2]\n{\"type\":\"publish\"}\n"), 0o600))

	events, err := log.Events()
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "publish", events[0]["type"])
}

func TestTail(t *testing.T) {
	log, err := eventlog.Open(t.TempDir(), fixedClock())
	require.NoError(t, err)
	for i := 0; i < 15; i++ {
		require.NoError(t, log.Append(map[string]any{"n": i}))
	}

	tail, err := log.Tail(10)
	require.NoError(t, err)
	require.Len(t, tail, 10)
	require.Equal(t, float64(5), tail[0]["n"])
	require.Equal(t, float64(14), tail[9]["n"])

	none, err := log.Tail(0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestConcurrentAppends(t *testing.T) {
	log, err := eventlog.Open(t.TempDir(), fixedClock())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			require.NoError(t, log.Append(map[string]any{"n": n}))
		}(i)
	}
	wg.Wait()

	events, err := log.Events()
	require.NoError(t, err)
	require.Len(t, events, 20)
}

func TestOpenRequiresDirectory(t *testing.T) {
	_, err := eventlog.Open("", nil)
	require.ErrorIs(t, err, messaging.ErrInvalidArgument)
}

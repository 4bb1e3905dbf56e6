package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velmie/messaging"
	"github.com/velmie/messaging/memory"
	"github.com/velmie/messaging/webhook"
)

type captured struct {
	method  string
	headers http.Header
	body    map[string]any
}

func newServer(t *testing.T, status int) (*httptest.Server, func() captured) {
	t.Helper()
	var (
		mu   sync.Mutex
		last captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		mu.Lock()
		last = captured{method: r.Method, headers: r.Header.Clone(), body: body}
		mu.Unlock()

		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, func() captured {
		mu.Lock()
		defer mu.Unlock()

		return last
	}
}

func TestDispatchMissingURL(t *testing.T) {
	d := webhook.NewHTTPDispatcher()
	res := d.Dispatch(context.Background(), "test", map[string]any{"body": map[string]any{"ok": true}}, messaging.DispatchMeta{})

	require.False(t, res.OK)
	require.Equal(t, webhook.ErrMissingURL, res.Error())
}

func TestReadURLAliases(t *testing.T) {
	require.Equal(t, "https://example.test", webhook.ReadURL(map[string]any{"url": " https://example.test "}))
	require.Equal(t, "https://example.test", webhook.ReadURL(map[string]any{"webhook_url": "https://example.test"}))
	require.Equal(t, "https://example.test", webhook.ReadURL(map[string]any{"endpoint": "https://example.test"}))
	require.Equal(t, "", webhook.ReadURL(map[string]any{"url": ""}))
	require.Equal(t, "", webhook.ReadURL(map[string]any{"url": []any{"x"}}))
}

func TestResolveBody(t *testing.T) {
	require.Equal(t, map[string]any{"a": 1}, webhook.ResolveBody(map[string]any{
		"body":    map[string]any{"a": 1},
		"payload": map[string]any{"b": 2},
	}))
	require.Equal(t, map[string]any{"b": 2}, webhook.ResolveBody(map[string]any{"payload": map[string]any{"b": 2}}))
	require.Equal(t, map[string]any{"foo": "bar"}, webhook.ResolveBody(map[string]any{
		"url":     "https://example.test",
		"method":  "POST",
		"headers": map[string]any{"X": "1"},
		"foo":     "bar",
	}))
}

func TestNormalizeHeaders(t *testing.T) {
	require.Equal(t, []string{"X-Foo: bar"}, webhook.NormalizeHeaders(map[string]any{"X-Foo": "bar"}))
	require.Equal(t, []string{"X-Foo: bar"}, webhook.NormalizeHeaders(map[string]any{" X-Foo ": " bar "}))
	require.Equal(t, []string{"X-Foo: bar"}, webhook.NormalizeHeaders([]any{"X-Foo: bar", ""}))
	require.Equal(t, []string{"X-N: 5"}, webhook.NormalizeHeaders(map[string]any{
		"X-N":     float64(5),
		"X-Empty": "",
		"X-List":  []any{"a"},
		"X-Obj":   map[string]any{"a": 1},
	}))
	require.Nil(t, webhook.NormalizeHeaders("nope"))
}

func TestDispatchSendsRequest(t *testing.T) {
	srv, last := newServer(t, http.StatusNoContent)
	d := webhook.NewHTTPDispatcher()

	res := d.Dispatch(context.Background(), "order.created", map[string]any{
		"url":     srv.URL,
		"method":  "put",
		"headers": []any{"X-Signature: abc", "User-Agent: spoofed"},
		"payload": map[string]any{"id": "o-1"},
	}, messaging.DispatchMeta{ID: 7})

	require.True(t, res.OK, res.Error())
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	got := last()
	require.Equal(t, http.MethodPut, got.method)
	require.Equal(t, "abc", got.headers.Get("X-Signature"))
	require.Equal(t, webhook.DefaultUserAgent, got.headers.Get("User-Agent"))
	require.Equal(t, "application/json", got.headers.Get("Content-Type"))
	require.Equal(t, map[string]any{"id": "o-1", "event_type": "order.created"}, got.body)
}

func TestDispatchKeepsExplicitEventType(t *testing.T) {
	srv, last := newServer(t, http.StatusOK)
	d := webhook.NewHTTPDispatcher()

	res := d.Dispatch(context.Background(), "fallback", map[string]any{
		"webhook_url": srv.URL,
		"body":        map[string]any{"event_type": "explicit"},
	}, messaging.DispatchMeta{})

	require.True(t, res.OK)
	require.Equal(t, "explicit", last().body["event_type"])
	require.Equal(t, http.MethodPost, last().method)
}

func TestDispatchNon2xx(t *testing.T) {
	srv, _ := newServer(t, http.StatusServiceUnavailable)
	d := webhook.NewHTTPDispatcher()

	res := d.Dispatch(context.Background(), "e", map[string]any{"url": srv.URL}, messaging.DispatchMeta{})
	require.False(t, res.OK)
	require.Equal(t, "http_503", res.Error())
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestDispatchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	d := webhook.NewHTTPDispatcher(webhook.WithTimeout(100 * time.Millisecond))
	require.Equal(t, time.Second, d.Timeout())

	start := time.Now()
	res := d.Dispatch(context.Background(), "e", map[string]any{"url": srv.URL}, messaging.DispatchMeta{})
	require.False(t, res.OK)
	require.Zero(t, res.StatusCode)
	require.NotEmpty(t, res.Error())
	require.Less(t, time.Since(start), 3*time.Second)
}

func TestWebhookOutboxWorkerDeliversThroughHTTP(t *testing.T) {
	ctx := context.Background()
	srv, last := newServer(t, http.StatusAccepted)

	table := memory.NewOutboxTable(messaging.SystemClock{})
	id, err := table.Insert(ctx, messaging.OutboxRecord{
		EventType: "invoice.paid",
		Payload:   json.RawMessage(`{"url":"` + srv.URL + `","payload":{"invoice":"i-1"}}`),
		Status:    messaging.StatusPending,
	})
	require.NoError(t, err)

	worker, err := messaging.NewWebhookOutboxWorker(table, webhook.NewHTTPDispatcher(), messaging.DefaultWebhookOutboxConfig())
	require.NoError(t, err)

	res, err := worker.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Sent)

	row, ok := table.Get(id)
	require.True(t, ok)
	require.Equal(t, messaging.StatusSent, row.Status)
	require.Equal(t, map[string]any{"invoice": "i-1", "event_type": "invoice.paid"}, last().body)
}

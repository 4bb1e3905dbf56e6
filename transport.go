package messaging

import (
	"context"
	"strings"
)

// Transport hands envelopes to a message sink.
type Transport interface {
	// Publish delivers a single envelope. Advisory side channels must not fail the call.
	Publish(ctx context.Context, envelope Envelope) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, envelope Envelope) error

// Publish implements Transport.
func (fn TransportFunc) Publish(ctx context.Context, envelope Envelope) error {
	return fn(ctx, envelope)
}

// DispatchMeta describes the outbox row behind a webhook dispatch.
type DispatchMeta struct {
	ID        int64
	EventType string
	Retries   int
}

// Dispatcher delivers webhook requests described by a payload document.
type Dispatcher interface {
	// Dispatch performs one delivery attempt. Failures are reported in the result, not as errors.
	Dispatch(ctx context.Context, eventType string, payload map[string]any, meta DispatchMeta) DispatchResult
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, eventType string, payload map[string]any, meta DispatchMeta) DispatchResult

// Dispatch implements Dispatcher.
func (fn DispatcherFunc) Dispatch(ctx context.Context, eventType string, payload map[string]any, meta DispatchMeta) DispatchResult {
	return fn(ctx, eventType, payload, meta)
}

const defaultDispatchError = "webhook_failed"

// DispatchResult is the outcome of one dispatch attempt. StatusCode is zero when no HTTP response was received.
type DispatchResult struct {
	OK         bool
	StatusCode int
	Err        string
}

// DispatchSucceeded builds a successful result.
func DispatchSucceeded(status int) DispatchResult {
	return DispatchResult{OK: true, StatusCode: status}
}

// DispatchFailed builds a failed result. An empty error becomes "webhook_failed".
func DispatchFailed(err string, status int) DispatchResult {
	err = strings.TrimSpace(err)
	if err == "" {
		err = defaultDispatchError
	}

	return DispatchResult{OK: false, StatusCode: status, Err: err}
}

// Error returns the failure text of a failed result, or "" for a successful one.
func (r DispatchResult) Error() string {
	if r.OK {
		return ""
	}
	if msg := strings.TrimSpace(r.Err); msg != "" {
		return msg
	}

	return defaultDispatchError
}

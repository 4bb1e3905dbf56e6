package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// EventLog records manager operations for local inspection.
type EventLog interface {
	Append(event map[string]any) error
}

// Manager is the producer-side facade over a Transport and a Scheduler.
type Manager struct {
	transport Transport
	scheduler Scheduler
	opts      Options
}

// NewManager builds a Manager. Use WithEventLog to keep a local record of published and scheduled messages.
func NewManager(transport Transport, scheduler Scheduler, opts ...Option) (*Manager, error) {
	if transport == nil {
		return nil, ErrTransportRequired
	}
	if scheduler == nil {
		return nil, ErrSchedulerRequired
	}

	return &Manager{transport: transport, scheduler: scheduler, opts: buildOptions(opts)}, nil
}

// Publish wraps the payload into an envelope and publishes it.
func (m *Manager) Publish(ctx context.Context, topic string, payload, headers map[string]any) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidArgument)
	}

	env := newEnvelopeAt(topic, payload, headers, m.opts.Clock.Now())
	if err := m.transport.Publish(ctx, env); err != nil {
		return fmt.Errorf("messaging: publish %s: %w", topic, err)
	}

	m.record(map[string]any{
		"type":    "publish",
		"topic":   topic,
		"payload": orEmptyDocument(payload),
		"headers": orEmptyDocument(headers),
	})

	return nil
}

// Schedule records a task that becomes due at runAt.
func (m *Manager) Schedule(ctx context.Context, task string, runAt time.Time, payload map[string]any) error {
	task = strings.TrimSpace(task)
	if task == "" {
		return fmt.Errorf("%w: task is required", ErrInvalidArgument)
	}

	runAtText := runAt.UTC().Format(time.RFC3339)
	env := newEnvelopeAt(task, payload, map[string]any{HeaderScheduledAt: runAtText}, m.opts.Clock.Now())
	if err := m.scheduler.Schedule(ctx, env, runAt); err != nil {
		return fmt.Errorf("messaging: schedule %s: %w", task, err)
	}

	m.record(map[string]any{
		"type":    "schedule",
		"task":    task,
		"run_at":  runAtText,
		"payload": orEmptyDocument(payload),
	})

	return nil
}

// Due lists scheduled jobs due at the current time.
func (m *Manager) Due(ctx context.Context) ([]ScheduledJob, error) {
	return m.scheduler.Due(ctx, m.opts.Clock.Now())
}

func (m *Manager) record(event map[string]any) {
	if m.opts.EventLog == nil {
		return
	}
	if err := m.opts.EventLog.Append(event); err != nil {
		m.opts.Logger.Warn("messaging event log append failed", "type", event["type"], "err", err)
	}
}

func orEmptyDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return map[string]any{}
	}

	return doc
}

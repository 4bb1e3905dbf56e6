// Package otelmetrics records worker telemetry with OpenTelemetry instruments.
package otelmetrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/velmie/messaging"
)

const meterName = "github.com/velmie/messaging"

// Metrics implements messaging.Metrics. Every data point carries the worker attribute.
type Metrics struct {
	sent          metric.Int64Counter
	retries       metric.Int64Counter
	dead          metric.Int64Counter
	skipped       metric.Int64Counter
	batchDuration metric.Float64Histogram
	pending       metric.Int64Gauge
	attrs         metric.MeasurementOption
}

var _ messaging.Metrics = (*Metrics)(nil)

// New creates the instruments on provider, or on the global provider when provider is nil.
func New(provider metric.MeterProvider, worker string) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter(meterName)

	var (
		m   Metrics
		err error
	)

	m.sent, err = meter.Int64Counter(
		"messaging.outbox.sent",
		metric.WithDescription("Number of outbox records delivered"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create messaging.outbox.sent counter: %w", err)
	}

	m.retries, err = meter.Int64Counter(
		"messaging.outbox.retries",
		metric.WithDescription("Number of failed deliveries scheduled for another attempt"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create messaging.outbox.retries counter: %w", err)
	}

	m.dead, err = meter.Int64Counter(
		"messaging.outbox.dead",
		metric.WithDescription("Number of records that failed permanently"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create messaging.outbox.dead counter: %w", err)
	}

	m.skipped, err = meter.Int64Counter(
		"messaging.outbox.skipped",
		metric.WithDescription("Number of candidates claimed by another worker first"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create messaging.outbox.skipped counter: %w", err)
	}

	m.batchDuration, err = meter.Float64Histogram(
		"messaging.outbox.batch.duration",
		metric.WithDescription("Time taken per worker pass"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create messaging.outbox.batch.duration histogram: %w", err)
	}

	m.pending, err = meter.Int64Gauge(
		"messaging.outbox.pending",
		metric.WithDescription("Number of due outbox records"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create messaging.outbox.pending gauge: %w", err)
	}

	m.attrs = metric.WithAttributeSet(attribute.NewSet(attribute.String("worker", worker)))

	return &m, nil
}

// ObserveBatchDuration implements messaging.Metrics.
func (m *Metrics) ObserveBatchDuration(duration time.Duration) {
	m.batchDuration.Record(context.Background(), duration.Seconds(), m.attrs)
}

// AddSent implements messaging.Metrics.
func (m *Metrics) AddSent(count int) {
	m.sent.Add(context.Background(), int64(count), m.attrs)
}

// AddRetries implements messaging.Metrics.
func (m *Metrics) AddRetries(count int) {
	m.retries.Add(context.Background(), int64(count), m.attrs)
}

// AddDead implements messaging.Metrics.
func (m *Metrics) AddDead(count int) {
	m.dead.Add(context.Background(), int64(count), m.attrs)
}

// AddSkipped implements messaging.Metrics.
func (m *Metrics) AddSkipped(count int) {
	m.skipped.Add(context.Background(), int64(count), m.attrs)
}

// SetPending implements messaging.Metrics.
func (m *Metrics) SetPending(count int) {
	m.pending.Record(context.Background(), int64(count), m.attrs)
}

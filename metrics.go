package messaging

import "time"

// Metrics captures worker-level telemetry.
type Metrics interface {
	// ObserveBatchDuration records the time spent in one RunOnce pass.
	ObserveBatchDuration(duration time.Duration)
	// AddSent increments the count of delivered records.
	AddSent(count int)
	// AddRetries increments the count of failures scheduled for another attempt.
	AddRetries(count int)
	// AddDead increments the count of permanently failed records.
	AddDead(count int)
	// AddSkipped increments the count of candidates another worker claimed first.
	AddSkipped(count int)
	// SetPending updates the current due backlog.
	SetPending(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveBatchDuration implements Metrics.
func (NopMetrics) ObserveBatchDuration(time.Duration) {}

// AddSent implements Metrics.
func (NopMetrics) AddSent(int) {}

// AddRetries implements Metrics.
func (NopMetrics) AddRetries(int) {}

// AddDead implements Metrics.
func (NopMetrics) AddDead(int) {}

// AddSkipped implements Metrics.
func (NopMetrics) AddSkipped(int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int) {}

package messaging

import (
	"strings"
	"time"
)

const (
	// DefaultEventWorkerName names event outbox workers in logs.
	DefaultEventWorkerName = "messaging-event-outbox-worker"
	// DefaultWebhookWorkerName names webhook outbox workers in logs.
	DefaultWebhookWorkerName = "messaging-webhook-outbox-worker"

	defaultWorkerBatchSize  = 100
	defaultLockSeconds      = 300
	defaultBaseDelaySeconds = 10
	defaultMaxDelaySeconds  = 3600
	defaultHTTPTimeout      = 5
	minLockSeconds          = 5
)

// EventOutboxConfig configures an event outbox worker. Field tags follow envconfig conventions,
// see the config package for loading from the environment.
type EventOutboxConfig struct {
	BatchSize        int    `envconfig:"BATCH_SIZE" default:"100"`
	LockSeconds      int    `envconfig:"LOCK_SECONDS" default:"300"`
	MaxAttempts      int    `envconfig:"MAX_ATTEMPTS" default:"0"`
	BaseDelaySeconds int    `envconfig:"BASE_DELAY_SECONDS" default:"10"`
	MaxDelaySeconds  int    `envconfig:"MAX_DELAY_SECONDS" default:"3600"`
	EntityTable      string `envconfig:"ENTITY_TABLE"`
	WorkerName       string `envconfig:"WORKER_NAME" default:"messaging-event-outbox-worker"`
}

// DefaultEventOutboxConfig returns the documented defaults.
func DefaultEventOutboxConfig() EventOutboxConfig {
	return EventOutboxConfig{
		BatchSize:        defaultWorkerBatchSize,
		LockSeconds:      defaultLockSeconds,
		BaseDelaySeconds: defaultBaseDelaySeconds,
		MaxDelaySeconds:  defaultMaxDelaySeconds,
		WorkerName:       DefaultEventWorkerName,
	}
}

// Normalized applies the clamps: batch >= 1, lock >= 5s, attempts >= 0, delays >= 1s.
func (c EventOutboxConfig) Normalized() EventOutboxConfig {
	c.BatchSize = max(1, c.BatchSize)
	c.LockSeconds = max(minLockSeconds, c.LockSeconds)
	c.MaxAttempts = max(0, c.MaxAttempts)
	c.BaseDelaySeconds = max(1, c.BaseDelaySeconds)
	c.MaxDelaySeconds = max(1, c.MaxDelaySeconds)
	c.EntityTable = strings.TrimSpace(c.EntityTable)
	c.WorkerName = strings.TrimSpace(c.WorkerName)
	if c.WorkerName == "" {
		c.WorkerName = DefaultEventWorkerName
	}

	return c
}

// Lease returns the claim lease duration.
func (c EventOutboxConfig) Lease() time.Duration {
	return seconds(c.LockSeconds)
}

// Backoff returns the retry policy.
func (c EventOutboxConfig) Backoff() Backoff {
	return Backoff{Base: seconds(c.BaseDelaySeconds), Max: seconds(c.MaxDelaySeconds)}
}

// WebhookOutboxConfig configures a webhook outbox worker.
type WebhookOutboxConfig struct {
	BatchSize          int    `envconfig:"BATCH_SIZE" default:"100"`
	LockSeconds        int    `envconfig:"LOCK_SECONDS" default:"300"`
	MaxRetries         int    `envconfig:"MAX_RETRIES" default:"0"`
	BaseDelaySeconds   int    `envconfig:"BASE_DELAY_SECONDS" default:"10"`
	MaxDelaySeconds    int    `envconfig:"MAX_DELAY_SECONDS" default:"3600"`
	HTTPTimeoutSeconds int    `envconfig:"HTTP_TIMEOUT_SECONDS" default:"5"`
	WorkerName         string `envconfig:"WORKER_NAME" default:"messaging-webhook-outbox-worker"`
}

// DefaultWebhookOutboxConfig returns the documented defaults.
func DefaultWebhookOutboxConfig() WebhookOutboxConfig {
	return WebhookOutboxConfig{
		BatchSize:          defaultWorkerBatchSize,
		LockSeconds:        defaultLockSeconds,
		BaseDelaySeconds:   defaultBaseDelaySeconds,
		MaxDelaySeconds:    defaultMaxDelaySeconds,
		HTTPTimeoutSeconds: defaultHTTPTimeout,
		WorkerName:         DefaultWebhookWorkerName,
	}
}

// Normalized applies the clamps, including HTTP timeout >= 1s.
func (c WebhookOutboxConfig) Normalized() WebhookOutboxConfig {
	c.BatchSize = max(1, c.BatchSize)
	c.LockSeconds = max(minLockSeconds, c.LockSeconds)
	c.MaxRetries = max(0, c.MaxRetries)
	c.BaseDelaySeconds = max(1, c.BaseDelaySeconds)
	c.MaxDelaySeconds = max(1, c.MaxDelaySeconds)
	c.HTTPTimeoutSeconds = max(1, c.HTTPTimeoutSeconds)
	c.WorkerName = strings.TrimSpace(c.WorkerName)
	if c.WorkerName == "" {
		c.WorkerName = DefaultWebhookWorkerName
	}

	return c
}

// Lease returns the claim lease duration.
func (c WebhookOutboxConfig) Lease() time.Duration {
	return seconds(c.LockSeconds)
}

// Backoff returns the retry policy.
func (c WebhookOutboxConfig) Backoff() Backoff {
	return Backoff{Base: seconds(c.BaseDelaySeconds), Max: seconds(c.MaxDelaySeconds)}
}

// HTTPTimeout returns the per-call webhook timeout.
func (c WebhookOutboxConfig) HTTPTimeout() time.Duration {
	return seconds(c.HTTPTimeoutSeconds)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

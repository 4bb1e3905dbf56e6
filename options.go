package messaging

import (
	"context"
	"time"
)

const (
	defaultPollInterval = time.Second
	defaultWorkers      = 1
	defaultPendingCheck = 0
)

// FailureHandler is called when delivering a record fails.
type FailureHandler func(ctx context.Context, record OutboxRecord, err error)

// Options holds the collaborators shared by workers, runners, inboxes, outboxes and managers.
// Each constructor reads the fields it needs and ignores the rest.
type Options struct {
	Clock             Clock
	Logger            Logger
	Metrics           Metrics
	Decrypter         Decrypter
	Encrypter         Encrypter
	Notifier          Dispatcher
	EventLog          EventLog
	FailureClassifier FailureClassifier
	ErrorHandler      FailureHandler
	Jitter            func() time.Duration
	PollInterval      time.Duration
	Workers           int
	PendingInterval   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.Logger == nil {
		o.Logger = NopLogger{}
	}
	if o.Metrics == nil {
		o.Metrics = NopMetrics{}
	}
	if o.FailureClassifier == nil {
		o.FailureClassifier = defaultFailureClassifier
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.PendingInterval <= 0 {
		o.PendingInterval = defaultPendingCheck
	}

	return o
}

func buildOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}

	return o.withDefaults()
}

// Option configures optional collaborators.
type Option func(*Options)

// WithClock sets the time source.
func WithClock(clock Clock) Option {
	return func(o *Options) {
		o.Clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics Metrics) Option {
	return func(o *Options) {
		o.Metrics = metrics
	}
}

// WithDecrypter enables best-effort payload decryption before delivery.
func WithDecrypter(d Decrypter) Option {
	return func(o *Options) {
		o.Decrypter = d
	}
}

// WithEncrypter seals payloads written by Outbox.Enqueue.
func WithEncrypter(e Encrypter) Option {
	return func(o *Options) {
		o.Encrypter = e
	}
}

// WithNotifier sets the dispatcher used for Outbox.Flush webhook notifications.
func WithNotifier(d Dispatcher) Option {
	return func(o *Options) {
		o.Notifier = d
	}
}

// WithEventLog records Manager operations in a developer event log.
func WithEventLog(log EventLog) Option {
	return func(o *Options) {
		o.EventLog = log
	}
}

// WithFailureClassifier sets the classifier for retry/permanent failure decisions.
func WithFailureClassifier(classifier FailureClassifier) Option {
	return func(o *Options) {
		o.FailureClassifier = classifier
	}
}

// WithErrorHandler registers a callback for delivery failures.
func WithErrorHandler(handler FailureHandler) Option {
	return func(o *Options) {
		o.ErrorHandler = handler
	}
}

// WithJitter overrides the backoff jitter source.
func WithJitter(jitter func() time.Duration) Option {
	return func(o *Options) {
		o.Jitter = jitter
	}
}

// WithPollInterval sets the delay between empty polls of a Runner.
func WithPollInterval(interval time.Duration) Option {
	return func(o *Options) {
		o.PollInterval = interval
	}
}

// WithWorkers sets the number of concurrent Runner goroutines.
func WithWorkers(count int) Option {
	return func(o *Options) {
		o.Workers = count
	}
}

// WithPendingInterval sets the minimum interval between pending count samples.
// Use a positive value to enable sampling or zero to keep it disabled.
// The default is disabled.
func WithPendingInterval(interval time.Duration) Option {
	return func(o *Options) {
		o.PendingInterval = interval
	}
}

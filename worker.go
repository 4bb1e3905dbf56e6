package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunResult summarizes one RunOnce pass. Processed counts every candidate id, including skipped ones.
type RunResult struct {
	Processed int
	Sent      int
	Failed    int
	Skipped   int
}

// BatchRunner is implemented by workers driven by a Runner.
type BatchRunner interface {
	RunOnce(ctx context.Context) (RunResult, error)
}

type deliverFunc func(ctx context.Context, record OutboxRecord, payload map[string]any) error

// workerSettings is the normalized, immutable part of a worker configuration.
type workerSettings struct {
	name        string
	kind        string
	table       string
	attemptsKey string
	batchSize   int
	lease       time.Duration
	maxAttempts int
	entityTable string
	backoff     Backoff
}

// Worker runs the outbox claim/process loop over an OutboxStore.
// Construct it with NewEventOutboxWorker or NewWebhookOutboxWorker.
type Worker struct {
	store   OutboxStore
	deliver deliverFunc
	cfg     workerSettings
	opts    Options
}

var _ BatchRunner = (*Worker)(nil)
var _ PendingCounter = (*Worker)(nil)

func newWorker(store OutboxStore, deliver deliverFunc, cfg workerSettings, opts []Option) *Worker {
	o := buildOptions(opts)
	if o.Jitter != nil {
		cfg.backoff.Jitter = o.Jitter
	}

	return &Worker{store: store, deliver: deliver, cfg: cfg, opts: o}
}

// Name returns the configured worker name.
func (w *Worker) Name() string {
	return w.cfg.name
}

// RunOnce selects up to BatchSize due rows, claims each one in a short transaction and delivers it
// outside of that transaction. Per-row delivery failures are recorded on the row; store errors abort
// the pass and are returned together with the partial result.
func (w *Worker) RunOnce(ctx context.Context) (RunResult, error) {
	start := time.Now()
	defer func() {
		w.opts.Metrics.ObserveBatchDuration(time.Since(start))
	}()

	var res RunResult
	ids, err := w.store.DueIDs(ctx, DueQuery{
		Now:         w.opts.Clock.Now(),
		Limit:       w.cfg.batchSize,
		EntityTable: w.cfg.entityTable,
	})
	if err != nil {
		return res, fmt.Errorf("%s: select due: %w", w.cfg.kind, err)
	}

	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Processed++

		record, err := w.store.TryClaim(ctx, id, w.cfg.lease)
		if err != nil {
			return res, fmt.Errorf("%s: claim %d: %w", w.cfg.kind, id, err)
		}
		if record == nil {
			res.Skipped++
			w.opts.Metrics.AddSkipped(1)

			continue
		}

		if err := w.process(ctx, *record); err != nil {
			res.Failed++
			if releaseErr := w.releaseWithFailure(ctx, *record, err); releaseErr != nil {
				return res, releaseErr
			}

			continue
		}
		res.Sent++
		w.opts.Metrics.AddSent(1)
	}

	if res.Processed > 0 {
		w.opts.Logger.Debug(w.cfg.kind+".run",
			"worker", w.cfg.name,
			"processed", res.Processed,
			"sent", res.Sent,
			"failed", res.Failed,
			"skipped", res.Skipped,
		)
	}

	return res, nil
}

// PendingCount reports the due backlog when the store supports it.
func (w *Worker) PendingCount(ctx context.Context) (int, error) {
	counter, ok := w.store.(PendingCounter)
	if !ok {
		return 0, nil
	}

	return counter.PendingCount(ctx)
}

func (w *Worker) process(ctx context.Context, record OutboxRecord) error {
	payload := DecodeDocument(record.Payload)
	payload = maybeDecrypt(ctx, w.opts.Decrypter, w.cfg.table, payload)

	if err := w.deliver(ctx, record, payload); err != nil {
		return err
	}

	return w.store.MarkSent(ctx, record.ID, w.opts.Clock.Now())
}

func (w *Worker) releaseWithFailure(ctx context.Context, record OutboxRecord, cause error) error {
	if w.opts.ErrorHandler != nil {
		w.opts.ErrorHandler(ctx, record, cause)
	}

	attempts := max(0, record.Attempts+1)
	message := TruncateError(cause)
	update := FailureUpdate{Attempts: attempts, LastError: message}

	permanent := w.cfg.maxAttempts > 0 && attempts >= w.cfg.maxAttempts
	if !permanent && w.opts.FailureClassifier(ctx, record, cause) == FailureDead {
		permanent = true
	}

	if permanent {
		w.opts.Logger.Error(w.cfg.kind+".failed_permanent", w.logFields(record,
			w.cfg.attemptsKey, attempts,
			"error", message,
		)...)
		w.opts.Metrics.AddDead(1)
	} else {
		delay := w.cfg.backoff.Delay(attempts)
		next := w.opts.Clock.Now().Add(delay)
		update.NextAttemptAt = &next

		w.opts.Logger.Warn(w.cfg.kind+".failed_retry", w.logFields(record,
			w.cfg.attemptsKey, attempts,
			"next_in_s", int(delay/time.Second),
			"error", message,
		)...)
		w.opts.Metrics.AddRetries(1)
	}

	if err := w.store.MarkFailed(ctx, record.ID, update); err != nil {
		return fmt.Errorf("%s: record failure for %d: %w", w.cfg.kind, record.ID, errors.Join(cause, err))
	}

	return nil
}

func (w *Worker) logFields(record OutboxRecord, extra ...any) []any {
	fields := []any{"worker", w.cfg.name, "id", record.ID}
	if record.EventKey != "" {
		fields = append(fields, "event_key", record.EventKey)
	}
	fields = append(fields, "event_type", record.EventType)

	return append(fields, extra...)
}

func requireEventType(record OutboxRecord) (string, error) {
	eventType := strings.TrimSpace(record.EventType)
	if eventType == "" {
		return "", ErrMissingEventType
	}

	return eventType, nil
}

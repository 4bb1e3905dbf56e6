package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Runner drives a BatchRunner on a timer with one or more goroutines.
// Goroutines never coordinate in memory; the store's row locks partition the work.
type Runner struct {
	job  BatchRunner
	opts Options

	pendingMu sync.Mutex
	pendingAt time.Time
}

// NewRunner constructs a Runner with defaults and optional settings.
func NewRunner(job BatchRunner, opts ...Option) *Runner {
	if job == nil {
		panic("messaging: nil BatchRunner")
	}

	return &Runner{job: job, opts: buildOptions(opts)}
}

// Run starts the polling loop with the configured number of workers and blocks until ctx is done
// or a worker panics.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, r.opts.Workers)
	var wg sync.WaitGroup

	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		workerID := i
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
					r.opts.Logger.Error("messaging worker panic", "worker", workerID, "panic", rec)
					errCh <- err
					cancel()
				}
			}()

			if err := r.runWorker(ctx, workerID); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (r *Runner) runWorker(ctx context.Context, workerID int) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := r.job.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.opts.Logger.Error("messaging worker pass failed", "worker", workerID, "err", err)
			if sleepErr := r.sleep(ctx, r.opts.PollInterval); sleepErr != nil {
				return sleepErr
			}

			continue
		}

		// A pass that only skipped rows claimed nothing; wait before polling again.
		if res.Sent+res.Failed == 0 {
			r.maybeRecordPending(ctx)
			if sleepErr := r.sleep(ctx, r.opts.PollInterval); sleepErr != nil {
				return sleepErr
			}
		}
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Runner) maybeRecordPending(ctx context.Context) {
	counter, ok := r.job.(PendingCounter)
	if !ok {
		return
	}
	if r.opts.PendingInterval <= 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	now := r.opts.Clock.Now()
	r.pendingMu.Lock()
	nextAllowed := r.pendingAt.Add(r.opts.PendingInterval)
	if !r.pendingAt.IsZero() && now.Before(nextAllowed) {
		r.pendingMu.Unlock()

		return
	}
	r.pendingAt = now
	r.pendingMu.Unlock()

	count, err := counter.PendingCount(ctx)
	if err != nil {
		r.opts.Logger.Warn("messaging pending count failed", "err", err)

		return
	}

	r.opts.Metrics.SetPending(count)
}

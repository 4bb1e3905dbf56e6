package messaging

import "context"

// FailureAction defines how a failed delivery should be handled.
type FailureAction int

const (
	// FailureRetry schedules another attempt using the backoff policy.
	FailureRetry FailureAction = iota
	// FailureDead marks the record as permanently failed regardless of the attempt ceiling.
	FailureDead
)

// FailureClassifier decides whether a delivery failure is retryable.
type FailureClassifier func(ctx context.Context, record OutboxRecord, err error) FailureAction

func defaultFailureClassifier(context.Context, OutboxRecord, error) FailureAction {
	return FailureRetry
}

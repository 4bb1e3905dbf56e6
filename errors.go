package messaging

import "errors"

var (
	// ErrInvalidArgument indicates a malformed argument such as an empty topic or a bad namespace id.
	ErrInvalidArgument = errors.New("messaging: invalid argument")
	// ErrDuplicate is returned by stores when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("messaging: duplicate record")
	// ErrStoreRequired is returned when a nil store is provided.
	ErrStoreRequired = errors.New("messaging: store is required")
	// ErrTransportRequired is returned when a nil transport is provided.
	ErrTransportRequired = errors.New("messaging: transport is required")
	// ErrDispatcherRequired is returned when a nil dispatcher is provided.
	ErrDispatcherRequired = errors.New("messaging: dispatcher is required")
	// ErrSchedulerRequired is returned when a nil scheduler is provided.
	ErrSchedulerRequired = errors.New("messaging: scheduler is required")
	// ErrMissingEventType is returned when a claimed record has no event type.
	ErrMissingEventType = errors.New("missing_event_type")
	// ErrSenderRejected is recorded when a legacy sender reports failure without an error.
	ErrSenderRejected = errors.New("sender reported failure")
	// ErrWorkerPanic indicates a runner worker panic.
	ErrWorkerPanic = errors.New("messaging: worker panic")
)

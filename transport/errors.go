package transport

import "errors"

var (
	// ErrClientRequired is returned when a broker client is nil.
	ErrClientRequired = errors.New("messaging transport: client is required")
	// ErrProjectRequired is returned when a Pub/Sub project id is empty.
	ErrProjectRequired = errors.New("messaging transport: pubsub project is required")
	// ErrTopicRequired is returned for envelopes without a topic.
	ErrTopicRequired = errors.New("messaging transport: topic is required")
)

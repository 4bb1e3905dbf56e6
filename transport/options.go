package transport

import "github.com/velmie/messaging"

type settings struct {
	logger messaging.Logger
	prefix string
	topic  string
}

// Option configures a transport.
type Option func(*settings)

// WithLogger sets the logger used for publish diagnostics.
func WithLogger(logger messaging.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPrefix prepends prefix to every Redis channel name.
func WithPrefix(prefix string) Option {
	return func(s *settings) {
		s.prefix = prefix
	}
}

// WithTopic pins every Pub/Sub publish to one topic instead of the envelope topic.
func WithTopic(topic string) Option {
	return func(s *settings) {
		s.topic = topic
	}
}

func buildSettings(opts []Option) settings {
	s := settings{logger: messaging.NopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}

	return s
}

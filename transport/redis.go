package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/velmie/messaging"
)

// Redis publishes envelopes with PUBLISH on prefix+topic.
type Redis struct {
	client redis.UniversalClient
	cfg    settings
}

var _ messaging.Transport = (*Redis)(nil)

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, opts ...Option) (*Redis, error) {
	if client == nil {
		return nil, ErrClientRequired
	}

	return &Redis{client: client, cfg: buildSettings(opts)}, nil
}

// DialRedis opens a client and pings it.
func DialRedis(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("messaging transport: redis ping %s: %w", addr, err)
	}

	return client, nil
}

// Channel returns the channel an envelope with topic is published on.
func (r *Redis) Channel(topic string) string {
	return r.cfg.prefix + topic
}

// Publish implements messaging.Transport.
func (r *Redis) Publish(ctx context.Context, envelope messaging.Envelope) error {
	topic := strings.TrimSpace(envelope.Topic())
	if topic == "" {
		return ErrTopicRequired
	}

	data, err := envelope.MarshalJSON()
	if err != nil {
		return fmt.Errorf("messaging transport: encode envelope: %w", err)
	}

	channel := r.Channel(topic)
	receivers, err := r.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return fmt.Errorf("messaging transport: redis publish %s: %w", channel, err)
	}
	r.cfg.logger.Debug("messaging.redis.publish", "channel", channel, "receivers", receivers)

	return nil
}

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/velmie/messaging"
)

// PubSub publishes envelopes to Google Cloud Pub/Sub.
// Data is the payload JSON, attributes are the stringified headers and the ordering key is entity_pk.
type PubSub struct {
	client *pubsub.Client
	cfg    settings

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

var _ messaging.Transport = (*PubSub)(nil)

// NewPubSubClient creates a client for project. A non-empty emulatorHost connects to the emulator without
// credentials.
func NewPubSubClient(ctx context.Context, project, emulatorHost string) (*pubsub.Client, error) {
	if strings.TrimSpace(project) == "" {
		return nil, ErrProjectRequired
	}

	var opts []option.ClientOption
	if emulatorHost != "" {
		opts = append(opts, option.WithEndpoint(emulatorHost), option.WithoutAuthentication())
	}

	client, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging transport: create pubsub client: %w", err)
	}

	return client, nil
}

// NewPubSub wraps an existing client.
func NewPubSub(client *pubsub.Client, opts ...Option) (*PubSub, error) {
	if client == nil {
		return nil, ErrClientRequired
	}

	return &PubSub{client: client, cfg: buildSettings(opts), topics: make(map[string]*pubsub.Topic)}, nil
}

// Publish implements messaging.Transport and waits for the server ack.
func (p *PubSub) Publish(ctx context.Context, envelope messaging.Envelope) error {
	name := p.cfg.topic
	if name == "" {
		name = strings.TrimSpace(envelope.Topic())
	}
	if name == "" {
		return ErrTopicRequired
	}

	data, err := envelope.PayloadJSON()
	if err != nil {
		return fmt.Errorf("messaging transport: encode payload: %w", err)
	}

	attrs := Attributes(envelope.Headers())
	if p.cfg.topic != "" {
		attrs["topic"] = envelope.Topic()
	}
	msg := &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: envelope.HeaderString("entity_pk"),
	}

	topic := p.topic(name)
	id, err := topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			topic.ResumePublish(msg.OrderingKey)
		}

		return fmt.Errorf("messaging transport: pubsub publish %s: %w", name, err)
	}
	p.cfg.logger.Debug("messaging.pubsub.publish", "topic", name, "message_id", id)

	return nil
}

// Close flushes and stops every topic handle. The client stays open.
func (p *PubSub) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, t := range p.topics {
		t.Stop()
		delete(p.topics, name)
	}
}

func (p *PubSub) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.topics[name]; ok {
		return t
	}
	t := p.client.Topic(name)
	t.EnableMessageOrdering = true
	p.topics[name] = t

	return t
}

// Attributes stringifies headers for Pub/Sub. Strings pass through, nil values are dropped and everything
// else is JSON-encoded.
func Attributes(headers map[string]any) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if k == "" || v == nil {
			continue
		}
		switch value := v.(type) {
		case string:
			out[k] = value
		default:
			raw, err := json.Marshal(value)
			if err != nil {
				out[k] = fmt.Sprint(value)

				continue
			}
			out[k] = string(raw)
		}
	}

	return out
}

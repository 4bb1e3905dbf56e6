package memory

import (
	"context"
	"sync"

	"github.com/velmie/messaging"
)

// Transport buffers published envelopes in memory.
type Transport struct {
	mu       sync.Mutex
	messages []messaging.Envelope
}

var _ messaging.Transport = (*Transport)(nil)

// NewTransport returns an empty buffer.
func NewTransport() *Transport {
	return &Transport{}
}

// Publish implements messaging.Transport.
func (t *Transport) Publish(ctx context.Context, envelope messaging.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	t.messages = append(t.messages, envelope)
	t.mu.Unlock()

	return nil
}

// Messages returns the buffered envelopes without removing them.
func (t *Transport) Messages() []messaging.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]messaging.Envelope(nil), t.messages...)
}

// Drain returns the buffered envelopes and empties the buffer.
func (t *Transport) Drain() []messaging.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.messages
	t.messages = nil

	return out
}

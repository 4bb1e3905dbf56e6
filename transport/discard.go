package transport

import (
	"context"

	"github.com/velmie/messaging"
)

// Discard drops every envelope. Webhook outbox deployments use it where a Transport is required but
// delivery happens through the dispatcher.
type Discard struct{}

var _ messaging.Transport = Discard{}

// Publish implements messaging.Transport.
func (Discard) Publish(ctx context.Context, _ messaging.Envelope) error {
	return ctx.Err()
}

package messaging

import "context"

// InboxMessage identifies the inbound message handed to a Handler.
type InboxMessage struct {
	ID       string
	Topic    string
	EventKey string
	Source   string
}

// Handler processes a single inbound message.
type Handler interface {
	// Handle runs the side effect. It is called inside the inbox transaction.
	Handle(ctx context.Context, msg InboxMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg InboxMessage) error

// Handle implements Handler.
func (fn HandlerFunc) Handle(ctx context.Context, msg InboxMessage) error {
	return fn(ctx, msg)
}

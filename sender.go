package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// LegacyRow is the record shape handed to Sender implementations by Outbox.Flush.
// Payload and Headers are JSON text.
type LegacyRow struct {
	ID       int64  `json:"id"`
	Topic    string `json:"topic"`
	PartKey  string `json:"part_key"`
	Payload  string `json:"payload"`
	Headers  string `json:"headers"`
	Attempts int    `json:"attempts"`
}

// Sender delivers flushed outbox rows. Returning false without an error counts as a failure.
type Sender interface {
	Send(ctx context.Context, row LegacyRow) (bool, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, row LegacyRow) (bool, error)

// Send implements Sender.
func (fn SenderFunc) Send(ctx context.Context, row LegacyRow) (bool, error) {
	return fn(ctx, row)
}

// WriterSender writes each row as a JSON line, typically to stdout.
type WriterSender struct {
	mu    sync.Mutex
	w     io.Writer
	clock Clock
}

// NewWriterSender returns a WriterSender writing to w.
func NewWriterSender(w io.Writer, clock Clock) *WriterSender {
	if clock == nil {
		clock = SystemClock{}
	}

	return &WriterSender{w: w, clock: clock}
}

type writerLine struct {
	ID      int64  `json:"id"`
	Topic   string `json:"topic"`
	Key     string `json:"key"`
	Payload any    `json:"payload"`
	Headers any    `json:"headers"`
	Attempt int    `json:"attempt"`
	TS      string `json:"ts"`
}

// Send implements Sender.
func (s *WriterSender) Send(_ context.Context, row LegacyRow) (bool, error) {
	line, err := json.Marshal(writerLine{
		ID:      row.ID,
		Topic:   row.Topic,
		Key:     row.PartKey,
		Payload: decodeMaybeJSON(row.Payload),
		Headers: decodeMaybeJSON(row.Headers),
		Attempt: row.Attempts,
		TS:      s.clock.Now().Format(time.RFC3339),
	})
	if err != nil {
		return false, fmt.Errorf("messaging: encode row %d: %w", row.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return false, err
	}

	return true, nil
}

func decodeMaybeJSON(value string) any {
	if value == "" {
		return value
	}
	var decoded any
	if err := json.Unmarshal([]byte(value), &decoded); err != nil {
		return value
	}

	return decoded
}

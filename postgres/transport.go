package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/velmie/messaging"
)

// Transport stores envelopes in a messages table and announces them with pg_notify.
type Transport struct {
	db      DB
	table   string
	channel string
	logger  messaging.Logger
	insert  string
}

var _ messaging.Transport = (*Transport)(nil)

// NewTransport returns a Transport writing to messaging_messages and notifying channel messaging_messages
// unless overridden.
func NewTransport(db DB, opts ...Option) (*Transport, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	cfg, err := buildConfig(DefaultMessagesTable, opts)
	if err != nil {
		return nil, err
	}

	return &Transport{
		db:      db,
		table:   cfg.Table,
		channel: cfg.Channel,
		logger:  cfg.Logger,
		insert: fmt.Sprintf(
			"INSERT INTO %s (id, topic, payload, headers) VALUES ($1, $2, $3::jsonb, $4::jsonb)",
			cfg.Table,
		),
	}, nil
}

// Channel returns the notify channel.
func (t *Transport) Channel() string {
	return t.channel
}

// Publish implements messaging.Transport. The notification is advisory; its failure is only logged.
func (t *Transport) Publish(ctx context.Context, envelope messaging.Envelope) error {
	id, err := newMessageID()
	if err != nil {
		return fmt.Errorf("messaging postgres: message id: %w", err)
	}
	payload, err := envelope.PayloadJSON()
	if err != nil {
		return fmt.Errorf("messaging postgres: encode payload: %w", err)
	}
	headers, err := envelope.HeadersJSON()
	if err != nil {
		return fmt.Errorf("messaging postgres: encode headers: %w", err)
	}

	if _, err := t.db.Exec(ctx, t.insert, id, envelope.Topic(), string(payload), string(headers)); err != nil {
		return fmt.Errorf("messaging postgres: insert message into %s failed: %w", t.table, err)
	}
	t.logger.Info("messaging.pg.publish", "id", id, "topic", envelope.Topic())

	note, _ := json.Marshal(map[string]string{"id": id, "topic": envelope.Topic()})
	if _, err := t.db.Exec(ctx, "SELECT pg_notify($1, $2)", t.channel, string(note)); err != nil {
		t.logger.Warn("messaging.transport.notify_failed", "id", id, "channel", t.channel, "err", err)
	}

	return nil
}

func newMessageID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}

	return hex.EncodeToString(b[:]), nil
}

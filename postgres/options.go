package postgres

import "github.com/velmie/messaging"

const (
	DefaultEventOutboxTable   = "event_outbox"
	DefaultWebhookOutboxTable = "webhook_outbox"
	DefaultInboxTable         = "inbox"
	DefaultMessagesTable      = "messaging_messages"
	DefaultJobsTable          = "messaging_jobs"
	DefaultChannel            = "messaging_messages"
)

// Config defines table names and side channels for the Postgres types.
type Config struct {
	Table   string
	Channel string
	Logger  messaging.Logger
}

// Option configures a Postgres type.
type Option func(*Config)

// WithTable sets the table name. Use schema.table for a non-default schema.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

// WithChannel sets the LISTEN/NOTIFY channel used by Transport.
func WithChannel(channel string) Option {
	return func(c *Config) {
		c.Channel = channel
	}
}

// WithLogger sets the logger for advisory failures.
func WithLogger(logger messaging.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

func buildConfig(defaultTable string, opts []Option) (Config, error) {
	cfg := Config{Table: defaultTable, Channel: DefaultChannel}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = messaging.NopLogger{}
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if !isIdentifier(cfg.Channel) {
		return Config{}, ErrInvalidChannel
	}
	table, err := sanitizeTableName(cfg.Table)
	if err != nil {
		return Config{}, err
	}
	cfg.Table = table

	return cfg, nil
}

package mysql

import "database/sql"

const (
	DefaultEventOutboxTable   = "event_outbox"
	DefaultWebhookOutboxTable = "webhook_outbox"
	DefaultInboxTable         = "inbox"
)

// Config defines MySQL store behavior.
type Config struct {
	Table string
	// Isolation is used by claim and inbox transactions. Defaults to READ COMMITTED.
	Isolation sql.IsolationLevel
}

func (c Config) withDefaults(defaultTable string) Config {
	if c.Table == "" {
		c.Table = defaultTable
	}
	if c.Isolation == sql.LevelDefault {
		c.Isolation = sql.LevelReadCommitted
	}

	return c
}

// Option configures a MySQL store.
type Option func(*Config)

// WithTable sets the table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

// WithIsolation sets the isolation level of claim and inbox transactions.
func WithIsolation(level sql.IsolationLevel) Option {
	return func(c *Config) {
		c.Isolation = level
	}
}

func buildConfig(defaultTable string, opts []Option) (Config, error) {
	var cfg Config
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	cfg = cfg.withDefaults(defaultTable)

	table, err := sanitizeTableName(cfg.Table)
	if err != nil {
		return Config{}, err
	}
	cfg.Table = table

	return cfg, nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/velmie/messaging"
)

const (
	// EventOutboxPrefix prefixes event outbox worker variables, e.g. MESSAGING_EVENT_OUTBOX_BATCH_SIZE.
	EventOutboxPrefix = "MESSAGING_EVENT_OUTBOX"
	// WebhookOutboxPrefix prefixes webhook outbox worker variables.
	WebhookOutboxPrefix = "MESSAGING_WEBHOOK_OUTBOX"
)

// LoadDotEnv loads the given .env files (".env" when none is given) without overriding variables that are
// already set. Missing files are not an error; the result reports whether anything was loaded.
func LoadDotEnv(paths ...string) (bool, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	loaded := false
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return loaded, fmt.Errorf("config: load %s: %w", path, err)
		}
		loaded = true
	}

	return loaded, nil
}

// LoadEventOutbox reads MESSAGING_EVENT_OUTBOX_* and returns the clamped config.
func LoadEventOutbox() (messaging.EventOutboxConfig, error) {
	var cfg messaging.EventOutboxConfig
	if err := envconfig.Process(EventOutboxPrefix, &cfg); err != nil {
		return messaging.EventOutboxConfig{}, fmt.Errorf("config: event outbox: %w", err)
	}

	return cfg.Normalized(), nil
}

// LoadWebhookOutbox reads MESSAGING_WEBHOOK_OUTBOX_* and returns the clamped config.
func LoadWebhookOutbox() (messaging.WebhookOutboxConfig, error) {
	var cfg messaging.WebhookOutboxConfig
	if err := envconfig.Process(WebhookOutboxPrefix, &cfg); err != nil {
		return messaging.WebhookOutboxConfig{}, fmt.Errorf("config: webhook outbox: %w", err)
	}

	return cfg.Normalized(), nil
}

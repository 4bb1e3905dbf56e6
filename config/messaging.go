package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

// Environment variables read by LoadMessaging.
const (
	EnvConfigFile = "MESSAGING_CONFIG_FILE"
	EnvConfig     = "MESSAGING_CONFIG"
	EnvTransport  = "MESSAGING_TRANSPORT"
	EnvScheduler  = "MESSAGING_SCHEDULER"
	EnvStorage    = "MESSAGING_STORAGE"
)

// Driver names.
const (
	DriverInMemory = "in-memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverPubSub   = "pubsub"
)

var (
	// ErrUnsupportedFormat is returned for config files that are not .json, .yaml or .yml.
	ErrUnsupportedFormat = errors.New("config: unsupported config format")
	// ErrUnsupportedDriver is returned when a driver cannot serve the requested role.
	ErrUnsupportedDriver = errors.New("config: unsupported driver")

	placeholder = regexp.MustCompile(`^\$\{(env|file):([^}]+)\}$`)
)

// Driver describes one transport or scheduler backend.
type Driver struct {
	Driver       string `json:"driver" validate:"omitempty,oneof=in-memory postgres redis pubsub"`
	DSN          string `json:"dsn" validate:"required_if=Driver postgres"`
	User         string `json:"user"`
	Password     string `json:"password"`
	Channel      string `json:"channel"`
	Table        string `json:"table"`
	Addr         string `json:"addr" validate:"required_if=Driver redis"`
	Prefix       string `json:"prefix"`
	Project      string `json:"project" validate:"required_if=Driver pubsub"`
	Topic        string `json:"topic"`
	EmulatorHost string `json:"emulator_host"`
}

// Name returns the driver, defaulting to in-memory.
func (d Driver) Name() string {
	if name := strings.TrimSpace(d.Driver); name != "" {
		return name
	}

	return DriverInMemory
}

// Messaging selects the transport and scheduler backends and the developer event log directory.
type Messaging struct {
	Transport  Driver `json:"transport"`
	Scheduler  Driver `json:"scheduler"`
	StorageDir string `json:"storage_dir"`
}

// DefaultStorageDir is $TMPDIR/messaging.
func DefaultStorageDir() string {
	return filepath.Join(os.TempDir(), "messaging")
}

// Validate checks driver names and required connection fields.
func (m Messaging) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(m); err != nil {
		return fmt.Errorf("config: invalid messaging config: %w", err)
	}

	return nil
}

// LoadMessaging reads the messaging config from the process environment.
func LoadMessaging() (Messaging, error) {
	return MessagingFromEnv(os.LookupEnv)
}

// MessagingFromEnv resolves the config from lookup. MESSAGING_CONFIG_FILE wins, then MESSAGING_CONFIG when it
// names an existing file, then the JSON variables MESSAGING_TRANSPORT and MESSAGING_SCHEDULER.
func MessagingFromEnv(lookup func(string) (string, bool)) (Messaging, error) {
	if path, ok := lookup(EnvConfigFile); ok && strings.TrimSpace(path) != "" {
		return MessagingFromFile(strings.TrimSpace(path))
	}
	if path, ok := lookup(EnvConfig); ok && isFile(path) {
		return MessagingFromFile(path)
	}

	doc := map[string]any{}
	for key, env := range map[string]string{"transport": EnvTransport, "scheduler": EnvScheduler} {
		raw, ok := lookup(env)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		var def map[string]any
		if err := json.Unmarshal([]byte(raw), &def); err != nil {
			return Messaging{}, fmt.Errorf("config: decode %s: %w", env, err)
		}
		doc[key] = def
	}
	if dir, ok := lookup(EnvStorage); ok {
		doc["storage_dir"] = dir
	}

	return fromDocument(doc)
}

// MessagingFromFile reads a .json, .yaml or .yml file.
func MessagingFromFile(path string) (Messaging, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Messaging{}, fmt.Errorf("config: messaging config file: %w", err)
	}

	var doc map[string]any
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(raw, &doc); err != nil {
			return Messaging{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		var parsed map[interface{}]interface{}
		if err := yaml.Unmarshal(raw, &parsed); err != nil {
			return Messaging{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
		doc, _ = normalizeYAML(parsed).(map[string]any)
	default:
		return Messaging{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	return fromDocument(doc)
}

func fromDocument(doc map[string]any) (Messaging, error) {
	resolved, err := json.Marshal(ResolvePlaceholders(doc))
	if err != nil {
		return Messaging{}, fmt.Errorf("config: encode messaging config: %w", err)
	}

	var cfg Messaging
	if err := json.Unmarshal(resolved, &cfg); err != nil {
		return Messaging{}, fmt.Errorf("config: decode messaging config: %w", err)
	}
	if strings.TrimSpace(cfg.StorageDir) == "" {
		cfg.StorageDir = DefaultStorageDir()
	}
	if err := cfg.Validate(); err != nil {
		return Messaging{}, err
	}

	return cfg, nil
}

// ResolvePlaceholders replaces "${env:NAME}" with the variable value and "${file:/path}" with the trimmed file
// contents, recursively through maps and slices. Unset variables and missing files resolve to "".
func ResolvePlaceholders(value any) any {
	switch v := value.(type) {
	case string:
		m := placeholder.FindStringSubmatch(v)
		if m == nil {
			return v
		}
		if m[1] == "env" {
			return os.Getenv(m[2])
		}
		content, err := os.ReadFile(m[2])
		if err != nil {
			return ""
		}

		return strings.TrimSpace(string(content))
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[k] = ResolvePlaceholders(inner)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = ResolvePlaceholders(inner)
		}

		return out
	default:
		return value
	}
}

func normalizeYAML(value interface{}) interface{} {
	switch v := value.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[fmt.Sprint(k)] = normalizeYAML(inner)
		}

		return out
	case []interface{}:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = normalizeYAML(inner)
		}

		return out
	default:
		return value
	}
}

func isFile(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}

// Package config loads worker and messaging configuration from the environment and from files.
package config

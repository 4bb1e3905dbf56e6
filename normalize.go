package messaging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// MaxEntityTableLen bounds outbox entity_table values.
	MaxEntityTableLen = 64
	// MaxEventTypeLen bounds outbox event_type values.
	MaxEventTypeLen = 100
	// MaxEntityPKLen bounds outbox entity_pk values.
	MaxEntityPKLen = 64
	// MaxSourceLen bounds inbox source values.
	MaxSourceLen = 100
	// MaxErrorLen bounds stored last_error values, in runes.
	MaxErrorLen = 2000

	// DefaultEntityTable is used when an outbox is created without a table name.
	DefaultEntityTable = "outbox"
	// DefaultEntityPK is stored when no partition key is given.
	DefaultEntityPK = "-"
	// DefaultSource is used when an inbox is created without a source name.
	DefaultSource = "inbox"
)

// NormalizeFixedString trims value, substitutes fallback when empty and replaces values longer than
// maxLen bytes with a truncated sha256 hex digest so they fit fixed-width columns.
func NormalizeFixedString(value string, maxLen int, fallback string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		v = fallback
	}
	if len(v) <= maxLen {
		return v
	}

	sum := sha256.Sum256([]byte(v))
	digest := hex.EncodeToString(sum[:])

	return digest[:min(maxLen, len(digest))]
}

// TruncateError returns the error text limited to MaxErrorLen runes.
func TruncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if msg == "" {
		msg = fmt.Sprintf("%T", err)
	}
	runes := []rune(msg)
	if len(runes) <= MaxErrorLen {
		return msg
	}

	return string(runes[:MaxErrorLen])
}

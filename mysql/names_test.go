package mysql

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeTableName(t *testing.T) {
	valid := []string{"event_outbox", "schema.event_outbox", "OUTBOX_1"}
	for _, name := range valid {
		if _, err := sanitizeTableName(name); err != nil {
			t.Fatalf("expected valid name %q: %v", name, err)
		}
	}

	invalid := []string{"", "outbox;drop", "outbox-1", "schema..outbox", "schema.outbox;", "a.b.c", strings.Repeat("x", 65)}
	for _, name := range invalid {
		if _, err := sanitizeTableName(name); err == nil {
			t.Fatalf("expected invalid name %q", name)
		}
	}

	if _, err := sanitizeTableName(""); !errors.Is(err, ErrTableNameRequired) {
		t.Fatalf("expected ErrTableNameRequired, got %v", err)
	}
}

package postgres

import "testing"

func TestSanitizeTableName(t *testing.T) {
	valid := []string{"event_outbox", "public.event_outbox", "OUTBOX_1"}
	for _, name := range valid {
		if _, err := sanitizeTableName(name); err != nil {
			t.Fatalf("expected valid name %q: %v", name, err)
		}
	}

	invalid := []string{"", "outbox;drop", "outbox-1", "a..b", "a.b.c", "1outbox", "public.outbox;"}
	for _, name := range invalid {
		if _, err := sanitizeTableName(name); err == nil {
			t.Fatalf("expected invalid name %q", name)
		}
	}
}

func TestIndexNameDropsSchema(t *testing.T) {
	if got := indexName("public.inbox", "due_idx"); got != "inbox_due_idx" {
		t.Fatalf("unexpected index name %q", got)
	}
	if got := indexName("inbox", "uq"); got != "inbox_uq" {
		t.Fatalf("unexpected index name %q", got)
	}
}

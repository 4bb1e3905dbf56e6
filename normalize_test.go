package messaging

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeFixedString(t *testing.T) {
	if got := NormalizeFixedString("  orders ", MaxEntityTableLen, DefaultEntityTable); got != "orders" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
	if got := NormalizeFixedString("   ", MaxEntityPKLen, DefaultEntityPK); got != "-" {
		t.Fatalf("expected fallback, got %q", got)
	}

	long := strings.Repeat("x", 150)
	got := NormalizeFixedString(long, MaxSourceLen, DefaultSource)
	if len(got) != 64 {
		t.Fatalf("expected 64 char digest, got %d", len(got))
	}
	if got != NormalizeFixedString(long, MaxSourceLen, DefaultSource) {
		t.Fatalf("expected stable digest")
	}

	short := NormalizeFixedString(strings.Repeat("y", 40), 32, "")
	if len(short) != 32 {
		t.Fatalf("expected digest truncated to 32, got %d", len(short))
	}
}

type emptyError struct{}

func (emptyError) Error() string { return "" }

func TestTruncateError(t *testing.T) {
	if got := TruncateError(nil); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
	if got := TruncateError(errors.New("boom")); got != "boom" {
		t.Fatalf("expected boom, got %q", got)
	}
	if got := TruncateError(emptyError{}); got != "messaging.emptyError" {
		t.Fatalf("expected type name, got %q", got)
	}

	long := strings.Repeat("é", MaxErrorLen+10)
	got := TruncateError(errors.New(long))
	if n := len([]rune(got)); n != MaxErrorLen {
		t.Fatalf("expected %d runes, got %d", MaxErrorLen, n)
	}
}

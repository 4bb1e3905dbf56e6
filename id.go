package messaging

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const idLen = 36

// DefaultNamespace is the namespace used by NormalizeID (RFC 4122 DNS namespace).
var DefaultNamespace = uuid.NameSpaceDNS

// NewRandomID returns a random (version 4) identifier in canonical lower-case form.
func NewRandomID() string {
	return uuid.New().String()
}

// NewDeterministicID returns a name-based (version 5) identifier derived from the namespace and name.
func NewDeterministicID(namespace, name string) (string, error) {
	if !IsID(namespace) {
		return "", fmt.Errorf("%w: namespace %q is not a valid identifier", ErrInvalidArgument, namespace)
	}
	ns, err := uuid.Parse(namespace)
	if err != nil {
		return "", fmt.Errorf("%w: namespace %q: %v", ErrInvalidArgument, namespace, err)
	}

	return uuid.NewSHA1(ns, []byte(name)).String(), nil
}

// IsID reports whether s is a canonical 8-4-4-4-12 identifier with version 1-5 and RFC 4122 variant.
func IsID(s string) bool {
	if len(s) != idLen {
		return false
	}
	for i := 0; i < idLen; i++ {
		c := s[i]
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !isHex(c) {
				return false
			}
		}
	}
	if v := s[14]; v < '1' || v > '5' {
		return false
	}
	switch s[19] {
	case '8', '9', 'a', 'b', 'A', 'B':
		return true
	default:
		return false
	}
}

// NormalizeID turns an arbitrary dedup key into an identifier.
// Well-formed identifiers pass through lower-cased, anything else is hashed under DefaultNamespace
// with the optional salt ("salt|input").
func NormalizeID(input, salt string) string {
	trimmed := strings.ToLower(strings.TrimSpace(input))
	if IsID(trimmed) {
		return trimmed
	}

	name := input
	if salt != "" {
		name = salt + "|" + input
	}

	return uuid.NewSHA1(DefaultNamespace, []byte(name)).String()
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

package mysql

import (
	"fmt"
	"strings"
)

// maxIdentifierLen is MySQL's limit for table and schema names.
const maxIdentifierLen = 64

// sanitizeTableName accepts "table" or "schema.table" made of unquoted identifier characters.
func sanitizeTableName(name string) (string, error) {
	if name == "" {
		return "", ErrTableNameRequired
	}
	schema, table, qualified := strings.Cut(name, ".")
	if !qualified {
		table, schema = schema, ""
	}
	if (qualified && !plainIdentifier(schema)) || !plainIdentifier(table) {
		return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
	}

	return name, nil
}

func plainIdentifier(s string) bool {
	if s == "" || len(s) > maxIdentifierLen {
		return false
	}

	return strings.IndexFunc(s, func(r rune) bool {
		return r != '_' && (r < '0' || r > '9') && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z')
	}) < 0
}

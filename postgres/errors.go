package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrDBRequired is returned when a nil DB is provided.
	ErrDBRequired = errors.New("messaging postgres: db is required")
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = errors.New("messaging postgres: table name is required")
	// ErrInvalidTableName is returned when the table name has disallowed characters.
	ErrInvalidTableName = errors.New("messaging postgres: invalid table name")
	// ErrInvalidChannel is returned when the notify channel is not a plain identifier.
	ErrInvalidChannel = errors.New("messaging postgres: invalid notify channel")
	// ErrCleanupRetentionInvalid is returned when cleanup retention is not positive.
	ErrCleanupRetentionInvalid = errors.New("messaging postgres: cleanup retention must be positive")
	// ErrCleanupLimitInvalid is returned when cleanup limit is negative.
	ErrCleanupLimitInvalid = errors.New("messaging postgres: cleanup limit must be non-negative")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

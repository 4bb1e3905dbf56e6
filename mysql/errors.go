package mysql

import (
	"errors"

	mysqldriver "github.com/go-sql-driver/mysql"
)

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("messaging mysql: db is required")
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = errors.New("messaging mysql: table name is required")
	// ErrInvalidTableName is returned when the table name has disallowed characters.
	ErrInvalidTableName = errors.New("messaging mysql: invalid table name")
	// ErrCleanupLimitInvalid is returned when cleanup limit is negative.
	ErrCleanupLimitInvalid = errors.New("messaging mysql: cleanup limit must be non-negative")
	// ErrCleanupRetentionInvalid is returned when cleanup retention is not positive.
	ErrCleanupRetentionInvalid = errors.New("messaging mysql: cleanup retention must be positive")
)

const duplicateEntry = 1062

func isDuplicateEntry(err error) bool {
	var myErr *mysqldriver.MySQLError

	return errors.As(err, &myErr) && myErr.Number == duplicateEntry
}

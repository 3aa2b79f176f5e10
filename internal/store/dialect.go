package store

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
)

// Dialect abstracts database-specific SQL generation and behavior.
type Dialect interface {
	// Name returns "postgres", "mysql" or "sqlite".
	Name() string

	// DriverName returns the database/sql driver name ("pgx", "mysql" or "sqlite").
	DriverName() string

	// PlaceholderFormat rewrites the "?" placeholders squirrel emits into the
	// driver's native form.
	PlaceholderFormat() sq.PlaceholderFormat

	// ColumnType maps a field type to the database DDL type.
	ColumnType(fieldType string, precision int) string

	// AutoIncrementColumn returns the column definition of a generated
	// integer primary key.
	AutoIncrementColumn(name string) string

	// SystemTablesSQL returns the DDL for the shared attribute definition table.
	SystemTablesSQL() string

	// TableExists checks whether a table exists.
	TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error)

	// GetColumns returns existing column names and types for a table.
	GetColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]string, error)

	// EnsureUniqueIndex creates the unique index on table(column) unless it exists.
	EnsureUniqueIndex(ctx context.Context, db *sql.DB, table, column string) error

	// InsertIgnore makes b a no-op when it conflicts with the unique column.
	InsertIgnore(b sq.InsertBuilder, column string) sq.InsertBuilder

	// SupportsReturning reports whether INSERT ... RETURNING is available.
	// Without it the generated key is read from the driver's LastInsertId.
	SupportsReturning() bool

	// EmptyInsertSQL returns an insert of a row made only of column defaults.
	EmptyInsertSQL(table string) string

	// MapError inspects a driver error and returns a well-known sentinel error if applicable.
	MapError(err error) error

	// NeedsBoolFix returns true if boolean columns come back as integers.
	NeedsBoolFix() bool
}

// NewDialect creates a Dialect for the given driver name.
// Unknown names fall back to postgres.
func NewDialect(driver string) Dialect {
	switch driver {
	case "sqlite":
		return &SQLiteDialect{}
	case "mysql":
		return &MySQLDialect{}
	default:
		return &PostgresDialect{}
	}
}

func uniqueIndexName(table, column string) string {
	return "idx_" + table + "_" + column
}

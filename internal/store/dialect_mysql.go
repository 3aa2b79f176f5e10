package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers.
const (
	mysqlDuplicateEntry = 1062
)

// MySQLDialect implements Dialect for MySQL and TiDB via go-sql-driver/mysql.
// It has no INSERT ... RETURNING, so generated keys come from LastInsertId.
type MySQLDialect struct{}

func (d *MySQLDialect) Name() string                            { return "mysql" }
func (d *MySQLDialect) DriverName() string                      { return "mysql" }
func (d *MySQLDialect) PlaceholderFormat() sq.PlaceholderFormat { return sq.Question }
func (d *MySQLDialect) NeedsBoolFix() bool                      { return true }
func (d *MySQLDialect) SupportsReturning() bool                 { return false }

func (d *MySQLDialect) ColumnType(fieldType string, precision int) string {
	switch fieldType {
	case "text":
		return "TEXT"
	case "int", "integer":
		return "INT"
	case "bigint":
		return "BIGINT"
	case "float":
		return "DOUBLE"
	case "decimal":
		if precision > 0 {
			return fmt.Sprintf("DECIMAL(18,%d)", precision)
		}
		return "DECIMAL(18,4)"
	case "boolean":
		return "BOOLEAN"
	case "uuid":
		return "CHAR(36)"
	case "timestamp":
		return "DATETIME(6)"
	case "date":
		return "DATE"
	case "json":
		return "JSON"
	default:
		// Indexed and key columns cannot be TEXT.
		return "VARCHAR(255)"
	}
}

func (d *MySQLDialect) AutoIncrementColumn(name string) string {
	return name + " BIGINT AUTO_INCREMENT PRIMARY KEY"
}

func (d *MySQLDialect) EmptyInsertSQL(table string) string {
	return "INSERT INTO " + table + " () VALUES ()"
}

func (d *MySQLDialect) InsertIgnore(b sq.InsertBuilder, _ string) sq.InsertBuilder {
	return b.Options("IGNORE")
}

func (d *MySQLDialect) SystemTablesSQL() string {
	return mysqlSystemTablesSQL
}

func (d *MySQLDialect) TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?`,
		tableName,
	).Scan(&n)
	return n > 0, err
}

func (d *MySQLDialect) GetColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?`,
		tableName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, err
		}
		cols[name] = dataType
	}
	return cols, rows.Err()
}

// EnsureUniqueIndex checks information_schema first; MySQL has no
// CREATE INDEX IF NOT EXISTS.
func (d *MySQLDialect) EnsureUniqueIndex(ctx context.Context, db *sql.DB, table, column string) error {
	name := uniqueIndexName(table, column)
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.statistics WHERE table_schema = DATABASE() AND table_name = ? AND index_name = ?`,
		table, name,
	).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)", name, table, column))
	return err
}

func (d *MySQLDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// --- MySQL DDL ---

const mysqlSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS attributes (
    id          BIGINT AUTO_INCREMENT PRIMARY KEY,
    name        VARCHAR(255) NOT NULL,
    CONSTRAINT attributes_name_unique UNIQUE (name)
)
`

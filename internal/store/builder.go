package store

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// ToSQL renders a squirrel builder built with "?" placeholders into the
// dialect's native placeholder form. Nested builders (derived tables,
// subqueries) are only rewritten here, once, at the outermost level.
func ToSQL(d Dialect, b sq.Sqlizer) (string, []any, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build sql: %w", err)
	}
	query, err = d.PlaceholderFormat().ReplacePlaceholders(query)
	if err != nil {
		return "", nil, fmt.Errorf("format placeholders: %w", err)
	}
	return query, args, nil
}

// SelectRows renders b and returns every row.
func SelectRows(ctx context.Context, q Querier, d Dialect, b sq.Sqlizer) ([]map[string]any, error) {
	query, args, err := ToSQL(d, b)
	if err != nil {
		return nil, err
	}
	return QueryRows(ctx, q, query, args...)
}

// SelectRow renders b and returns the first row, or ErrNotFound.
func SelectRow(ctx context.Context, q Querier, d Dialect, b sq.Sqlizer) (map[string]any, error) {
	query, args, err := ToSQL(d, b)
	if err != nil {
		return nil, err
	}
	return QueryRow(ctx, q, query, args...)
}

// ExecBuilder renders b, executes it and maps driver errors through the dialect.
func ExecBuilder(ctx context.Context, q Querier, d Dialect, b sq.Sqlizer) (int64, error) {
	query, args, err := ToSQL(d, b)
	if err != nil {
		return 0, err
	}
	n, err := Exec(ctx, q, query, args...)
	if err != nil {
		return 0, MapError(d, err)
	}
	return n, nil
}

// Insert writes one row of values into table and returns its primary key.
// Dialects without RETURNING take the key from values when present, and from
// LastInsertId otherwise.
func Insert(ctx context.Context, q Querier, d Dialect, table, pk string, values map[string]any) (any, error) {
	returning := ""
	if d.SupportsReturning() {
		returning = " RETURNING " + pk
	}
	var b sq.Sqlizer = sq.Expr(d.EmptyInsertSQL(table) + returning)
	if len(values) > 0 {
		ins := sq.Insert(table).SetMap(values)
		if returning != "" {
			ins = ins.Suffix(strings.TrimSpace(returning))
		}
		b = ins
	}

	if returning != "" {
		row, err := SelectRow(ctx, q, d, b)
		if err != nil {
			return nil, MapError(d, err)
		}
		return row[pk], nil
	}

	query, args, err := ToSQL(d, b)
	if err != nil {
		return nil, err
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(d, err)
	}
	if id, ok := values[pk]; ok {
		return id, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

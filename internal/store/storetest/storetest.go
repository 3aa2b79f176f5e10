// Package storetest opens throwaway databases for tests.
package storetest

import (
	"context"
	"database/sql"
	"testing"

	"crudkit/internal/spec"
	"crudkit/internal/store"
)

// NewSQLite returns a store over a private in-memory SQLite database.
// The single connection keeps every statement on the same database.
func NewSQLite(t testing.TB) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewFromDB(db, &store.SQLiteDialect{})
}

// Migrated returns an in-memory SQLite store with every table of reg created.
func Migrated(t testing.TB, reg *spec.Registry) *store.Store {
	t.Helper()
	s := NewSQLite(t)
	if err := store.NewMigrator(s).MigrateAll(context.Background(), reg); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

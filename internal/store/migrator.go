package store

import (
	"context"
	"fmt"
	"strings"

	"crudkit/internal/spec"
)

type Migrator struct {
	store *Store
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// MigrateAll bootstraps the shared tables, then every entity table, join
// table and attribute pivot table declared in reg.
func (m *Migrator) MigrateAll(ctx context.Context, reg *spec.Registry) error {
	if err := m.store.Bootstrap(ctx); err != nil {
		return err
	}
	entities := reg.Entities()
	for _, e := range entities {
		if err := m.Migrate(ctx, e); err != nil {
			return err
		}
	}
	for _, e := range entities {
		for _, rel := range e.Relations {
			if !rel.IsManyToMany() {
				continue
			}
			target, ok := reg.Entity(rel.Target)
			if !ok {
				return fmt.Errorf("relation %s.%s: unknown target %s", e.Name, rel.Name, rel.Target)
			}
			if err := m.MigrateJoinTable(ctx, rel, e, target); err != nil {
				return err
			}
		}
		if e.HasAttributes() {
			if err := m.MigrateAttributeTable(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Migrate ensures the table matches the entity declaration.
// Creates the table if it doesn't exist, or adds missing columns.
func (m *Migrator) Migrate(ctx context.Context, entity *spec.Entity) error {
	exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, entity.Table)
	if err != nil {
		return fmt.Errorf("check table exists: %w", err)
	}

	if !exists {
		return m.createTable(ctx, entity)
	}

	return m.alterTable(ctx, entity)
}

// MigrateJoinTable creates a join table for a many-to-many relation if it doesn't exist.
func (m *Migrator) MigrateJoinTable(ctx context.Context, rel *spec.Relation, source, target *spec.Entity) error {
	exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, rel.JoinTable)
	if err != nil {
		return fmt.Errorf("check join table exists: %w", err)
	}
	if exists {
		return nil
	}

	sql := fmt.Sprintf(
		`CREATE TABLE %s (
			%s %s NOT NULL,
			%s %s NOT NULL,
			PRIMARY KEY (%s, %s)
		)`,
		rel.JoinTable,
		rel.SourceJoinKey, m.keyType(source),
		rel.TargetJoinKey, m.keyType(target),
		rel.SourceJoinKey, rel.TargetJoinKey,
	)

	if _, err := m.store.DB.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("create join table %s: %w", rel.JoinTable, err)
	}
	return nil
}

// MigrateAttributeTable creates the pivot table linking an entity's rows to
// attribute definitions, one value per (owner, attribute).
func (m *Migrator) MigrateAttributeTable(ctx context.Context, entity *spec.Entity) error {
	attrs := entity.Attributes
	exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, attrs.Table)
	if err != nil {
		return fmt.Errorf("check attribute table exists: %w", err)
	}
	if exists {
		return nil
	}

	sql := fmt.Sprintf(
		`CREATE TABLE %s (
			%s %s NOT NULL REFERENCES %s(%s) ON DELETE CASCADE,
			attribute_id %s NOT NULL REFERENCES attributes(id) ON DELETE CASCADE,
			value TEXT,
			PRIMARY KEY (%s, attribute_id)
		)`,
		attrs.Table,
		attrs.OwnerKey, m.keyType(entity), entity.Table, entity.PrimaryKey.Field,
		m.store.Dialect.ColumnType("bigint", 0),
		attrs.OwnerKey,
	)

	if _, err := m.store.DB.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("create attribute table %s: %w", attrs.Table, err)
	}
	return nil
}

func (m *Migrator) keyType(e *spec.Entity) string {
	if f := e.GetField(e.PrimaryKey.Field); f != nil {
		return m.store.Dialect.ColumnType(f.Type, f.Precision)
	}
	return m.store.Dialect.ColumnType(e.PrimaryKey.Type, 0)
}

func (m *Migrator) createTable(ctx context.Context, entity *spec.Entity) error {
	var cols []string
	if entity.GetField(entity.PrimaryKey.Field) == nil {
		cols = append(cols, m.primaryKeyDef(entity, entity.PrimaryKey.Field, entity.PrimaryKey.Type))
	}
	for i := range entity.Fields {
		cols = append(cols, m.buildColumnDef(entity, &entity.Fields[i]))
	}

	sql := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", entity.Table, strings.Join(cols, ",\n  "))

	if _, err := m.store.DB.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("create table %s: %w", entity.Table, err)
	}

	if err := m.createIndexes(ctx, entity); err != nil {
		return fmt.Errorf("create indexes for %s: %w", entity.Table, err)
	}

	return nil
}

func (m *Migrator) alterTable(ctx context.Context, entity *spec.Entity) error {
	existing, err := m.store.Dialect.GetColumns(ctx, m.store.DB, entity.Table)
	if err != nil {
		return fmt.Errorf("get columns for %s: %w", entity.Table, err)
	}

	for _, f := range entity.Fields {
		if _, ok := existing[f.Name]; ok {
			continue
		}
		colType := m.store.Dialect.ColumnType(f.Type, f.Precision)
		notNull := ""
		if f.Required && !f.Nullable {
			notNull = " NOT NULL DEFAULT ''" // safe default for existing rows
		}
		sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s%s", entity.Table, f.Name, colType, notNull)
		if _, err := m.store.DB.ExecContext(ctx, sql); err != nil {
			return fmt.Errorf("add column %s.%s: %w", entity.Table, f.Name, err)
		}
	}

	if err := m.createIndexes(ctx, entity); err != nil {
		return fmt.Errorf("create indexes for %s: %w", entity.Table, err)
	}

	return nil
}

func (m *Migrator) primaryKeyDef(entity *spec.Entity, name, fieldType string) string {
	pk := entity.PrimaryKey
	if pk.Generated && fieldType != "uuid" && fieldType != "string" {
		return m.store.Dialect.AutoIncrementColumn(name)
	}
	col := name + " " + m.store.Dialect.ColumnType(fieldType, 0) + " PRIMARY KEY"
	if pk.Generated && fieldType == "uuid" && m.store.Dialect.Name() == "postgres" {
		col += " DEFAULT gen_random_uuid()"
	}
	return col
}

func (m *Migrator) buildColumnDef(entity *spec.Entity, f *spec.Field) string {
	if f.Name == entity.PrimaryKey.Field {
		return m.primaryKeyDef(entity, f.Name, f.Type)
	}

	col := f.Name + " " + m.store.Dialect.ColumnType(f.Type, f.Precision)

	if f.Required && !f.Nullable {
		col += " NOT NULL"
	}

	if f.Default != nil {
		switch v := f.Default.(type) {
		case string:
			col += fmt.Sprintf(" DEFAULT '%s'", strings.ReplaceAll(v, "'", "''"))
		case int, int64, float64:
			col += fmt.Sprintf(" DEFAULT %v", v)
		case bool:
			if m.store.Dialect.NeedsBoolFix() {
				if v {
					col += " DEFAULT 1"
				} else {
					col += " DEFAULT 0"
				}
			} else {
				col += fmt.Sprintf(" DEFAULT %t", v)
			}
		default:
			col += fmt.Sprintf(" DEFAULT '%v'", v)
		}
	}

	return col
}

func (m *Migrator) createIndexes(ctx context.Context, entity *spec.Entity) error {
	for _, f := range entity.Fields {
		if !f.Unique || f.Name == entity.PrimaryKey.Field {
			continue
		}
		if err := m.store.Dialect.EnsureUniqueIndex(ctx, m.store.DB, entity.Table, f.Name); err != nil {
			return fmt.Errorf("create unique index on %s.%s: %w", entity.Table, f.Name, err)
		}
	}
	return nil
}

package eav

import (
	"context"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"crudkit/internal/spec"
	"crudkit/internal/store"
)

// DefinitionsTable holds one row per attribute name, shared by every entity.
const DefinitionsTable = "attributes"

// FindOrCreate returns the id of the attribute definition called name,
// inserting it first when missing. The insert is a no-op on conflict with the
// unique name constraint, so concurrent first uses of a name agree on one row.
func FindOrCreate(ctx context.Context, q store.Querier, d store.Dialect, name string) (int64, error) {
	insert := d.InsertIgnore(sq.Insert(DefinitionsTable).Columns("name").Values(name), "name")
	if _, err := store.ExecBuilder(ctx, q, d, insert); err != nil {
		return 0, fmt.Errorf("insert attribute %q: %w", name, err)
	}

	row, err := store.SelectRow(ctx, q, d,
		sq.Select("id").From(DefinitionsTable).Where(sq.Eq{"name": name}))
	if err != nil {
		return 0, fmt.Errorf("select attribute %q: %w", name, err)
	}
	id, ok := store.ToInt64(row["id"])
	if !ok {
		return 0, fmt.Errorf("attribute %q: unexpected id %v", name, row["id"])
	}
	return id, nil
}

// Pivot is the relation between one owner row and its attribute values.
type Pivot struct {
	q       store.Querier
	d       store.Dialect
	table   string
	owner   string
	ownerID any
}

func NewPivot(q store.Querier, d store.Dialect, attrs *spec.AttributeTable, ownerID any) *Pivot {
	return &Pivot{q: q, d: d, table: attrs.Table, owner: attrs.OwnerKey, ownerID: ownerID}
}

// Attached returns attribute id -> stored value for the owner.
func (p *Pivot) Attached(ctx context.Context) (map[int64]any, error) {
	rows, err := store.SelectRows(ctx, p.q, p.d,
		sq.Select("attribute_id", "value").From(p.table).Where(sq.Eq{p.owner: p.ownerID}))
	if err != nil {
		return nil, fmt.Errorf("load attached attributes: %w", err)
	}
	out := make(map[int64]any, len(rows))
	for _, row := range rows {
		id, ok := store.ToInt64(row["attribute_id"])
		if !ok {
			continue
		}
		out[id] = row["value"]
	}
	return out, nil
}

// Replace makes values the exact attached set: rows for ids outside values
// are removed, every id in values is written with its value.
func (p *Pivot) Replace(ctx context.Context, values map[int64]any) error {
	if _, err := store.ExecBuilder(ctx, p.q, p.d,
		sq.Delete(p.table).Where(sq.Eq{p.owner: p.ownerID})); err != nil {
		return fmt.Errorf("detach attributes: %w", err)
	}
	if len(values) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	insert := sq.Insert(p.table).Columns(p.owner, "attribute_id", "value")
	for _, id := range ids {
		v, err := encodeValue(values[id])
		if err != nil {
			return err
		}
		insert = insert.Values(p.ownerID, id, v)
	}
	if _, err := store.ExecBuilder(ctx, p.q, p.d, insert); err != nil {
		return fmt.Errorf("attach attributes: %w", err)
	}
	return nil
}

// Detach removes every attribute value of the owner.
func (p *Pivot) Detach(ctx context.Context) error {
	return p.Replace(ctx, nil)
}

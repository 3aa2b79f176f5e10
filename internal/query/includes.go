package query

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"crudkit/internal/eav"
	"crudkit/internal/spec"
	"crudkit/internal/store"
)

// AttributesKey is the row key holding an entity's dynamic attributes.
const AttributesKey = "attributes"

// LoadIncludes attaches the dynamic attribute map and the requested
// relations to rows. Unknown relation names are skipped.
func LoadIncludes(ctx context.Context, q store.Querier, d store.Dialect, reg *spec.Registry, entity *spec.Entity, rows []map[string]any, includes []string) error {
	if len(rows) == 0 {
		return nil
	}

	if entity.HasAttributes() {
		if err := loadAttributes(ctx, q, d, entity, rows); err != nil {
			return err
		}
	}

	for _, incName := range includes {
		rel, ok := entity.Relation(incName)
		if !ok {
			continue
		}
		target, ok := reg.Entity(rel.Target)
		if !ok {
			return fmt.Errorf("unknown target entity: %s", rel.Target)
		}

		var err error
		switch rel.Kind {
		case spec.HasMany, spec.HasOne:
			err = loadForwardRelation(ctx, q, d, target, rel, rows)
		case spec.BelongsTo:
			err = loadReverseRelation(ctx, q, d, target, rel, rows)
		case spec.ManyToMany:
			err = loadManyToMany(ctx, q, d, target, rel, rows)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

func loadAttributes(ctx context.Context, q store.Querier, d store.Dialect, entity *spec.Entity, rows []map[string]any) error {
	pk := entity.PrimaryKey.Field
	byOwner, err := eav.Load(ctx, q, d, entity.Attributes, collectValues(rows, pk))
	if err != nil {
		return err
	}
	for _, row := range rows {
		attrs := byOwner[fmt.Sprintf("%v", row[pk])]
		if attrs == nil {
			attrs = map[string]any{}
		}
		row[AttributesKey] = attrs
	}
	return nil
}

func selectTargets(ctx context.Context, q store.Querier, d store.Dialect, target *spec.Entity, column string, values []any) ([]map[string]any, error) {
	rows, err := store.SelectRows(ctx, q, d,
		sq.Select(target.Table+".*").From(target.Table).Where(sq.Eq{column: values}))
	if err != nil {
		return nil, err
	}
	if d.NeedsBoolFix() {
		store.NormalizeBooleans(rows, target.BooleanFields())
	}
	return rows, nil
}

// loadForwardRelation loads children for has_many and has_one.
func loadForwardRelation(ctx context.Context, q store.Querier, d store.Dialect, target *spec.Entity, rel *spec.Relation, rows []map[string]any) error {
	parentIDs := collectValues(rows, rel.SourceKey)
	if len(parentIDs) == 0 {
		attachEmpty(rows, rel)
		return nil
	}

	childRows, err := selectTargets(ctx, q, d, target, rel.TargetKey, parentIDs)
	if err != nil {
		return fmt.Errorf("load include %s: %w", rel.Name, err)
	}

	grouped := make(map[string][]map[string]any)
	for _, child := range childRows {
		fk := fmt.Sprintf("%v", child[rel.TargetKey])
		grouped[fk] = append(grouped[fk], child)
	}

	for _, row := range rows {
		children := grouped[fmt.Sprintf("%v", row[rel.SourceKey])]
		if rel.IsOne() {
			if len(children) > 0 {
				row[rel.Name] = children[0]
			} else {
				row[rel.Name] = nil
			}
			continue
		}
		if children == nil {
			children = []map[string]any{}
		}
		row[rel.Name] = children
	}

	return nil
}

func loadManyToMany(ctx context.Context, q store.Querier, d store.Dialect, target *spec.Entity, rel *spec.Relation, rows []map[string]any) error {
	parentIDs := collectValues(rows, rel.SourceKey)
	if len(parentIDs) == 0 {
		attachEmpty(rows, rel)
		return nil
	}

	joinRows, err := store.SelectRows(ctx, q, d,
		sq.Select(rel.SourceJoinKey, rel.TargetJoinKey).
			From(rel.JoinTable).
			Where(sq.Eq{rel.SourceJoinKey: parentIDs}))
	if err != nil {
		return fmt.Errorf("load join table %s: %w", rel.JoinTable, err)
	}
	if len(joinRows) == 0 {
		attachEmpty(rows, rel)
		return nil
	}

	targetIDs := collectValues(joinRows, rel.TargetJoinKey)
	targetPK := target.PrimaryKey.Field
	targetRows, err := selectTargets(ctx, q, d, target, targetPK, targetIDs)
	if err != nil {
		return fmt.Errorf("load targets for %s: %w", rel.Name, err)
	}

	targetByPK := make(map[string]map[string]any, len(targetRows))
	for _, tr := range targetRows {
		targetByPK[fmt.Sprintf("%v", tr[targetPK])] = tr
	}

	sourceToTargets := make(map[string][]map[string]any)
	for _, jr := range joinRows {
		sid := fmt.Sprintf("%v", jr[rel.SourceJoinKey])
		if target, ok := targetByPK[fmt.Sprintf("%v", jr[rel.TargetJoinKey])]; ok {
			sourceToTargets[sid] = append(sourceToTargets[sid], target)
		}
	}

	for _, row := range rows {
		if targets, ok := sourceToTargets[fmt.Sprintf("%v", row[rel.SourceKey])]; ok {
			row[rel.Name] = targets
		} else {
			row[rel.Name] = []map[string]any{}
		}
	}

	return nil
}

// loadReverseRelation loads the row referenced by a foreign key on the current entity.
func loadReverseRelation(ctx context.Context, q store.Querier, d store.Dialect, target *spec.Entity, rel *spec.Relation, rows []map[string]any) error {
	fkValues := collectValues(rows, rel.SourceKey)
	if len(fkValues) == 0 {
		attachEmpty(rows, rel)
		return nil
	}

	parentRows, err := selectTargets(ctx, q, d, target, rel.TargetKey, fkValues)
	if err != nil {
		return fmt.Errorf("load reverse include %s: %w", rel.Name, err)
	}

	parentByKey := make(map[string]map[string]any, len(parentRows))
	for _, pr := range parentRows {
		parentByKey[fmt.Sprintf("%v", pr[rel.TargetKey])] = pr
	}

	for _, row := range rows {
		if parent, ok := parentByKey[fmt.Sprintf("%v", row[rel.SourceKey])]; ok {
			row[rel.Name] = parent
		} else {
			row[rel.Name] = nil
		}
	}

	return nil
}

func attachEmpty(rows []map[string]any, rel *spec.Relation) {
	for _, row := range rows {
		if rel.IsOne() {
			row[rel.Name] = nil
		} else {
			row[rel.Name] = []map[string]any{}
		}
	}
}

func collectValues(rows []map[string]any, field string) []any {
	seen := make(map[string]bool)
	var values []any
	for _, row := range rows {
		v := row[field]
		if v == nil {
			continue
		}
		s := fmt.Sprintf("%v", v)
		if !seen[s] {
			seen[s] = true
			values = append(values, v)
		}
	}
	return values
}

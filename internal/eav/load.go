package eav

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"crudkit/internal/spec"
	"crudkit/internal/store"
)

// Load returns the attribute name -> value map of every owner in ownerIDs,
// keyed by the owner id formatted with %v. Owners without attributes get no entry.
func Load(ctx context.Context, q store.Querier, d store.Dialect, attrs *spec.AttributeTable, ownerIDs []any) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any)
	if len(ownerIDs) == 0 {
		return out, nil
	}

	ownerCol := "p." + attrs.OwnerKey
	rows, err := store.SelectRows(ctx, q, d,
		sq.Select(ownerCol+" AS owner_id", "a.name AS name", "p.value AS value").
			From(attrs.Table+" p").
			Join(DefinitionsTable+" a ON a.id = p.attribute_id").
			Where(sq.Eq{ownerCol: ownerIDs}).
			OrderBy("a.name"))
	if err != nil {
		return nil, fmt.Errorf("load attributes from %s: %w", attrs.Table, err)
	}

	for _, row := range rows {
		owner := fmt.Sprintf("%v", row["owner_id"])
		name, _ := row["name"].(string)
		if out[owner] == nil {
			out[owner] = make(map[string]any)
		}
		out[owner][name] = row["value"]
	}
	return out, nil
}

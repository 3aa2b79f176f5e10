package eav

import (
	"context"
	"fmt"
	"sort"

	"crudkit/internal/instrument"
	"crudkit/internal/spec"
	"crudkit/internal/store"
)

// Sync reconciles payload onto the owner's attribute values. Currently
// attached values are kept unless payload names them; payload never removes
// an attribute by omission. Sync must run inside the transaction of the
// owning row's write so a failure leaves no partial state.
func Sync(ctx context.Context, q store.Querier, d store.Dialect, entity *spec.Entity, ownerID any, payload any) error {
	if !entity.HasAttributes() {
		return nil
	}
	incoming, err := Decode(payload)
	if err != nil {
		return err
	}
	if len(incoming) == 0 {
		return nil
	}

	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "eav", "sync")
	defer span.End()
	span.SetEntity(entity.Name)

	pivot := NewPivot(q, d, entity.Attributes, ownerID)
	seed, err := pivot.Attached(ctx)
	if err != nil {
		span.SetStatus("error")
		return err
	}

	names := make([]string, 0, len(incoming))
	for name := range incoming {
		names = append(names, name)
	}
	sort.Strings(names)

	resolved := make(map[int64]any, len(incoming))
	for _, name := range names {
		id, err := FindOrCreate(ctx, q, d, name)
		if err != nil {
			span.SetStatus("error")
			return err
		}
		resolved[id] = incoming[name]
	}

	if err := pivot.Replace(ctx, Merge(seed, resolved)); err != nil {
		span.SetStatus("error")
		return fmt.Errorf("sync %s attributes: %w", entity.Name, err)
	}
	span.SetMetadata("attributes", len(resolved))
	return nil
}

// Merge overlays resolved onto seed. Neither input is modified.
func Merge(seed, resolved map[int64]any) map[int64]any {
	out := make(map[int64]any, len(seed)+len(resolved))
	for id, v := range seed {
		out[id] = v
	}
	for id, v := range resolved {
		out[id] = v
	}
	return out
}

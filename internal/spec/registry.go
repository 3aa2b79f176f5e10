package spec

import (
	"fmt"
	"sort"
)

// Registry holds every entity and context declaration. It is built once and
// never mutated, so concurrent readers need no locking.
type Registry struct {
	entities map[string]*Entity
	contexts map[string]*Context
}

// NewRegistry validates the declarations and indexes them by name.
func NewRegistry(entities []*Entity, contexts []*Context) (*Registry, error) {
	r := &Registry{
		entities: make(map[string]*Entity, len(entities)),
		contexts: make(map[string]*Context, len(contexts)),
	}
	for _, e := range entities {
		if e == nil {
			continue
		}
		if _, dup := r.entities[e.Name]; dup {
			return nil, fmt.Errorf("entity %q declared twice", e.Name)
		}
		e.fillNames()
		r.entities[e.Name] = e
	}
	for _, c := range contexts {
		if c == nil {
			continue
		}
		if _, dup := r.contexts[c.Name]; dup {
			return nil, fmt.Errorf("context %q declared twice", c.Name)
		}
		r.contexts[c.Name] = c
	}

	r.resolveRelationKeys()

	if err := Validate(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Entity returns the entity with the given name.
func (r *Registry) Entity(name string) (*Entity, bool) {
	e, ok := r.entities[name]
	return e, ok
}

// EntityByTable returns the entity stored in table.
func (r *Registry) EntityByTable(table string) (*Entity, bool) {
	for _, e := range r.entities {
		if e.Table == table {
			return e, true
		}
	}
	return nil, false
}

// Entities returns all entities sorted by name.
func (r *Registry) Entities() []*Entity {
	out := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Context returns the context with the given name.
func (r *Registry) Context(name string) (*Context, bool) {
	c, ok := r.contexts[name]
	return c, ok
}

// Contexts returns all contexts sorted by name.
func (r *Registry) Contexts() []*Context {
	out := make([]*Context, 0, len(r.contexts))
	for _, c := range r.contexts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// resolveRelationKeys defaults keys that depend on the target entity.
func (r *Registry) resolveRelationKeys() {
	for _, e := range r.entities {
		for _, rel := range e.Relations {
			if rel == nil {
				continue
			}
			target, ok := r.entities[rel.Target]
			if !ok {
				continue
			}
			if rel.TargetKey == "" && rel.Kind == BelongsTo {
				rel.TargetKey = target.PrimaryKey.Field
			}
		}
	}
}

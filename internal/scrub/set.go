package scrub

import (
	"fmt"

	"crudkit/internal/spec"
)

// Set holds every compiled context of a registry.
type Set struct {
	contexts map[string]*Context
}

// Build compiles every context in reg and wires each delegate to its
// compiled target. Contexts may reference each other in cycles.
func Build(reg *spec.Registry) (*Set, error) {
	defs := reg.Contexts()
	set := &Set{contexts: make(map[string]*Context, len(defs))}
	delegates := make(map[string]map[string]*Context, len(defs))

	for _, def := range defs {
		d := make(map[string]*Context, len(def.Delegates))
		c, err := NewContext(def, d)
		if err != nil {
			return nil, err
		}
		set.contexts[def.Name] = c
		delegates[def.Name] = d
	}

	for _, def := range defs {
		for field, target := range def.Delegates {
			tc, ok := set.contexts[target]
			if !ok {
				return nil, fmt.Errorf("context %s: delegate %s refers to unknown context %q", def.Name, field, target)
			}
			delegates[def.Name][field] = tc
		}
	}
	return set, nil
}

// Get returns the compiled context called name.
func (s *Set) Get(name string) (*Context, bool) {
	c, ok := s.contexts[name]
	return c, ok
}

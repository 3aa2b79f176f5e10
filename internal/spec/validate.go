package spec

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidationError collects every problem found in a set of declarations.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid entity definitions: " + strings.Join(e.Problems, "; ")
}

// ErrJoinCycle is wrapped by the problem reported for a cyclic prerequisite chain.
var ErrJoinCycle = errors.New("join prerequisites form a cycle")

// Validate checks cross references inside the registry.
func Validate(r *Registry) error {
	v := &validator{reg: r}
	for _, e := range r.Entities() {
		v.entity(e)
	}
	for _, c := range r.Contexts() {
		v.context(c)
	}
	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: v.problems}
}

type validator struct {
	reg      *Registry
	problems []string
}

func (v *validator) addf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) entity(e *Entity) {
	if e.Name == "" {
		v.addf("entity without name (table %q)", e.Table)
		return
	}
	if e.Table == "" {
		v.addf("entity %s: table is required", e.Name)
	}

	for _, name := range sortedKeys(e.Joins) {
		j := e.Joins[name]
		if j == nil || j.Table == "" || j.First == "" || j.Second == "" {
			v.addf("entity %s: join %s needs table, first and second", e.Name, name)
			continue
		}
		if !j.Type.Valid() {
			v.addf("entity %s: join %s has unknown type %q", e.Name, name, j.Type)
		}
		for _, p := range j.Prereq {
			if _, ok := e.Joins[p]; !ok {
				v.addf("entity %s: join %s requires unknown join %s", e.Name, name, p)
			}
		}
	}
	if path := findJoinCycle(e); path != nil {
		v.addf("entity %s: %v: %s", e.Name, ErrJoinCycle, strings.Join(path, " -> "))
	}

	for _, name := range sortedKeys(e.Filters) {
		f := e.Filters[name]
		if f == nil || !f.Kind.Valid() {
			v.addf("entity %s: filter %s has no valid type", e.Name, name)
			continue
		}
		if f.Where == "" && f.Having == "" {
			v.addf("entity %s: filter %s needs where or having", e.Name, name)
		}
		if f.Kind == FilterValue && len(f.Values) == 0 {
			v.addf("entity %s: value filter %s needs values", e.Name, name)
		}
		v.joinRefs(e, "filter "+name, f.Joins)
		v.selectRefs(e, "filter "+name, f.Selects)
	}

	for _, name := range sortedKeys(e.Selects) {
		s := e.Selects[name]
		if s == nil || !s.Kind.Valid() {
			v.addf("entity %s: select %s has no valid type", e.Name, name)
			continue
		}
		if s.Expr == "" {
			v.addf("entity %s: select %s needs a select expression", e.Name, name)
		}
		v.joinRefs(e, "select "+name, s.Joins)
	}

	for _, name := range sortedKeys(e.Sorters) {
		s := e.Sorters[name]
		if s == nil {
			continue
		}
		v.joinRefs(e, "sorter "+name, s.Joins)
		v.selectRefs(e, "sorter "+name, s.Selects)
	}

	for _, name := range sortedKeys(e.Relations) {
		rel := e.Relations[name]
		if rel == nil || !rel.Kind.Valid() {
			v.addf("entity %s: relation %s has no valid type", e.Name, name)
			continue
		}
		if _, ok := v.reg.Entity(rel.Target); !ok {
			v.addf("entity %s: relation %s targets unknown entity %q", e.Name, name, rel.Target)
		}
		switch rel.Kind {
		case HasMany, HasOne:
			if rel.TargetKey == "" {
				v.addf("entity %s: relation %s needs target_key", e.Name, name)
			}
		case BelongsTo:
			if rel.SourceKey == "" {
				v.addf("entity %s: relation %s needs source_key", e.Name, name)
			}
		case ManyToMany:
			if rel.JoinTable == "" || rel.SourceJoinKey == "" || rel.TargetJoinKey == "" {
				v.addf("entity %s: relation %s needs join_table, source_join_key and target_join_key", e.Name, name)
			}
		}
	}

	for _, choice := range sortedKeys(e.Contexts) {
		if _, ok := v.reg.Context(e.Contexts[choice]); !ok {
			v.addf("entity %s: context %s refers to unknown context %q", e.Name, choice, e.Contexts[choice])
		}
	}
}

func (v *validator) joinRefs(e *Entity, owner string, joins []string) {
	for _, j := range joins {
		if _, ok := e.Joins[j]; !ok {
			v.addf("entity %s: %s requires unknown join %s", e.Name, owner, j)
		}
	}
}

func (v *validator) selectRefs(e *Entity, owner string, selects []string) {
	for _, s := range selects {
		if _, ok := e.Selects[s]; !ok {
			v.addf("entity %s: %s requires unknown select %s", e.Name, owner, s)
		}
	}
}

func (v *validator) context(c *Context) {
	for _, field := range sortedKeys(c.Delegates) {
		if _, ok := v.reg.Context(c.Delegates[field]); !ok {
			v.addf("context %s: delegate %s refers to unknown context %q", c.Name, field, c.Delegates[field])
		}
	}
}

// findJoinCycle returns the first prerequisite cycle as a closed path
// (a -> b -> a), or nil when the prerequisites form a DAG.
func findJoinCycle(e *Entity) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(e.Joins))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		switch state[name] {
		case done:
			return nil
		case visiting:
			for i, n := range stack {
				if n == name {
					return append(append([]string{}, stack[i:]...), name)
				}
			}
			return []string{name, name}
		}
		j, ok := e.Joins[name]
		if !ok || j == nil {
			return nil
		}
		state[name] = visiting
		stack = append(stack, name)
		for _, p := range j.Prereq {
			if path := visit(p); path != nil {
				return path
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}

	for _, name := range sortedKeys(e.Joins) {
		if path := visit(name); path != nil {
			return path
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

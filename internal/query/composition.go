package query

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"crudkit/internal/spec"
)

// composition is the applied state of a single Plan call. It remembers which
// joins, groups and selects were already emitted so each is applied once.
type composition struct {
	entity  *spec.Entity
	q       sq.SelectBuilder
	columns []sq.Sqlizer
	joins   map[string]struct{}
	groups  map[string]struct{}
	selects map[string]struct{}
	having  bool
}

func newComposition(entity *spec.Entity) *composition {
	return &composition{
		entity:  entity,
		q:       sq.Select().From(entity.Table),
		columns: []sq.Sqlizer{sq.Expr(entity.Table + ".*")},
		joins:   make(map[string]struct{}),
		groups:  make(map[string]struct{}),
		selects: make(map[string]struct{}),
	}
}

// grouped reports whether counting must go through a derived table.
func (c *composition) grouped() bool {
	return c.having || len(c.groups) > 0
}

// projected returns the filtered query with every column applied so far.
func (c *composition) projected() sq.SelectBuilder {
	q := c.q
	for _, col := range c.columns {
		q = q.Column(col)
	}
	return q
}

func (c *composition) applyFilters(active map[string]any) {
	for _, name := range sortedNames(active) {
		f, ok := c.entity.Filter(name)
		if !ok {
			continue
		}
		c.applyFilter(f, active[name])
	}
}

func (c *composition) applyFilter(f *spec.Filter, value any) {
	where, having, params, ok := filterClause(f, value)
	if !ok {
		return
	}

	c.applyGroups(f.Groups)
	c.applyJoins(f.Joins)
	for _, name := range f.Selects {
		c.applySelect(name, value)
	}

	if where != "" {
		c.q = c.q.Where(sq.Expr("("+where+")", params...))
	}
	if having != "" {
		c.having = true
		c.q = c.q.Having(sq.Expr("("+having+")", params...))
	}
}

// filterClause builds the predicate text and bound parameters for one
// active filter. ok is false when the value cannot drive the filter.
func filterClause(f *spec.Filter, value any) (where, having string, params []any, ok bool) {
	where, having = f.Where, f.Having

	switch f.Kind {
	case spec.FilterArray:
		params = toSequence(value)
		if len(params) == 0 {
			return "", "", nil, false
		}
		where = expandArray(where, len(params))
		having = expandArray(having, len(params))
	case spec.FilterValue:
		scalar, isScalar := scalarText(value)
		if !isScalar {
			return "", "", nil, false
		}
		params = make([]any, 0, len(f.Values))
		for _, tmpl := range f.Values {
			params = append(params, strings.ReplaceAll(tmpl, ":value", scalar))
		}
	case spec.FilterObject:
		obj, isObj := value.(map[string]any)
		if !isObj {
			return "", "", nil, false
		}
		inner, present := obj["value"]
		if !present {
			return "", "", nil, false
		}
		params = toSequence(inner)
	case spec.FilterConstant:
		params = nil
	default:
		return "", "", nil, false
	}
	return where, having, params, true
}

const arrayPlaceholder = ":array"

func expandArray(tmpl string, n int) string {
	if tmpl == "" || n == 0 {
		return tmpl
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", n), ",")
	return strings.Replace(tmpl, arrayPlaceholder, marks, 1)
}

func (c *composition) applyJoins(names []string) {
	for _, name := range names {
		if _, done := c.joins[name]; done {
			continue
		}
		j, ok := c.entity.Join(name)
		if !ok {
			continue
		}
		c.applyJoins(j.Prereq)

		clause := fmt.Sprintf("%s ON %s %s %s", j.Table, j.First, j.Operator, j.Second)
		switch j.Type {
		case spec.JoinLeft:
			c.q = c.q.LeftJoin(clause)
		case spec.JoinRight:
			c.q = c.q.RightJoin(clause)
		default:
			c.q = c.q.Join(clause)
		}
		c.joins[name] = struct{}{}
	}
}

func (c *composition) applyGroups(names []string) {
	for _, name := range names {
		col := c.entity.Group(name)
		if _, done := c.groups[col]; done {
			continue
		}
		c.q = c.q.GroupBy(col)
		c.groups[col] = struct{}{}
	}
}

func (c *composition) applySelects(active map[string]any) {
	for _, name := range sortedNames(active) {
		c.applySelect(name, active[name])
	}
}

func (c *composition) applySelect(name string, value any) {
	if _, done := c.selects[name]; done {
		return
	}
	s, ok := c.entity.Select(name)
	if !ok {
		return
	}

	c.applyGroups(s.Groups)
	c.applyJoins(s.Joins)

	var params []any
	switch s.Kind {
	case spec.SelectObject:
		obj, _ := value.(map[string]any)
		params = make([]any, 0, len(s.Values))
		for _, key := range s.Values {
			params = append(params, obj[key])
		}
	case spec.SelectConstant:
	}

	c.columns = append(c.columns, sq.Expr(s.Expr, params...))
	c.selects[name] = struct{}{}
}

// applyRequirements resolves the joins and groups the active selects and
// sorters depend on, without their projections or ordering terms. The count
// query is taken after this so it sees the same row set as the page.
func (c *composition) applyRequirements(selects map[string]any, sorters []SortTerm) {
	for _, name := range sortedNames(selects) {
		c.selectRequirements(name)
	}
	for _, term := range sorters {
		s, ok := c.entity.Sorter(term.Name)
		if !ok {
			continue
		}
		c.applyJoins(s.Joins)
		for _, name := range s.Selects {
			c.selectRequirements(name)
		}
	}
}

func (c *composition) selectRequirements(name string) {
	s, ok := c.entity.Select(name)
	if !ok {
		return
	}
	c.applyGroups(s.Groups)
	c.applyJoins(s.Joins)
}

func (c *composition) applySorters(terms []SortTerm) {
	for _, term := range terms {
		s, ok := c.entity.Sorter(term.Name)
		if !ok {
			continue
		}
		c.applyJoins(s.Joins)
		for _, name := range s.Selects {
			c.applySelect(name, term.Value)
		}
		c.q = c.q.OrderBy(s.Key() + " " + direction(term.Value))
	}
}

// direction reads an explicit direction from a structured value, or the raw
// value itself. Anything other than desc sorts ascending.
func direction(v any) string {
	raw := v
	if obj, ok := v.(map[string]any); ok {
		raw = obj["direction"]
	}
	if s, ok := raw.(string); ok && strings.EqualFold(strings.TrimSpace(s), "desc") {
		return "DESC"
	}
	return "ASC"
}

// toSequence treats slices and arrays as sequences and wraps anything else
// as a one-element sequence. nil is the empty sequence.
func toSequence(v any) []any {
	if v == nil {
		return nil
	}
	switch s := v.(type) {
	case []any:
		return s
	case []byte, string:
		return []any{v}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func scalarText(v any) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", false
	case string:
		return s, true
	case bool, float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(s), true
	}
	return "", false
}

func sortedNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

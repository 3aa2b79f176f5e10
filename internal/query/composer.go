// Package query turns named filter, select and sorter activations into SQL
// and executes them with pagination.
package query

import (
	"context"
	"fmt"
	"math"

	sq "github.com/Masterminds/squirrel"

	"crudkit/internal/instrument"
	"crudkit/internal/spec"
	"crudkit/internal/store"
)

// SortTerm activates one sorter. Value is a direction string ("asc",
// "desc") or a structured value carrying a "direction" member.
type SortTerm struct {
	Name  string
	Value any
}

// Composer accumulates the activations of one index request. It holds no
// applied state: every Plan call composes from scratch.
type Composer struct {
	registry *spec.Registry
	entity   *spec.Entity
	filters  map[string]any
	selects  map[string]any
	sorters  []SortTerm
	with     []string
	limit    int
	perPage  int
	page     int
}

func New(registry *spec.Registry, entity *spec.Entity) *Composer {
	return &Composer{
		registry: registry,
		entity:   entity,
		filters:  make(map[string]any),
		selects:  make(map[string]any),
	}
}

func (c *Composer) Entity() *spec.Entity { return c.entity }

// FilterBy merges filter activations; a repeated name overwrites.
func (c *Composer) FilterBy(active map[string]any) *Composer {
	for name, v := range active {
		c.filters[name] = v
	}
	return c
}

// Select merges select activations; a repeated name overwrites.
func (c *Composer) Select(active map[string]any) *Composer {
	for name, v := range active {
		c.selects[name] = v
	}
	return c
}

// SortBy appends ordering terms in the given order. Re-activating a sorter
// replaces its value and keeps its original position.
func (c *Composer) SortBy(terms ...SortTerm) *Composer {
	for _, term := range terms {
		replaced := false
		for i := range c.sorters {
			if c.sorters[i].Name == term.Name {
				c.sorters[i].Value = term.Value
				replaced = true
				break
			}
		}
		if !replaced {
			c.sorters = append(c.sorters, term)
		}
	}
	return c
}

// With adds relations to eager load. "attributes" is always loaded for
// entities with dynamic attributes and needs no mention here.
func (c *Composer) With(relations ...string) *Composer {
	for _, r := range relations {
		if !contains(c.with, r) {
			c.with = append(c.with, r)
		}
	}
	return c
}

// Limit caps a non-paginated fetch. Zero means no limit.
func (c *Composer) Limit(n int) *Composer {
	if n >= 0 {
		c.limit = n
	}
	return c
}

// Paginate switches to paginated fetching. page is 1-based.
func (c *Composer) Paginate(perPage, page int) *Composer {
	if perPage < 1 {
		perPage = 1
	}
	if page < 1 {
		page = 1
	}
	// Keep (page-1)*perPage from overflowing.
	if maxPage := math.MaxInt / perPage; page > maxPage {
		page = maxPage
	}
	c.perPage = perPage
	c.page = page
	return c
}

// Plan is an executable composition.
type Plan struct {
	Entity  *spec.Entity
	Query   sq.SelectBuilder
	Count   sq.Sqlizer // nil unless paginated
	Grouped bool       // count goes through a derived table
	PerPage int
	Page    int
	With    []string
}

func (p *Plan) Paginated() bool { return p.Count != nil }

// Plan composes the accumulated activations. Filters are applied first, then
// the joins and groups required by selects and sorters, and the count query
// is captured from that state, so limit, projection and ordering never
// influence the total while joins and grouping always do.
func (c *Composer) Plan() *Plan {
	comp := newComposition(c.entity)
	comp.applyFilters(c.filters)
	comp.applyRequirements(c.selects, c.sorters)

	plan := &Plan{Entity: c.entity, With: append([]string(nil), c.with...)}

	if c.perPage > 0 {
		plan.Grouped = comp.grouped()
		plan.Count = countQuery(comp)
		plan.PerPage = c.perPage
		plan.Page = c.page
	}

	comp.applySelects(c.selects)
	comp.applySorters(c.sorters)

	q := comp.projected()
	switch {
	case c.perPage > 0:
		q = q.Limit(uint64(c.perPage)).Offset(uint64((c.page - 1) * c.perPage))
	case c.limit > 0:
		q = q.Limit(uint64(c.limit))
	}
	plan.Query = q
	return plan
}

func countQuery(comp *composition) sq.Sqlizer {
	if comp.grouped() {
		return sq.Select("count(*) AS aggregate_count").FromSelect(comp.projected(), "t")
	}
	return comp.q.Column("count(*) AS aggregate_count")
}

// Get plans and executes the composition.
func (c *Composer) Get(ctx context.Context, q store.Querier, d store.Dialect) (*Result, error) {
	return c.Plan().Execute(ctx, q, d, c.registry)
}

// Execute runs the plan: the count first when paginated, then the page, then
// relation and attribute loading.
func (p *Plan) Execute(ctx context.Context, q store.Querier, d store.Dialect, reg *spec.Registry) (*Result, error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "query", "get")
	defer span.End()
	span.SetEntity(p.Entity.Name)

	result := &Result{PerPage: p.PerPage, Page: p.Page, Paginated: p.Paginated()}

	if p.Paginated() {
		total, err := p.total(ctx, q, d)
		if err != nil {
			span.SetStatus("error")
			return nil, err
		}
		result.Total = total
		if p.Grouped {
			span.SetMetadata("count_strategy", "derived")
		} else {
			span.SetMetadata("count_strategy", "direct")
		}
	}

	rows, err := store.SelectRows(ctx, q, d, p.Query)
	if err != nil {
		span.SetStatus("error")
		return nil, fmt.Errorf("fetch %s: %w", p.Entity.Name, err)
	}
	if d.NeedsBoolFix() {
		store.NormalizeBooleans(rows, p.Entity.BooleanFields())
	}

	if err := LoadIncludes(ctx, q, d, reg, p.Entity, rows, p.With); err != nil {
		span.SetStatus("error")
		return nil, err
	}

	result.Rows = rows
	if !p.Paginated() {
		result.Total = int64(len(rows))
	}
	return result, nil
}

func (p *Plan) total(ctx context.Context, q store.Querier, d store.Dialect) (int64, error) {
	row, err := store.SelectRow(ctx, q, d, p.Count)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", p.Entity.Name, err)
	}
	n, ok := store.ToInt64(row["aggregate_count"])
	if !ok {
		return 0, fmt.Errorf("count %s: unexpected value %v", p.Entity.Name, row["aggregate_count"])
	}
	return n, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Package service reads and writes entity rows. Every write runs in one
// transaction together with the row's attribute sync and join table
// updates, so a failure anywhere leaves nothing behind.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"crudkit/internal/eav"
	"crudkit/internal/instrument"
	"crudkit/internal/query"
	"crudkit/internal/spec"
	"crudkit/internal/store"
)

var hashCost = bcrypt.DefaultCost

var operators = map[string]string{
	"=": "=", "!=": "<>", "<>": "<>",
	"<": "<", "<=": "<=", ">": ">", ">=": ">=",
	"like": "LIKE",
}

// Service serves one entity.
type Service struct {
	store    *store.Store
	registry *spec.Registry
	entity   *spec.Entity
}

func New(s *store.Store, reg *spec.Registry, entity *spec.Entity) *Service {
	return &Service{store: s, registry: reg, entity: entity}
}

func (s *Service) Entity() *spec.Entity { return s.entity }

func (s *Service) Store() *store.Store { return s.store }

// Query starts an index composition for the entity.
func (s *Service) Query() *query.Composer {
	return query.New(s.registry, s.entity)
}

// Index executes c against the store.
func (s *Service) Index(ctx context.Context, c *query.Composer) (*query.Result, error) {
	return c.Get(ctx, s.store.DB, s.store.Dialect)
}

// Find returns the row with the given id, its attributes and the relations
// named in with. A missing row yields store.ErrNotFound.
func (s *Service) Find(ctx context.Context, id any, with []string) (map[string]any, error) {
	key, err := s.key(id)
	if err != nil {
		return nil, err
	}
	return s.first(ctx, s.store.DB, sq.Eq{s.column(s.entity.PrimaryKey.Field): key}, with)
}

// FindFirstBy returns the first row, by primary key, whose field compares to
// value with op. An empty op means equality.
func (s *Service) FindFirstBy(ctx context.Context, field string, value any, op string) (map[string]any, error) {
	if op == "" {
		op = "="
	}
	sqlOp, ok := operators[strings.ToLower(op)]
	if !ok {
		return nil, s.invalid(Problem{Field: field, Rule: "operator", Message: fmt.Sprintf("unsupported operator %q", op)})
	}
	if s.entity.GetField(field) == nil {
		return nil, s.invalid(Problem{Field: field, Rule: "unknown", Message: fmt.Sprintf("unknown field %s", field)})
	}
	where := sq.Expr(fmt.Sprintf("%s %s ?", s.column(field), sqlOp), value)
	return s.first(ctx, s.store.DB, where, s.entity.WithFor("show"))
}

// FirstOrCreate returns the first row matching every declared field in
// attrs, creating it from attrs when none exists. Hashed fields are not
// matched on.
func (s *Service) FirstOrCreate(ctx context.Context, attrs map[string]any) (map[string]any, error) {
	match := sq.Eq{}
	for name, v := range attrs {
		if f := s.entity.GetField(name); f != nil && !f.Hashed {
			match[s.column(name)] = v
		}
	}
	if len(match) > 0 {
		row, err := s.first(ctx, s.store.DB, match, s.entity.WithFor("show"))
		if err == nil {
			return row, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return s.Create(ctx, attrs)
}

// Create inserts input and returns the stored row.
func (s *Service) Create(ctx context.Context, input map[string]any) (map[string]any, error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "service", "create")
	defer span.End()
	span.SetEntity(s.entity.Name)

	var id any
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.CreateIn(ctx, tx, input)
		return err
	})
	if err != nil {
		span.SetStatus("error")
		return nil, err
	}

	zerolog.Ctx(ctx).Debug().Str("entity", s.entity.Name).Interface("id", id).Msg("row created")
	return s.Find(ctx, id, s.entity.WithFor("show"))
}

// CreateIn inserts input using q, which is normally a transaction owned by
// the caller, and returns the new primary key.
func (s *Service) CreateIn(ctx context.Context, q store.Querier, input map[string]any) (any, error) {
	if err := s.validate(input, true); err != nil {
		return nil, err
	}
	values, err := s.columnValues(input, s.entity.WritableFields())
	if err != nil {
		return nil, err
	}

	pk := s.entity.PrimaryKey
	if pk.Generated && pk.Type == "uuid" && values[pk.Field] == nil {
		values[pk.Field] = uuid.NewString()
	}

	id, err := store.Insert(ctx, q, s.store.Dialect, s.entity.Table, pk.Field, values)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", s.entity.Table, err)
	}

	if err := s.writeRelated(ctx, q, id, input); err != nil {
		return nil, err
	}
	return id, nil
}

// Update applies the fields present in input to the row with the given id.
// Attributes named in input are merged onto the stored ones.
func (s *Service) Update(ctx context.Context, id any, input map[string]any) (map[string]any, error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "service", "update")
	defer span.End()
	span.SetEntity(s.entity.Name)

	key, err := s.key(id)
	if err != nil {
		span.SetStatus("error")
		return nil, err
	}
	if err := s.validate(input, false); err != nil {
		span.SetStatus("error")
		return nil, err
	}

	pk := s.entity.PrimaryKey.Field
	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		exists := sq.Select(pk).From(s.entity.Table).Where(sq.Eq{pk: key})
		if _, err := store.SelectRow(ctx, tx, s.store.Dialect, exists); err != nil {
			return err
		}

		values, err := s.columnValues(input, s.entity.UpdatableFields())
		if err != nil {
			return err
		}
		if len(values) > 0 {
			update := sq.Update(s.entity.Table).SetMap(values).Where(sq.Eq{pk: key})
			if _, err := store.ExecBuilder(ctx, tx, s.store.Dialect, update); err != nil {
				return fmt.Errorf("update %s: %w", s.entity.Table, err)
			}
		}
		return s.writeRelated(ctx, tx, key, input)
	})
	if err != nil {
		span.SetStatus("error")
		return nil, err
	}

	return s.Find(ctx, key, s.entity.WithFor("show"))
}

// Destroy deletes the row with the given id together with its attribute
// values and join table rows.
func (s *Service) Destroy(ctx context.Context, id any) error {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "service", "destroy")
	defer span.End()
	span.SetEntity(s.entity.Name)

	key, err := s.key(id)
	if err != nil {
		span.SetStatus("error")
		return err
	}

	err = s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if s.entity.HasAttributes() {
			if err := eav.NewPivot(tx, s.store.Dialect, s.entity.Attributes, key).Detach(ctx); err != nil {
				return err
			}
		}
		for _, link := range s.joinLinks() {
			del := sq.Delete(link.table).Where(sq.Eq{link.column: key})
			if _, err := store.ExecBuilder(ctx, tx, s.store.Dialect, del); err != nil {
				return fmt.Errorf("delete %s rows: %w", link.table, err)
			}
		}

		del := sq.Delete(s.entity.Table).Where(sq.Eq{s.entity.PrimaryKey.Field: key})
		n, err := store.ExecBuilder(ctx, tx, s.store.Dialect, del)
		if err != nil {
			return fmt.Errorf("delete %s: %w", s.entity.Table, err)
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		span.SetStatus("error")
		return err
	}

	zerolog.Ctx(ctx).Debug().Str("entity", s.entity.Name).Interface("id", key).Msg("row destroyed")
	return nil
}

func (s *Service) first(ctx context.Context, q store.Querier, where sq.Sqlizer, with []string) (map[string]any, error) {
	b := sq.Select(s.entity.Table + ".*").
		From(s.entity.Table).
		Where(where).
		OrderBy(s.column(s.entity.PrimaryKey.Field)).
		Limit(1)
	row, err := store.SelectRow(ctx, q, s.store.Dialect, b)
	if err != nil {
		return nil, err
	}

	rows := []map[string]any{row}
	if s.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, s.entity.BooleanFields())
	}
	if err := query.LoadIncludes(ctx, q, s.store.Dialect, s.registry, s.entity, rows, with); err != nil {
		return nil, fmt.Errorf("load %s includes: %w", s.entity.Name, err)
	}
	return row, nil
}

// writeRelated replaces the many-to-many links and syncs the attributes
// named in input.
func (s *Service) writeRelated(ctx context.Context, q store.Querier, id any, input map[string]any) error {
	names := make([]string, 0, len(s.entity.Relations))
	for name, rel := range s.entity.Relations {
		if _, ok := input[name]; ok && rel.IsManyToMany() {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.replaceLinks(ctx, q, s.entity.Relations[name], id, input[name]); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	if payload, ok := input[query.AttributesKey]; ok {
		if err := eav.Sync(ctx, q, s.store.Dialect, s.entity, id, payload); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) replaceLinks(ctx context.Context, q store.Querier, rel *spec.Relation, sourceID, value any) error {
	target, ok := s.registry.Entity(rel.Target)
	if !ok {
		return fmt.Errorf("unknown target entity: %s", rel.Target)
	}

	del := sq.Delete(rel.JoinTable).Where(sq.Eq{rel.SourceJoinKey: sourceID})
	if _, err := store.ExecBuilder(ctx, q, s.store.Dialect, del); err != nil {
		return fmt.Errorf("delete join rows: %w", err)
	}

	targets := linkTargets(value, target.PrimaryKey.Field)
	if len(targets) == 0 {
		return nil
	}
	ins := sq.Insert(rel.JoinTable).Columns(rel.SourceJoinKey, rel.TargetJoinKey)
	for _, t := range targets {
		ins = ins.Values(sourceID, t)
	}
	if _, err := store.ExecBuilder(ctx, q, s.store.Dialect, ins); err != nil {
		return fmt.Errorf("insert join rows: %w", err)
	}
	return nil
}

type joinLink struct {
	table  string
	column string
}

// joinLinks lists every join table column referencing this entity, from
// its own relations and from other entities' relations targeting it.
func (s *Service) joinLinks() []joinLink {
	seen := make(map[joinLink]bool)
	var links []joinLink
	add := func(l joinLink) {
		if !seen[l] {
			seen[l] = true
			links = append(links, l)
		}
	}
	for _, e := range s.registry.Entities() {
		for _, name := range sortedRelations(e) {
			rel := e.Relations[name]
			if !rel.IsManyToMany() {
				continue
			}
			if e.Name == s.entity.Name {
				add(joinLink{rel.JoinTable, rel.SourceJoinKey})
			}
			if rel.Target == s.entity.Name {
				add(joinLink{rel.JoinTable, rel.TargetJoinKey})
			}
		}
	}
	return links
}

func (s *Service) validate(input map[string]any, create bool) error {
	var problems []Problem
	for _, f := range s.entity.WritableFields() {
		v, present := input[f.Name]
		var absent bool
		if create {
			absent = f.Required && f.Default == nil && (!present || v == nil)
		} else {
			absent = f.Required && !f.Nullable && present && v == nil
		}
		if !absent {
			continue
		}
		problems = append(problems, Problem{
			Field:   f.Name,
			Rule:    "required",
			Message: fmt.Sprintf("%s is required", f.Name),
		})
	}
	if len(problems) > 0 {
		return s.invalid(problems...)
	}
	return nil
}

func (s *Service) invalid(problems ...Problem) error {
	return &ValidationError{Entity: s.entity.Name, Problems: problems}
}

// columnValues picks the declared fields present in input and converts
// them to column values. Unknown keys are ignored.
func (s *Service) columnValues(input map[string]any, fields []spec.Field) (map[string]any, error) {
	values := make(map[string]any)
	for _, f := range fields {
		v, ok := input[f.Name]
		if !ok {
			continue
		}
		if f.Hashed && v != nil {
			hashed, err := hashValue(v)
			if err != nil {
				return nil, fmt.Errorf("hash %s: %w", f.Name, err)
			}
			values[f.Name] = hashed
			continue
		}
		col, err := columnValue(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.Name, err)
		}
		values[f.Name] = col
	}
	return values, nil
}

// key converts an id to the primary key's type. An id that cannot belong to
// any row is reported as store.ErrNotFound.
func (s *Service) key(id any) (any, error) {
	switch s.entity.PrimaryKey.Type {
	case "int", "integer", "bigint":
		if str, ok := id.(string); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(str), 10, 64)
			if err != nil {
				return nil, store.ErrNotFound
			}
			return n, nil
		}
		n, ok := store.ToInt64(id)
		if !ok {
			return nil, store.ErrNotFound
		}
		return n, nil
	default:
		if id == nil {
			return nil, store.ErrNotFound
		}
		return fmt.Sprint(id), nil
	}
}

func (s *Service) column(field string) string {
	return s.entity.Table + "." + field
}

// hashValue bcrypt-hashes v. Values that already are bcrypt hashes are kept.
func hashValue(v any) (string, error) {
	plain := fmt.Sprint(v)
	if _, err := bcrypt.Cost([]byte(plain)); err == nil {
		return plain, nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), hashCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func columnValue(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	default:
		return v, nil
	}
}

// linkTargets extracts target keys from a list of ids or of objects
// carrying the target primary key. Duplicates and nils are dropped.
func linkTargets(value any, pkField string) []any {
	var items []any
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		items = v
	case []map[string]any:
		for _, m := range v {
			items = append(items, m)
		}
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	case []int64:
		for _, n := range v {
			items = append(items, n)
		}
	case []int:
		for _, n := range v {
			items = append(items, n)
		}
	default:
		items = []any{v}
	}

	seen := make(map[string]bool, len(items))
	var out []any
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			item = m[pkField]
			if item == nil {
				item = m["id"]
			}
		}
		if item == nil {
			continue
		}
		k := fmt.Sprint(item)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, item)
	}
	return out
}

func sortedRelations(e *spec.Entity) []string {
	names := make([]string, 0, len(e.Relations))
	for name := range e.Relations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

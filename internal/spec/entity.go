package spec

// Filter is a named, parameterized predicate an index caller can activate.
type Filter struct {
	Name    string     `yaml:"-"`
	Kind    FilterKind `yaml:"type"`
	Where   string     `yaml:"where,omitempty"`
	Having  string     `yaml:"having,omitempty"`
	Values  []string   `yaml:"values,omitempty"`
	Joins   []string   `yaml:"joins,omitempty"`
	Groups  []string   `yaml:"groups,omitempty"`
	Selects []string   `yaml:"selects,omitempty"`
}

// Select is a named raw projection added to the result columns.
type Select struct {
	Name   string     `yaml:"-"`
	Kind   SelectKind `yaml:"type"`
	Expr   string     `yaml:"select"`
	Values []string   `yaml:"values,omitempty"`
	Joins  []string   `yaml:"joins,omitempty"`
	Groups []string   `yaml:"groups,omitempty"`
}

// Sorter is a named ordering term. SortBy aliases the column it orders on;
// when empty the sorter's own name is used.
type Sorter struct {
	Name    string   `yaml:"-"`
	SortBy  string   `yaml:"sort_by,omitempty"`
	Joins   []string `yaml:"joins,omitempty"`
	Selects []string `yaml:"selects,omitempty"`
}

// Key returns the column the sorter orders on.
func (s *Sorter) Key() string {
	if s.SortBy != "" {
		return s.SortBy
	}
	return s.Name
}

// Join describes "JOIN Table ON First Operator Second". Prereq names joins
// that must already be applied.
type Join struct {
	Name     string   `yaml:"-"`
	Table    string   `yaml:"table"`
	First    string   `yaml:"first"`
	Operator string   `yaml:"operator,omitempty"`
	Second   string   `yaml:"second"`
	Type     JoinType `yaml:"type,omitempty"`
	Prereq   []string `yaml:"prereq,omitempty"`
}

type Relation struct {
	Name          string       `yaml:"-"`
	Kind          RelationKind `yaml:"type"`
	Target        string       `yaml:"target"`
	SourceKey     string       `yaml:"source_key,omitempty"`
	TargetKey     string       `yaml:"target_key,omitempty"`
	JoinTable     string       `yaml:"join_table,omitempty"`
	SourceJoinKey string       `yaml:"source_join_key,omitempty"`
	TargetJoinKey string       `yaml:"target_join_key,omitempty"`
}

func (r *Relation) IsManyToMany() bool { return r.Kind == ManyToMany }
func (r *Relation) IsOne() bool        { return r.Kind == HasOne || r.Kind == BelongsTo }

type Field struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Required  bool   `yaml:"required,omitempty"`
	Unique    bool   `yaml:"unique,omitempty"`
	Nullable  bool   `yaml:"nullable,omitempty"`
	Hashed    bool   `yaml:"hashed,omitempty"`
	Default   any    `yaml:"default,omitempty"`
	Precision int    `yaml:"precision,omitempty"`
}

type PrimaryKey struct {
	Field     string `yaml:"field"`
	Type      string `yaml:"type"` // int, bigint, uuid, string
	Generated bool   `yaml:"generated"`
}

// AttributeTable names the pivot table holding an entity's dynamic attributes.
type AttributeTable struct {
	Table    string `yaml:"table"`
	OwnerKey string `yaml:"owner_key"`
}

type Entity struct {
	Name       string               `yaml:"name"`
	Table      string               `yaml:"table"`
	PrimaryKey PrimaryKey           `yaml:"primary_key"`
	Fields     []Field              `yaml:"fields"`
	Attributes *AttributeTable      `yaml:"attributes,omitempty"`
	Filters    map[string]*Filter   `yaml:"filters,omitempty"`
	Selects    map[string]*Select   `yaml:"selects,omitempty"`
	Sorters    map[string]*Sorter   `yaml:"sorters,omitempty"`
	Joins      map[string]*Join     `yaml:"joins,omitempty"`
	Groups     map[string]string    `yaml:"groups,omitempty"`
	Relations  map[string]*Relation `yaml:"relations,omitempty"`

	// With lists relations always loaded per operation (index, show, ...).
	With map[string][]string `yaml:"with,omitempty"`

	// Contexts maps the caller-facing context choice to a declared context name.
	Contexts map[string]string `yaml:"contexts,omitempty"`
}

func (e *Entity) Filter(name string) (*Filter, bool) {
	f, ok := e.Filters[name]
	return f, ok
}

func (e *Entity) Select(name string) (*Select, bool) {
	s, ok := e.Selects[name]
	return s, ok
}

func (e *Entity) Sorter(name string) (*Sorter, bool) {
	s, ok := e.Sorters[name]
	return s, ok
}

func (e *Entity) Join(name string) (*Join, bool) {
	j, ok := e.Joins[name]
	return j, ok
}

// Group resolves a group reference to its column. Undeclared names are
// treated as column names.
func (e *Entity) Group(name string) string {
	if col, ok := e.Groups[name]; ok {
		return col
	}
	return name
}

func (e *Entity) Relation(name string) (*Relation, bool) {
	r, ok := e.Relations[name]
	return r, ok
}

// ContextName resolves a caller-facing context choice.
func (e *Entity) ContextName(choice string) (string, bool) {
	name, ok := e.Contexts[choice]
	return name, ok
}

// HasAttributes reports whether the entity carries dynamic attributes.
func (e *Entity) HasAttributes() bool {
	return e.Attributes != nil && e.Attributes.Table != ""
}

// GetField returns a pointer to the field with the given name, or nil.
func (e *Entity) GetField(name string) *Field {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// WritableFields returns fields that can be set by the client.
// Excludes generated primary keys.
func (e *Entity) WritableFields() []Field {
	var fields []Field
	for _, f := range e.Fields {
		if f.Name == e.PrimaryKey.Field && e.PrimaryKey.Generated {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// UpdatableFields returns fields that can be set on UPDATE.
func (e *Entity) UpdatableFields() []Field {
	var fields []Field
	for _, f := range e.Fields {
		if f.Name == e.PrimaryKey.Field {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// BooleanFields returns the names of boolean fields.
func (e *Entity) BooleanFields() []string {
	var names []string
	for _, f := range e.Fields {
		if f.Type == "boolean" {
			names = append(names, f.Name)
		}
	}
	return names
}

// WithFor returns the relations always loaded for op.
func (e *Entity) WithFor(op string) []string {
	return e.With[op]
}

// fillNames copies map keys onto the Name fields and applies defaults.
func (e *Entity) fillNames() {
	if e.PrimaryKey.Field == "" {
		e.PrimaryKey.Field = "id"
	}
	if e.PrimaryKey.Type == "" {
		e.PrimaryKey.Type = "bigint"
	}
	for name, f := range e.Filters {
		if f != nil {
			f.Name = name
		}
	}
	for name, s := range e.Selects {
		if s != nil {
			s.Name = name
		}
	}
	for name, s := range e.Sorters {
		if s != nil {
			s.Name = name
		}
	}
	for name, j := range e.Joins {
		if j == nil {
			continue
		}
		j.Name = name
		if j.Operator == "" {
			j.Operator = "="
		}
		if j.Type == "" {
			j.Type = JoinInner
		}
	}
	for name, r := range e.Relations {
		if r == nil {
			continue
		}
		r.Name = name
		if r.SourceKey == "" && r.Kind != BelongsTo {
			r.SourceKey = e.PrimaryKey.Field
		}
	}
	if e.Attributes != nil && e.Attributes.OwnerKey == "" {
		e.Attributes.OwnerKey = e.Name + "_id"
	}
}

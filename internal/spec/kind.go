package spec

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// FilterKind selects how an active filter value is turned into bound parameters.
type FilterKind string

const (
	// FilterArray expands the ":array" placeholder into one parameter per element.
	FilterArray FilterKind = "array"
	// FilterValue substitutes the scalar into each value template; each result is a parameter.
	FilterValue FilterKind = "value"
	// FilterObject binds the "value" member of a structured value.
	FilterObject FilterKind = "object"
	// FilterConstant is a fixed predicate with no parameters.
	FilterConstant FilterKind = "constant"
)

func (k FilterKind) Valid() bool {
	switch k {
	case FilterArray, FilterValue, FilterObject, FilterConstant:
		return true
	}
	return false
}

func (k *FilterKind) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	kind := FilterKind(s)
	if !kind.Valid() {
		return fmt.Errorf("line %d: unknown filter type %q", n.Line, s)
	}
	*k = kind
	return nil
}

// SelectKind selects how a projection receives parameters.
type SelectKind string

const (
	// SelectObject extracts the declared keys from the active value, in order.
	SelectObject SelectKind = "object"
	// SelectConstant projects without parameters.
	SelectConstant SelectKind = "constant"
)

func (k SelectKind) Valid() bool {
	return k == SelectObject || k == SelectConstant
}

func (k *SelectKind) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	kind := SelectKind(s)
	if !kind.Valid() {
		return fmt.Errorf("line %d: unknown select type %q", n.Line, s)
	}
	*k = kind
	return nil
}

type JoinType string

const (
	JoinInner JoinType = "inner"
	JoinLeft  JoinType = "left"
	JoinRight JoinType = "right"
)

func (t JoinType) Valid() bool {
	switch t {
	case JoinInner, JoinLeft, JoinRight:
		return true
	}
	return false
}

func (t *JoinType) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	jt := JoinType(s)
	if !jt.Valid() {
		return fmt.Errorf("line %d: unknown join type %q", n.Line, s)
	}
	*t = jt
	return nil
}

type RelationKind string

const (
	HasMany    RelationKind = "has_many"
	HasOne     RelationKind = "has_one"
	BelongsTo  RelationKind = "belongs_to"
	ManyToMany RelationKind = "many_to_many"
)

func (k RelationKind) Valid() bool {
	switch k {
	case HasMany, HasOne, BelongsTo, ManyToMany:
		return true
	}
	return false
}

func (k *RelationKind) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	kind := RelationKind(s)
	if !kind.Valid() {
		return fmt.Errorf("line %d: unknown relation type %q", n.Line, s)
	}
	*k = kind
	return nil
}

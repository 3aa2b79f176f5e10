// Package scrub redacts output rows per audience and decides which relations
// and columns an audience gets for each operation.
package scrub

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"crudkit/internal/spec"
)

// Context is a compiled spec.Context. Delegates are wired at construction;
// scrubbing never looks contexts up by name. A nil *Context passes rows through.
type Context struct {
	name        string
	blacklist   map[string]struct{}
	delegates   map[string]*Context
	with        map[string][]string
	selects     map[string]map[string]any
	allowedWith map[string]map[string]struct{}
	allow       *vm.Program
}

// NewContext compiles def. delegates maps a field name to the context that
// scrubs its nested value; the map is retained, so it may be filled after
// construction to wire mutually referencing contexts.
func NewContext(def *spec.Context, delegates map[string]*Context) (*Context, error) {
	c := &Context{
		name:        def.Name,
		blacklist:   make(map[string]struct{}, len(def.Blacklist)),
		delegates:   delegates,
		with:        def.With,
		selects:     def.Select,
		allowedWith: make(map[string]map[string]struct{}, len(def.AllowedWith)),
	}
	if c.delegates == nil {
		c.delegates = map[string]*Context{}
	}
	for _, field := range def.Blacklist {
		c.blacklist[field] = struct{}{}
	}
	for op, names := range def.AllowedWith {
		set := make(map[string]struct{}, len(names))
		for _, n := range names {
			set[n] = struct{}{}
		}
		c.allowedWith[op] = set
	}
	if def.Allow != "" {
		prog, err := expr.Compile(def.Allow, expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("context %s: compile allow expression: %w", def.Name, err)
		}
		c.allow = prog
	}
	return c, nil
}

func (c *Context) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Scrub returns redacted copies of rows. The input is never modified.
func (c *Context) Scrub(rows []map[string]any) []map[string]any {
	if c == nil || rows == nil {
		return rows
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = c.ScrubRow(row)
	}
	return out
}

// ScrubRow returns a redacted copy of row: blacklisted fields are dropped and
// delegated fields are scrubbed by their delegate.
func (c *Context) ScrubRow(row map[string]any) map[string]any {
	if c == nil || row == nil {
		return row
	}
	out := make(map[string]any, len(row))
	for field, v := range row {
		if _, banned := c.blacklist[field]; banned {
			continue
		}
		if delegate, ok := c.delegates[field]; ok {
			v = delegate.scrubValue(v)
		}
		out[field] = v
	}
	return out
}

// scrubValue handles the shapes a delegated field can hold: a nested row or
// a list of rows. Other values pass through.
func (c *Context) scrubValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return c.ScrubRow(val)
	case []map[string]any:
		return c.Scrub(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			if row, ok := item.(map[string]any); ok {
				out[i] = c.ScrubRow(row)
			} else {
				out[i] = item
			}
		}
		return out
	default:
		return v
	}
}

// With returns the relations always loaded for op.
func (c *Context) With(op string) []string {
	if c == nil {
		return nil
	}
	return c.with[op]
}

// Select returns the select activations always applied for op.
func (c *Context) Select(op string) map[string]any {
	if c == nil {
		return nil
	}
	return c.selects[op]
}

// Includes returns With(op) followed by the requested relations that op
// whitelists. Requested names outside the whitelist are dropped silently.
func (c *Context) Includes(op string, requested []string) []string {
	if c == nil {
		return nil
	}
	out := append([]string(nil), c.with[op]...)
	seen := make(map[string]struct{}, len(out))
	for _, n := range out {
		seen[n] = struct{}{}
	}
	allowed := c.allowedWith[op]
	for _, n := range requested {
		if _, ok := allowed[n]; !ok {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Allowed evaluates the context's allow expression against env. A context
// without an expression is always allowed; evaluation errors deny.
func (c *Context) Allowed(env map[string]any) bool {
	if c == nil || c.allow == nil {
		return true
	}
	result, err := expr.Run(c.allow, env)
	if err != nil {
		return false
	}
	ok, _ := result.(bool)
	return ok
}

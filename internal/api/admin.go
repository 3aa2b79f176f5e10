package api

import (
	"sort"

	"github.com/gofiber/fiber/v2"

	"crudkit/internal/spec"
)

// AdminHandler exposes the loaded specs read-only.
type AdminHandler struct {
	registry *spec.Registry
}

func NewAdminHandler(reg *spec.Registry) *AdminHandler {
	return &AdminHandler{registry: reg}
}

func RegisterAdminRoutes(app *fiber.App, h *AdminHandler, prefix string) {
	if prefix == "" {
		prefix = "/api"
	}
	admin := app.Group(prefix + "/_admin")

	admin.Get("/entities", h.ListEntities)
	admin.Get("/entities/:name", h.GetEntity)
	admin.Get("/contexts", h.ListContexts)
}

func (h *AdminHandler) ListEntities(c *fiber.Ctx) error {
	entities := h.registry.Entities()
	rows := make([]fiber.Map, 0, len(entities))
	for _, e := range entities {
		rows = append(rows, fiber.Map{
			"name":       e.Name,
			"table":      e.Table,
			"attributes": e.HasAttributes(),
		})
	}
	return c.JSON(fiber.Map{"data": rows})
}

func (h *AdminHandler) GetEntity(c *fiber.Ctx) error {
	name := c.Params("name")
	e, ok := h.registry.Entity(name)
	if !ok {
		return UnknownEntityError(name)
	}

	fields := make([]fiber.Map, 0, len(e.Fields))
	for _, f := range e.Fields {
		fields = append(fields, fiber.Map{
			"name":     f.Name,
			"type":     f.Type,
			"required": f.Required,
			"unique":   f.Unique,
		})
	}
	relations := make(fiber.Map, len(e.Relations))
	for rname, rel := range e.Relations {
		relations[rname] = fiber.Map{"type": rel.Kind, "target": rel.Target}
	}
	filters := make(fiber.Map, len(e.Filters))
	for fname, f := range e.Filters {
		filters[fname] = f.Kind
	}

	return c.JSON(fiber.Map{"data": fiber.Map{
		"name":        e.Name,
		"table":       e.Table,
		"primary_key": e.PrimaryKey.Field,
		"fields":      fields,
		"filters":     filters,
		"selects":     names(e.Selects),
		"sorters":     names(e.Sorters),
		"joins":       names(e.Joins),
		"relations":   relations,
		"contexts":    e.Contexts,
	}})
}

func (h *AdminHandler) ListContexts(c *fiber.Ctx) error {
	contexts := h.registry.Contexts()
	rows := make([]fiber.Map, 0, len(contexts))
	for _, ctx := range contexts {
		rows = append(rows, fiber.Map{
			"name":      ctx.Name,
			"blacklist": ctx.Blacklist,
			"delegates": ctx.Delegates,
			"guarded":   ctx.Allow != "",
		})
	}
	return c.JSON(fiber.Map{"data": rows})
}

func names[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

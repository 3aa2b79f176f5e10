package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"crudkit/internal/config"
	"crudkit/internal/query"
	"crudkit/internal/scrub"
	"crudkit/internal/service"
	"crudkit/internal/spec"
	"crudkit/internal/store"
)

type Handler struct {
	services map[string]*service.Service
	contexts *scrub.Set
	paging   config.QueryConfig
}

func NewHandler(s *store.Store, reg *spec.Registry, contexts *scrub.Set, paging config.QueryConfig) *Handler {
	services := make(map[string]*service.Service)
	for _, e := range reg.Entities() {
		services[e.Name] = service.New(s, reg, e)
	}
	return &Handler{services: services, contexts: contexts, paging: paging}
}

// Index handles GET /:entity
func (h *Handler) Index(c *fiber.Ctx) error {
	svc, err := h.resolveService(c)
	if err != nil {
		return err
	}
	sc, err := h.scrubber(c, svc.Entity(), "index")
	if err != nil {
		return err
	}

	filters, err := query.ParseActivations(c.Query("filter"))
	if err != nil {
		return err
	}
	selects, err := query.ParseActivations(c.Query("select"))
	if err != nil {
		return err
	}
	sorting, err := query.ParseSorting(c.Query("sorting"))
	if err != nil {
		return err
	}

	comp := svc.Query().
		FilterBy(filters).
		Select(selects).
		Select(sc.Select("index")).
		SortBy(sorting...).
		With(h.includes(c, svc.Entity(), sc, "index")...)

	count := c.QueryInt("count", 0)
	if c.Context().QueryArgs().Has("all") {
		if count <= 0 || count > h.paging.MaxCount {
			count = h.paging.MaxCount
		}
		comp.Limit(count)
	} else {
		if count <= 0 {
			count = h.paging.DefaultCount
		}
		if count > h.paging.MaxCount {
			count = h.paging.MaxCount
		}
		comp.Paginate(count, c.QueryInt("page", h.paging.DefaultPage))
	}

	res, err := svc.Index(c.UserContext(), comp)
	if err != nil {
		return err
	}

	data := sc.Scrub(res.Rows)
	if !res.Paginated {
		return c.JSON(fiber.Map{"data": data})
	}
	return c.JSON(fiber.Map{
		"data": data,
		"meta": fiber.Map{
			"total":        res.Total,
			"per_page":     res.PerPage,
			"current_page": res.Page,
			"last_page":    res.LastPage(),
		},
	})
}

// Show handles GET /:entity/:id
func (h *Handler) Show(c *fiber.Ctx) error {
	svc, err := h.resolveService(c)
	if err != nil {
		return err
	}
	sc, err := h.scrubber(c, svc.Entity(), "show")
	if err != nil {
		return err
	}

	id := c.Params("id")
	row, err := svc.Find(c.UserContext(), id, h.includes(c, svc.Entity(), sc, "show"))
	if err != nil {
		return notFound(err, svc.Entity().Name, id)
	}
	return c.JSON(fiber.Map{"data": sc.ScrubRow(row)})
}

// Store handles POST /:entity
func (h *Handler) Store(c *fiber.Ctx) error {
	svc, err := h.resolveService(c)
	if err != nil {
		return err
	}
	sc, err := h.scrubber(c, svc.Entity(), "store")
	if err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, "Invalid JSON body")
	}

	row, err := svc.Create(c.UserContext(), body)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": sc.ScrubRow(row)})
}

// Update handles PUT and PATCH /:entity/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	svc, err := h.resolveService(c)
	if err != nil {
		return err
	}
	sc, err := h.scrubber(c, svc.Entity(), "update")
	if err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, "Invalid JSON body")
	}

	id := c.Params("id")
	row, err := svc.Update(c.UserContext(), id, body)
	if err != nil {
		return notFound(err, svc.Entity().Name, id)
	}
	return c.JSON(fiber.Map{"data": sc.ScrubRow(row)})
}

// Destroy handles DELETE /:entity/:id
func (h *Handler) Destroy(c *fiber.Ctx) error {
	svc, err := h.resolveService(c)
	if err != nil {
		return err
	}
	if _, err := h.scrubber(c, svc.Entity(), "destroy"); err != nil {
		return err
	}

	id := c.Params("id")
	if err := svc.Destroy(c.UserContext(), id); err != nil {
		return notFound(err, svc.Entity().Name, id)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) resolveService(c *fiber.Ctx) (*service.Service, error) {
	name := c.Params("entity")
	svc, ok := h.services[name]
	if !ok {
		return nil, UnknownEntityError(name)
	}
	return svc, nil
}

// scrubber picks the output context for op: the requested one when the
// entity declares it and its allow expression passes, otherwise the
// default. Entities without contexts are served unscrubbed.
func (h *Handler) scrubber(c *fiber.Ctx, entity *spec.Entity, op string) (*scrub.Context, error) {
	if len(entity.Contexts) == 0 {
		return nil, nil
	}

	env := map[string]any{
		"operation": op,
		"entity":    entity.Name,
		"header":    headers(c),
	}
	for _, choice := range []string{c.Query("context"), h.paging.DefaultContext} {
		if choice == "" {
			continue
		}
		name, ok := entity.ContextName(choice)
		if !ok {
			continue
		}
		sc, ok := h.contexts.Get(name)
		if ok && sc.Allowed(env) {
			return sc, nil
		}
	}
	return nil, ForbiddenError("No context available for " + entity.Name)
}

// includes merges the entity's always-loaded relations for op with the
// context's includes for the requested `with` list.
func (h *Handler) includes(c *fiber.Ctx, entity *spec.Entity, sc *scrub.Context, op string) []string {
	requested := splitAndTrim(c.Query("with"))
	if sc != nil {
		requested = sc.Includes(op, requested)
	}

	var names []string
	seen := make(map[string]bool)
	for _, n := range append(append([]string(nil), entity.WithFor(op)...), requested...) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	return names
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return NotFoundError(entity, id)
	}
	return err
}

func headers(c *fiber.Ctx) map[string]any {
	out := make(map[string]any)
	for k, v := range c.GetReqHeaders() {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func splitAndTrim(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

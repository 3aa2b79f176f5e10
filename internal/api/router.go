package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"crudkit/internal/instrument"
)

// Options configures NewApp.
type Options struct {
	Prefix      string
	Logger      zerolog.Logger
	Metrics     *instrument.Metrics // nil disables /metrics and request metrics
	Tracer      *instrument.Tracer  // nil disables request and operation spans
	MetricsPath string
	Admin       *AdminHandler // nil disables the /_admin routes
}

// NewApp builds the fiber app serving h.
func NewApp(h *Handler, opts Options) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(RequestContext(opts.Logger, opts.Metrics, opts.Tracer))
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		app.Get(path, adaptor.HTTPHandler(opts.Metrics.Handler()))
	}

	if opts.Admin != nil {
		RegisterAdminRoutes(app, opts.Admin, opts.Prefix)
	}
	RegisterRoutes(app, h, opts.Prefix)
	return app
}

func RegisterRoutes(app *fiber.App, h *Handler, prefix string) {
	if prefix == "" {
		prefix = "/api"
	}
	api := app.Group(prefix)

	api.Get("/:entity", h.Index)
	api.Get("/:entity/:id", h.Show)
	api.Post("/:entity", h.Store)
	api.Put("/:entity/:id", h.Update)
	api.Patch("/:entity/:id", h.Update)
	api.Delete("/:entity/:id", h.Destroy)
}

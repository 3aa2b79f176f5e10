package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"crudkit/internal/instrument"
)

// RequestContext tags each request with an id, puts a request-scoped
// logger and the instrumenter into the user context, and logs the outcome.
// Route errors are rendered here so the logged status is the final one.
// With a tracer, each request runs inside an "http.request" span whose
// trace id is added to the request logger.
func RequestContext(base zerolog.Logger, metrics *instrument.Metrics, tracer *instrument.Tracer) fiber.Handler {
	inst := instrument.Multi(metrics, tracer)
	return func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get(fiber.HeaderXRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(fiber.HeaderXRequestID, reqID)

		ctx := instrument.WithInstrumenter(c.UserContext(), inst)
		var span instrument.Span = &instrument.NoopSpan{}
		if tracer != nil {
			ctx, span = tracer.StartSpan(ctx, "http", "request")
		}
		logger := base.With().Str("request_id", reqID).Logger()
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			logger = logger.With().Str("trace_id", sc.TraceID().String()).Logger()
		}
		c.SetUserContext(logger.WithContext(ctx))

		if err := c.Next(); err != nil {
			if herr := c.App().Config().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		elapsed := time.Since(start)
		if metrics != nil {
			metrics.ObserveRequest(c.Method(), c.Route().Path, status, elapsed)
		}
		span.SetMetadata("method", c.Method())
		span.SetMetadata("route", c.Route().Path)
		span.SetMetadata("status_code", status)
		if status >= fiber.StatusInternalServerError {
			span.SetStatus("error")
		}
		span.End()

		event := logger.Info()
		if status >= fiber.StatusInternalServerError {
			event = logger.Error()
		}
		event.Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", elapsed).
			Msg("request")
		return nil
	}
}

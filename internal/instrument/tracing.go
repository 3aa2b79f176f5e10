package instrument

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "crudkit"

// TracingOptions configures the OTLP/HTTP trace exporter.
type TracingOptions struct {
	ServiceName string
	Endpoint    string // host:port of the collector
	Insecure    bool
	SampleRatio float64
	Timeout     time.Duration
}

// NewTracerProvider builds a batching tracer provider exporting over OTLP/HTTP.
// Callers own the provider and must Shutdown it to flush pending spans.
func NewTracerProvider(ctx context.Context, opts TracingOptions) (*sdktrace.TracerProvider, error) {
	exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
	}
	if opts.Timeout > 0 {
		exporterOpts = append(exporterOpts, otlptracehttp.WithTimeout(opts.Timeout))
	}
	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attribute.String("service.name", opts.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(samplerForRatio(opts.SampleRatio)),
	), nil
}

func samplerForRatio(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// Tracer is an OpenTelemetry-backed Instrumenter. Each span becomes an otel
// span named "component.action"; entity, status and metadata become attributes.
type Tracer struct {
	tracer trace.Tracer
}

func NewTracer(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(tracerName)}
}

func (t *Tracer) StartSpan(ctx context.Context, component, action string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, component+"."+action,
		trace.WithAttributes(
			attribute.String("crudkit.component", component),
			attribute.String("crudkit.action", action),
		))
	return ctx, &traceSpan{span: span}
}

type traceSpan struct {
	span trace.Span
}

func (s *traceSpan) End() { s.span.End() }

func (s *traceSpan) SetStatus(status string) {
	s.span.SetAttributes(attribute.String("crudkit.status", status))
	if status == "error" {
		s.span.SetStatus(codes.Error, status)
	}
}

func (s *traceSpan) SetEntity(entity string) {
	s.span.SetAttributes(attribute.String("crudkit.entity", entity))
}

func (s *traceSpan) SetMetadata(key string, value any) {
	key = "crudkit." + key
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprint(v)))
	}
}

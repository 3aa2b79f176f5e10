package instrument

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewTracer(tp), recorder
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracerRecordsSpanAttributes(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	_, span := tracer.StartSpan(context.Background(), "query", "count")
	span.SetEntity("user")
	span.SetMetadata("count_strategy", "derived")
	span.SetMetadata("attributes", 2)
	span.SetStatus("error")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "query.count", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)

	got := attrs(ended[0])
	assert.Equal(t, "user", got["crudkit.entity"].AsString())
	assert.Equal(t, "derived", got["crudkit.count_strategy"].AsString())
	assert.Equal(t, int64(2), got["crudkit.attributes"].AsInt64())
	assert.Equal(t, "query", got["crudkit.component"].AsString())
}

func TestTracerNestsChildSpans(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	ctx, parent := tracer.StartSpan(context.Background(), "service", "create")
	_, child := tracer.StartSpan(ctx, "eav", "sync")
	child.End()
	parent.End()

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, ended[1].SpanContext().SpanID(), ended[0].Parent().SpanID())
}

func TestMultiFansOut(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)
	m := NewMetrics()

	inst := Multi(m, tracer, nil, (*Metrics)(nil))
	_, span := inst.StartSpan(context.Background(), "query", "count")
	span.SetEntity("user")
	span.SetMetadata("count_strategy", "direct")
	span.End()

	require.Len(t, recorder.Ended(), 1)
	assert.Contains(t, scrape(t, m), `crudkit_count_queries_total{entity="user",strategy="direct"} 1`)
}

func TestMultiCollapses(t *testing.T) {
	_, ok := Multi().(*NoopInstrumenter)
	assert.True(t, ok)

	var tracer *Tracer
	_, ok = Multi(nil, tracer).(*NoopInstrumenter)
	assert.True(t, ok)

	m := NewMetrics()
	assert.Same(t, m, Multi(m, tracer))
}

func TestSamplerForRatio(t *testing.T) {
	assert.Contains(t, samplerForRatio(0).Description(), "root:AlwaysOffSampler")
	assert.Contains(t, samplerForRatio(1).Description(), "root:AlwaysOnSampler")
	assert.Contains(t, samplerForRatio(0.25).Description(), "root:TraceIDRatioBased{0.25}")
}

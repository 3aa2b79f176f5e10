package instrument

import "context"

// Instrumenter starts spans around core operations.
type Instrumenter interface {
	StartSpan(ctx context.Context, component, action string) (context.Context, Span)
}

// Span measures one operation. Metadata keys with a known meaning
// ("count_strategy", "attributes") feed dedicated metrics when the span ends.
type Span interface {
	End()
	SetStatus(status string)
	SetEntity(entity string)
	SetMetadata(key string, value any)
}

type ctxKey struct{}

// WithInstrumenter attaches inst to ctx.
func WithInstrumenter(ctx context.Context, inst Instrumenter) context.Context {
	return context.WithValue(ctx, ctxKey{}, inst)
}

// GetInstrumenter returns the instrumenter carried by ctx, or a no-op one.
func GetInstrumenter(ctx context.Context) Instrumenter {
	if inst, ok := ctx.Value(ctxKey{}).(Instrumenter); ok && inst != nil {
		return inst
	}
	return &NoopInstrumenter{}
}

package instrument

import "context"

// Multi fans every span out to each non-nil instrumenter in order.
// It returns a NoopInstrumenter when none remain.
func Multi(insts ...Instrumenter) Instrumenter {
	var live []Instrumenter
	for _, inst := range insts {
		if inst != nil && !isNilPointer(inst) {
			live = append(live, inst)
		}
	}
	switch len(live) {
	case 0:
		return &NoopInstrumenter{}
	case 1:
		return live[0]
	}
	return multiInstrumenter(live)
}

// isNilPointer catches typed nil pointers such as a (*Metrics)(nil)
// passed where metrics are disabled.
func isNilPointer(inst Instrumenter) bool {
	switch v := inst.(type) {
	case *Metrics:
		return v == nil
	case *Tracer:
		return v == nil
	}
	return false
}

type multiInstrumenter []Instrumenter

func (m multiInstrumenter) StartSpan(ctx context.Context, component, action string) (context.Context, Span) {
	spans := make(multiSpan, 0, len(m))
	for _, inst := range m {
		var span Span
		ctx, span = inst.StartSpan(ctx, component, action)
		spans = append(spans, span)
	}
	return ctx, spans
}

type multiSpan []Span

func (m multiSpan) End() {
	for i := len(m) - 1; i >= 0; i-- {
		m[i].End()
	}
}

func (m multiSpan) SetStatus(status string) {
	for _, s := range m {
		s.SetStatus(status)
	}
}

func (m multiSpan) SetEntity(entity string) {
	for _, s := range m {
		s.SetEntity(entity)
	}
}

func (m multiSpan) SetMetadata(key string, value any) {
	for _, s := range m {
		s.SetMetadata(key, value)
	}
}

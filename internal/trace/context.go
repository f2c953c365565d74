package trace

import "context"

type (
	tracerKey struct{}
	spanKey   struct{}
)

// FromContext returns the tracer stored in ctx, or Nop.
func FromContext(ctx context.Context) Tracer {
	if ctx != nil {
		if t, ok := ctx.Value(tracerKey{}).(Tracer); ok {
			return t
		}
	}
	return Nop
}

// WithTracer stores t in ctx. A nil t stores Nop.
func WithTracer(ctx context.Context, t Tracer) context.Context {
	if t == nil {
		t = Nop
	}
	return context.WithValue(ctx, tracerKey{}, t)
}

// SpanContext identifies the enclosing span.
type SpanContext struct {
	SpanID uint64
}

// CurrentSpan returns the span stored in ctx, zero if none.
func CurrentSpan(ctx context.Context) SpanContext {
	if ctx != nil {
		if sc, ok := ctx.Value(spanKey{}).(SpanContext); ok {
			return sc
		}
	}
	return SpanContext{}
}

// WithSpanContext stores sc in ctx.
func WithSpanContext(ctx context.Context, sc SpanContext) context.Context {
	return context.WithValue(ctx, spanKey{}, sc)
}

// Child begins a span under the one in ctx and returns ctx pointing at it.
// When the span is not recorded ctx keeps its current parent.
func Child(ctx context.Context, t Tracer, scope Scope, name string) (context.Context, *Span) {
	span := Begin(t, scope, name, CurrentSpan(ctx).SpanID)
	if span == nil {
		return ctx, nil
	}
	return WithSpanContext(ctx, SpanContext{SpanID: span.ID()}), span
}

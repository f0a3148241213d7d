package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Default tracer name for circuit spans.
const defaultTracerName = "circuit"

// TraceConfig configures a Tracer.
type TraceConfig struct {
	// TracerName is the name of the tracer (default: "circuit").
	TracerName string

	// Provider supplies the tracer.
	// Default: the global provider from otel.GetTracerProvider().
	Provider trace.TracerProvider
}

// TraceOption configures a Tracer.
type TraceOption func(*TraceConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) TraceOption {
	return func(c *TraceConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(p trace.TracerProvider) TraceOption {
	return func(c *TraceConfig) {
		c.Provider = p
	}
}

// Tracer starts spans around circuit lifecycle work: boot, reconnect
// passes and fragment resync. A nil *Tracer produces no-op spans.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer resolves a tracer from the configured provider.
//
// Configure the global provider in main() before creating controllers:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func NewTracer(opts ...TraceOption) *Tracer {
	config := TraceConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	provider := config.Provider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Tracer{tracer: provider.Tracer(config.TracerName)}
}

var noopTracer = noop.NewTracerProvider().Tracer(defaultTracerName)

// Start opens a client span named name.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tr := noopTracer
	if t != nil {
		tr = t.tracer
	}
	return tr.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// End records err on span, sets its status and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// CircuitID is the span attribute carrying the circuit id.
func CircuitID(id string) attribute.KeyValue {
	return attribute.String("circuit.id", id)
}

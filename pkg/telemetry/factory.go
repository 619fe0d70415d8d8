package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
)

// Tracer wraps one span. Spans are only recorded after Start.
type Tracer interface {
	Start()
	WithAttributes(attributes *SpanAttributes) Tracer
	AddEvent(name string, attributes EventAttributes)
	SetStatus(code codes.Code, message string)
	Spawn(spanName string) Tracer
	End()
}

// TracerFactory hands out root spans for warf commands.
type TracerFactory struct {
	telemetry Telemetry
}

type TracerFactoryParams struct {
	fx.In
	Telemetry Telemetry `optional:"true"`
}

func NewTracerFactory(p TracerFactoryParams) *TracerFactory {
	return &TracerFactory{telemetry: p.Telemetry}
}

func (t *TracerFactory) enabled() bool {
	return t != nil && t.telemetry != nil && t.telemetry.GetTracer() != nil
}

// NewTracer returns an unstarted tracer, or a DummyTracer when OTEL_ENABLED is off.
func (t *TracerFactory) NewTracer(ctx context.Context, spanName string) Tracer {
	if !t.enabled() {
		return &DummyTracer{}
	}
	return NewTelemetryTracer(ctx, t.telemetry.GetTracer(), spanName)
}

// StartAction starts a root span tagged with the action category and any extra attributes.
func (t *TracerFactory) StartAction(ctx context.Context, category ActionCategory, spanName string, attrs *SpanAttributes) Tracer {
	action := NewSpanAttributes(category)
	action.Merge(attrs)
	tracer := t.NewTracer(ctx, spanName).WithAttributes(action)
	tracer.Start()
	return tracer
}

// Finish marks the span failed when err is set, then ends it.
func Finish(tracer Tracer, err error) {
	if err != nil {
		tracer.SetStatus(codes.Error, err.Error())
	}
	tracer.End()
}

// DummyTracer stands in when telemetry is disabled.
type DummyTracer struct{}

func (t *DummyTracer) Start()                                           {}
func (t *DummyTracer) WithAttributes(attributes *SpanAttributes) Tracer { return t }
func (t *DummyTracer) AddEvent(name string, attributes EventAttributes) {}
func (t *DummyTracer) SetStatus(code codes.Code, message string)        {}
func (t *DummyTracer) Spawn(spanName string) Tracer                     { return t }
func (t *DummyTracer) End()                                             {}

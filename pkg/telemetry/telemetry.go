package telemetry

import (
	"context"
	"fmt"

	"warf/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/multierr"
)

type Telemetry interface {
	GetTracer() trace.Tracer
	GetLogger() log.Logger
}

type TelemetryParams struct {
	fx.In
	Lifecyle fx.Lifecycle
	Config   *config.AppConfig
}

// campaignTelemetry exports the spans of one warf invocation, and its log records when
// the log exporter could be created.
type campaignTelemetry struct {
	tracer trace.Tracer
	logger log.Logger
}

func (t *campaignTelemetry) GetTracer() trace.Tracer { return t.tracer }
func (t *campaignTelemetry) GetLogger() log.Logger   { return t.logger }

// NewTelemetry sets up OTLP exporters, configured through the standard OTEL_EXPORTER_OTLP_* variables.
// It returns a nil Telemetry when OTEL_ENABLED is off.
func NewTelemetry(p TelemetryParams) (Telemetry, error) {
	if !p.Config.OtelEnabled {
		return nil, nil
	}

	exportCtx, cancel := context.WithCancel(context.Background())
	res := warfResource(p.Config)

	traceProvider, err := newTraceProvider(exportCtx, res)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// the log SDK is still beta, warf keeps tracing when its exporter is unavailable
	logProvider, _ := newLogProvider(exportCtx, res)

	p.Lifecyle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			defer cancel()
			err := traceProvider.Shutdown(ctx)
			if logProvider != nil {
				err = multierr.Append(err, logProvider.Shutdown(ctx))
			}
			return err
		},
	})

	t := &campaignTelemetry{tracer: traceProvider.Tracer(p.Config.ServiceName)}
	if logProvider != nil {
		t.logger = logProvider.Logger(p.Config.ServiceName)
	}
	return t, nil
}

// warfResource identifies the process and the root directory it fuzzes.
func warfResource(cfg *config.AppConfig) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.ServiceName),
		attribute.String("warf.root", cfg.RootDir),
		attribute.String("warf.cargo", cfg.Cargo),
	)
}

func newTraceProvider(ctx context.Context, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

func newLogProvider(ctx context.Context, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, err
	}
	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		sdklog.WithResource(res),
	), nil
}

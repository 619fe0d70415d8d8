package cli

import (
	"warf/internal/backend"
	"warf/internal/campaign"
	"warf/internal/crash"
	"warf/internal/runner"
	"warf/internal/targets"
	"warf/internal/workspace"
	"warf/pkg/logger"
	"warf/pkg/telemetry"
	"warf/pkg/watchdog"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Module provides everything a command needs, down to the campaign controller.
var Module = fx.Options(
	fx.Provide(
		logger.NewLogger,            // inject logger
		telemetry.NewTelemetry,      // inject telemetry
		telemetry.NewTracerFactory,  // inject telemetry tracer factory
		targets.NewRegistry,         // inject target registry
		workspace.NewMaterializer,   // inject workspace materializer
		watchdog.NewWatchDogFactory, // inject watchdog factory
		crash.NewMonitor,            // inject crash monitor
		campaign.NewController,      // inject campaign controller
		fx.Annotate(runner.NewProcessRunner, fx.As(new(runner.Runner))),
	),
	backend.Module, // inject fuzzing backends
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		zlogger := fxevent.ZapLogger{Logger: log}
		zlogger.UseLogLevel(zap.DebugLevel)
		return &zlogger
	}),
)

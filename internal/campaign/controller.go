package campaign

import (
	"context"
	"fmt"
	"strings"

	"warf/config"
	"warf/internal/backend"
	"warf/internal/crash"
	"warf/internal/runner"
	"warf/internal/targets"
	"warf/pkg/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type TargetSource interface {
	Discover() ([]string, error)
	Validate(name string) ([]string, error)
}

type BackendSource interface {
	Lookup(name string) (backend.Backend, error)
}

type Debugger interface {
	Build(ctx context.Context, target string) runner.Outcome
}

type CrashWatcher interface {
	Watch(ctx context.Context, target string, watch backend.CrashWatch) *crash.Session
}

// Controller runs targets one at a time, never in parallel.
type Controller struct {
	targets       TargetSource
	backends      BackendSource
	debugger      Debugger
	runner        runner.Runner
	crashes       CrashWatcher
	tracerFactory *telemetry.TracerFactory
	root          string
	cargo         string
	logger        *zap.Logger
}

type Params struct {
	fx.In

	Config        *config.AppConfig
	Targets       *targets.Registry
	Backends      *backend.Registry
	Debugger      *backend.Debug
	Runner        runner.Runner
	Crashes       *crash.Monitor
	TracerFactory *telemetry.TracerFactory
	Logger        *zap.Logger
}

func NewController(p Params) *Controller {
	return &Controller{
		targets:       p.Targets,
		backends:      p.Backends,
		debugger:      p.Debugger,
		runner:        p.Runner,
		crashes:       p.Crashes,
		tracerFactory: p.TracerFactory,
		root:          p.Config.RootDir,
		cargo:         p.Config.Cargo,
		logger:        p.Logger,
	}
}

// CycleSummary is logged at the end of every cycle.
type CycleSummary struct {
	Cycle   int
	Ran     []string
	Skipped []string
	Crashes int
}

type Report struct {
	ID     string
	State  State // Done or Aborted
	Cycles []CycleSummary
}

// FilterTargets keeps the targets whose name contains filter, case-sensitively.
// An empty filter keeps everything.
func FilterTargets(all []string, filter string) []string {
	selected := make([]string, 0, len(all))
	for _, t := range all {
		if strings.Contains(t, filter) {
			selected = append(selected, t)
		}
	}
	return selected
}

// Targets lists the currently discovered targets.
func (c *Controller) Targets() ([]string, error) {
	return c.targets.Discover()
}

// Run drives a continuous campaign. Engines quitting is tolerated, any other failure
// aborts the campaign and is returned as is.
func (c *Controller) Run(ctx context.Context, cfg config.CampaignConfig) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid campaign configuration: %w", err)
	}
	b, err := c.backends.Lookup(cfg.Backend)
	if err != nil {
		return nil, err
	}

	report := &Report{ID: uuid.NewString()}
	logger := c.logger.With(zap.String("campaign", report.ID), zap.String("backend", b.Name()))
	m := &machine{logger: logger}

	tracer := c.tracerFactory.StartAction(ctx, telemetry.Fuzzing, "warf campaign",
		telemetry.EmptySpanAttributes().
			WithCampaign(report.ID).
			WithBackend(b.Name()).
			WithExtraAttributes(map[string]any{
				"warf.campaign.filter":   cfg.Filter,
				"warf.campaign.timeout":  cfg.Timeout.String(),
				"warf.campaign.infinite": cfg.Infinite,
			}),
	)
	defer tracer.End()

	abort := func(err error) (*Report, error) {
		m.enter(Aborted, zap.Error(err))
		report.State = Aborted
		tracer.SetStatus(codes.Error, err.Error())
		return report, err
	}

	all, err := c.targets.Discover()
	if err != nil {
		return abort(err)
	}
	selected := FilterTargets(all, cfg.Filter)
	if len(selected) == 0 {
		logger.Warn("no target matches the filter", zap.String("filter", cfg.Filter), zap.Strings("targets", all))
		m.enter(Done)
		report.State = Done
		return report, nil
	}
	logger.Info("starting campaign",
		zap.Strings("targets", selected),
		zap.Duration("timeout", cfg.Timeout),
		zap.Bool("infinite", cfg.Infinite),
		zap.Bool("cargo_update", cfg.Update),
	)

	opts := backend.RunOptions{Timeout: cfg.Timeout, Targets: all}
	for cycle := 1; ; cycle++ {
		summary, err := c.runCycle(ctx, m, b, selected, opts, cycle, tracer)
		report.Cycles = append(report.Cycles, summary)
		if err != nil {
			return abort(err)
		}
		logger.Info("cycle finished",
			zap.Int("cycle", cycle),
			zap.Strings("ran", summary.Ran),
			zap.Strings("skipped", summary.Skipped),
			zap.Int("crashes", summary.Crashes),
		)

		if !cfg.Infinite {
			break
		}
		if cfg.MaxCycles > 0 && cycle >= cfg.MaxCycles {
			logger.Info("maximum number of cycles reached", zap.Int("max_cycles", cfg.MaxCycles))
			break
		}
		if err := ctx.Err(); err != nil {
			return abort(fmt.Errorf("campaign interrupted: %w", err))
		}
		if cfg.Update {
			if err := c.Update(ctx); err != nil {
				return abort(err)
			}
		}
		m.enter(NextCycle, zap.Int("cycle", cycle+1))
	}

	m.enter(Done)
	report.State = Done
	return report, nil
}

func (c *Controller) runCycle(
	ctx context.Context,
	m *machine,
	b backend.Backend,
	selected []string,
	opts backend.RunOptions,
	cycle int,
	parent telemetry.Tracer,
) (CycleSummary, error) {
	summary := CycleSummary{Cycle: cycle}
	tracer := parent.Spawn(fmt.Sprintf("cycle %d", cycle)).WithAttributes(telemetry.EmptySpanAttributes().WithCycle(cycle))
	tracer.Start()
	defer tracer.End()

	for _, target := range selected {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("campaign interrupted: %w", err)
		}

		m.enter(PreparingWorkspace, zap.String("target", target))
		targetOpts := opts
		targetOpts.Ready = func() { m.enter(RunningTarget, zap.String("target", target)) }
		out, crashes := c.runTarget(ctx, b, target, targetOpts, tracer)
		summary.Crashes += len(crashes)

		// an interrupted engine exits non-zero, report the interruption rather than a skip
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("campaign interrupted: %w", err)
		}

		m.enter(EvaluatingResult, zap.String("target", target), zap.Stringer("status", out.Status))
		switch Decide(out) {
		case Continue:
			summary.Ran = append(summary.Ran, target)
		case Skip:
			m.logger.Info("Fuzzer failed so we'll continue with the next one",
				zap.String("target", target),
				zap.Int("exit_code", out.ExitCode),
			)
			summary.Skipped = append(summary.Skipped, target)
		case Abort:
			return summary, out.Err
		}
		m.enter(NextTarget)
	}
	return summary, nil
}

// runTarget runs one engine session while the crash monitor watches its output.
func (c *Controller) runTarget(
	ctx context.Context,
	b backend.Backend,
	target string,
	opts backend.RunOptions,
	parent telemetry.Tracer,
) (runner.Outcome, []string) {
	tracer := parent.Spawn("fuzzing "+target).WithAttributes(
		telemetry.NewSpanAttributes(telemetry.Fuzzing).WithBackend(b.Name()).WithTarget(target),
	)
	tracer.Start()
	defer tracer.End()

	session := c.crashes.Watch(ctx, target, b.Crashes(target))
	out := b.Run(ctx, target, opts)
	found, err := session.Stop()
	if err != nil {
		c.logger.Warn("crash monitor reported errors", zap.String("target", target), zap.Error(err))
	}

	for _, path := range found {
		tracer.AddEvent("crash found", telemetry.NewEventAttributes(map[string]string{"warf.crash.file": path}))
	}
	if reporter, ok := b.(backend.StatsReporter); ok {
		c.recordStats(tracer, b.Name(), target, reporter)
	}
	tracer.WithAttributes(telemetry.EmptySpanAttributes().
		WithExtraAttribute("warf.crashes", len(found)).
		WithExtraAttribute("warf.outcome", out.Status.String()))
	if !out.Ok() {
		tracer.SetStatus(codes.Error, out.Err.Error())
	}
	return out, found
}

// recordStats attaches the engine statistics of the finished session to its span.
func (c *Controller) recordStats(tracer telemetry.Tracer, name, target string, reporter backend.StatsReporter) {
	stats, err := reporter.Stats(target)
	if err != nil {
		c.logger.Debug("no engine statistics", zap.String("target", target), zap.Error(err))
		return
	}
	attrs := make(map[string]any, len(stats))
	for key, value := range stats {
		attrs["fuzzer."+name+"."+key] = value
	}
	tracer.WithAttributes(telemetry.EmptySpanAttributes().WithExtraAttributes(attrs))
	c.logger.Info("engine statistics",
		zap.String("target", target),
		zap.String("execs_done", stats["execs_done"]),
		zap.String("saved_crashes", stats["saved_crashes"]),
	)
}

// RunTarget fuzzes a single target until the engine stops. The name is checked
// against a fresh discovery first, nothing is spawned for an unknown target.
func (c *Controller) RunTarget(ctx context.Context, backendName, target string) error {
	b, err := c.backends.Lookup(backendName)
	if err != nil {
		return err
	}
	all, err := c.targets.Validate(target)
	if err != nil {
		return err
	}

	tracer := c.tracerFactory.StartAction(ctx, telemetry.Fuzzing, "warf target",
		telemetry.EmptySpanAttributes().WithBackend(b.Name()).WithTarget(target),
	)
	defer tracer.End()

	out, _ := c.runTarget(ctx, b, target, backend.RunOptions{Targets: all}, tracer)
	return exitError(b.Name(), target, out)
}

// Build compiles every discovered target with the given backend.
func (c *Controller) Build(ctx context.Context, backendName string) error {
	b, err := c.backends.Lookup(backendName)
	if err != nil {
		return err
	}
	all, err := c.targets.Discover()
	if err != nil {
		return err
	}

	tracer := c.tracerFactory.StartAction(ctx, telemetry.Building, "warf build",
		telemetry.EmptySpanAttributes().WithBackend(b.Name()),
	)

	logger := c.logger.With(zap.String("backend", b.Name()))
	logger.Info("start building", zap.Strings("targets", all))
	err = exitError(b.Name(), "", b.Build(ctx, all))
	telemetry.Finish(tracer, err)
	if err != nil {
		return err
	}
	logger.Info("building OK")
	return nil
}

// Debug builds the debug binary of a single, validated target.
func (c *Controller) Debug(ctx context.Context, target string) error {
	if _, err := c.targets.Validate(target); err != nil {
		return err
	}

	tracer := c.tracerFactory.StartAction(ctx, telemetry.Debugging, "warf debug",
		telemetry.EmptySpanAttributes().WithTarget(target),
	)
	err := exitError("debug", target, c.debugger.Build(ctx, target))
	telemetry.Finish(tracer, err)
	return err
}

// Update runs `cargo update` in the root directory. Any failure is fatal to the campaign.
func (c *Controller) Update(ctx context.Context) error {
	tracer := c.tracerFactory.StartAction(ctx, telemetry.Updating, "warf cargo update", nil)
	defer tracer.End()

	out := c.runner.Run(ctx, runner.Command{Name: c.cargo, Args: []string{"update"}, Dir: c.root})
	if out.Ok() {
		return nil
	}
	tracer.SetStatus(codes.Error, out.Err.Error())
	if out.Status == runner.SoftFailure {
		return fmt.Errorf("error running `cargo update`: %w", out.Err)
	}
	return out.Err
}

// exitError turns the outcome of a single-target command into an error.
// There is no next target to move on to, so an engine quitting is fatal here.
func exitError(backendName, target string, out runner.Outcome) error {
	switch out.Status {
	case runner.Success:
		return nil
	case runner.SoftFailure:
		return &EngineExitError{Backend: backendName, Target: target, ExitCode: out.ExitCode, Err: out.Err}
	default:
		return out.Err
	}
}

package campaign

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"warf/config"
	"warf/internal/backend"
	"warf/internal/crash"
	"warf/internal/runner"
	"warf/internal/targets"
	"warf/pkg/telemetry"
	"warf/pkg/watchdog"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type fakeTargets struct {
	names []string
	err   error
}

func (f *fakeTargets) Discover() ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.names), nil
}

func (f *fakeTargets) Validate(name string) ([]string, error) {
	names, err := f.Discover()
	if err != nil {
		return nil, err
	}
	if !slices.Contains(names, name) {
		suggestion, _ := targets.Suggest(name, names)
		return nil, &targets.UnknownTargetError{Name: name, Suggestion: suggestion}
	}
	return names, nil
}

type fakeBackend struct {
	runs     []string
	opts     []backend.RunOptions
	builds   [][]string
	outcomes map[string]runner.Outcome // per target, Success when missing
	build    runner.Outcome
	onRun    func(target string)

	prepareErr error // returned as a hard failure before the engine would start
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{outcomes: map[string]runner.Outcome{}, build: runner.Succeeded()}
}

func (f *fakeBackend) Name() string                      { return "honggfuzz" }
func (f *fakeBackend) Aliases() []string                 { return []string{"hfuzz", "b"} }
func (f *fakeBackend) DefinitionDir() string             { return "/root/fuzzer-honggfuzz" }
func (f *fakeBackend) WorkDir() string                   { return "/root/workspace/hfuzz" }
func (f *fakeBackend) SessionDir() string                { return "/root/workspace/hfuzz/hfuzz_workspace" }
func (f *fakeBackend) Crashes(string) backend.CrashWatch { return backend.CrashWatch{} }

func (f *fakeBackend) Build(_ context.Context, targets []string) runner.Outcome {
	f.builds = append(f.builds, targets)
	return f.build
}

func (f *fakeBackend) Run(_ context.Context, target string, opts backend.RunOptions) runner.Outcome {
	f.runs = append(f.runs, target)
	f.opts = append(f.opts, opts)
	if f.prepareErr != nil {
		return runner.Hard(f.prepareErr)
	}
	if opts.Ready != nil {
		opts.Ready()
	}
	if f.onRun != nil {
		f.onRun(target)
	}
	if out, ok := f.outcomes[target]; ok {
		return out
	}
	return runner.Succeeded()
}

type fakeBackends struct {
	b backend.Backend
}

func (f fakeBackends) Lookup(name string) (backend.Backend, error) {
	if name == f.b.Name() || slices.Contains(f.b.Aliases(), name) {
		return f.b, nil
	}
	return nil, fmt.Errorf("unknown fuzzer `%s`", name)
}

type fakeDebugger struct {
	built []string
	out   runner.Outcome
}

func (f *fakeDebugger) Build(_ context.Context, target string) runner.Outcome {
	f.built = append(f.built, target)
	return f.out
}

type fakeRunner struct {
	commands []runner.Command
	out      runner.Outcome
}

func (f *fakeRunner) Run(_ context.Context, cmd runner.Command) runner.Outcome {
	f.commands = append(f.commands, cmd)
	return f.out
}

type fixture struct {
	controller *Controller
	backend    *fakeBackend
	targets    *fakeTargets
	debugger   *fakeDebugger
	runner     *fakeRunner
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := &fixture{
		backend:  newFakeBackend(),
		targets:  &fakeTargets{names: names},
		debugger: &fakeDebugger{out: runner.Succeeded()},
		runner:   &fakeRunner{out: runner.Succeeded()},
	}
	f.controller = &Controller{
		targets:       f.targets,
		backends:      fakeBackends{f.backend},
		debugger:      f.debugger,
		runner:        f.runner,
		crashes:       crash.NewMonitor(watchdog.NewWatchDogFactory(logger), logger),
		tracerFactory: telemetry.NewTracerFactory(telemetry.TracerFactoryParams{}),
		root:          "/srv/warf",
		cargo:         "cargo",
		logger:        logger,
	}
	return f
}

func campaignConfig(mutate ...func(*config.CampaignConfig)) config.CampaignConfig {
	cfg := config.CampaignConfig{Backend: "honggfuzz", Timeout: 10 * time.Second}
	for _, m := range mutate {
		m(&cfg)
	}
	return cfg
}

var testTargets = []string{"wasmi_validate", "wasmi_instantiate", "parity_validate"}

func TestRunOneCycle(t *testing.T) {
	f := newFixture(t, testTargets...)

	report, err := f.controller.Run(context.Background(), campaignConfig())
	require.NoError(t, err)

	assert.Equal(t, testTargets, f.backend.runs)
	assert.Equal(t, Done, report.State)
	assert.NotEmpty(t, report.ID)
	require.Len(t, report.Cycles, 1)
	assert.Equal(t, testTargets, report.Cycles[0].Ran)
	assert.Empty(t, f.runner.commands, "no cargo update without --infinite")

	for _, opts := range f.backend.opts {
		assert.Equal(t, 10*time.Second, opts.Timeout)
		assert.Equal(t, testTargets, opts.Targets, "engines always see the full discovered set")
	}
}

func TestRunFilter(t *testing.T) {
	tests := []struct {
		filter string
		want   []string
	}{
		{"", testTargets},
		{"wasmi", []string{"wasmi_validate", "wasmi_instantiate"}},
		{"validate", []string{"wasmi_validate", "parity_validate"}},
		{"WASMI", nil},
		{"nothing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			f := newFixture(t, testTargets...)

			report, err := f.controller.Run(context.Background(), campaignConfig(func(c *config.CampaignConfig) {
				c.Filter = tt.filter
			}))
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.backend.runs)
			assert.Equal(t, Done, report.State)
		})
	}
}

func TestRunSkipsTargetsWhoseEngineQuit(t *testing.T) {
	f := newFixture(t, testTargets...)
	f.backend.outcomes["wasmi_validate"] = runner.Outcome{Status: runner.SoftFailure, ExitCode: 1, Err: errors.New("exited")}

	report, err := f.controller.Run(context.Background(), campaignConfig())
	require.NoError(t, err)

	assert.Equal(t, testTargets, f.backend.runs)
	require.Len(t, report.Cycles, 1)
	assert.Equal(t, []string{"wasmi_validate"}, report.Cycles[0].Skipped)
	assert.Equal(t, []string{"wasmi_instantiate", "parity_validate"}, report.Cycles[0].Ran)
}

func TestRunAbortsOnHardFailure(t *testing.T) {
	f := newFixture(t, testTargets...)
	spawnErr := &runner.SpawnError{Command: "cargo hfuzz run wasmi_instantiate", Err: errors.New("permission denied")}
	f.backend.outcomes["wasmi_instantiate"] = runner.Hard(spawnErr)

	report, err := f.controller.Run(context.Background(), campaignConfig(func(c *config.CampaignConfig) {
		c.Infinite = true
	}))
	require.Error(t, err)

	assert.Same(t, spawnErr, err, "infrastructure errors are returned unchanged")
	assert.Equal(t, []string{"wasmi_validate", "wasmi_instantiate"}, f.backend.runs)
	assert.Equal(t, Aborted, report.State)
}

func TestRunInfiniteWithUpdate(t *testing.T) {
	f := newFixture(t, "a", "b")

	report, err := f.controller.Run(context.Background(), campaignConfig(func(c *config.CampaignConfig) {
		c.Infinite = true
		c.Update = true
		c.MaxCycles = 3
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "a", "b", "a", "b"}, f.backend.runs)
	assert.Len(t, report.Cycles, 3)
	require.Len(t, f.runner.commands, 2, "cargo update runs between cycles only")
	for _, cmd := range f.runner.commands {
		assert.Equal(t, "cargo update", cmd.String())
		assert.Equal(t, "/srv/warf", cmd.Dir)
	}
}

func TestRunInfiniteWithoutUpdate(t *testing.T) {
	f := newFixture(t, "a")

	report, err := f.controller.Run(context.Background(), campaignConfig(func(c *config.CampaignConfig) {
		c.Infinite = true
		c.MaxCycles = 2
	}))
	require.NoError(t, err)
	assert.Len(t, report.Cycles, 2)
	assert.Empty(t, f.runner.commands)
}

func TestRunUpdateFailureIsFatal(t *testing.T) {
	f := newFixture(t, "a")
	f.runner.out = runner.Soft(runner.Command{Name: "cargo", Args: []string{"update"}}, 101)

	report, err := f.controller.Run(context.Background(), campaignConfig(func(c *config.CampaignConfig) {
		c.Infinite = true
		c.Update = true
	}))
	require.Error(t, err)
	assert.ErrorContains(t, err, "error running `cargo update`")
	assert.Equal(t, []string{"a"}, f.backend.runs)
	assert.Equal(t, Aborted, report.State)
}

func TestRunStopsWhenCancelled(t *testing.T) {
	f := newFixture(t, testTargets...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.backend.onRun = func(string) { cancel() }

	report, err := f.controller.Run(ctx, campaignConfig(func(c *config.CampaignConfig) {
		c.Infinite = true
	}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"wasmi_validate"}, f.backend.runs)
	assert.Equal(t, Aborted, report.State)
}

func TestRunCancelledDuringLastTarget(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.backend.outcomes["b"] = runner.Outcome{Status: runner.SoftFailure, ExitCode: -1, Err: errors.New("signal: interrupt")}
	f.backend.onRun = func(target string) {
		if target == "b" {
			cancel()
		}
	}

	report, err := f.controller.Run(ctx, campaignConfig())
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorContains(t, err, "campaign interrupted")
	assert.Equal(t, Aborted, report.State)
	require.Len(t, report.Cycles, 1)
	assert.Equal(t, []string{"a"}, report.Cycles[0].Ran)
	assert.Empty(t, report.Cycles[0].Skipped)
}

func TestRunCancelledBeforeUpdate(t *testing.T) {
	f := newFixture(t, "a")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.backend.onRun = func(string) { cancel() }

	report, err := f.controller.Run(ctx, campaignConfig(func(c *config.CampaignConfig) {
		c.Infinite = true
		c.Update = true
	}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Aborted, report.State)
	assert.Empty(t, f.runner.commands, "no cargo update once interrupted")
}

func TestRunStateTransitions(t *testing.T) {
	f := newFixture(t, "a")
	core, logs := observer.New(zapcore.DebugLevel)
	f.controller.logger = zap.New(core)

	_, err := f.controller.Run(context.Background(), campaignConfig())
	require.NoError(t, err)

	want := []string{"preparing_workspace", "running_target", "evaluating_result", "next_target", "done"}
	if diff := cmp.Diff(want, transitions(logs)); diff != "" {
		t.Errorf("unexpected transitions (-want +got):\n%s", diff)
	}
}

func TestRunPreparationFailureNeverRunsTarget(t *testing.T) {
	f := newFixture(t, "a")
	core, logs := observer.New(zapcore.DebugLevel)
	f.controller.logger = zap.New(core)
	f.backend.prepareErr = errors.New("unable to copy targets")

	_, err := f.controller.Run(context.Background(), campaignConfig())
	assert.ErrorContains(t, err, "unable to copy targets")
	assert.Equal(t, []string{"preparing_workspace", "evaluating_result", "aborted"}, transitions(logs))
}

// transitions lists the target state of every logged state change.
func transitions(logs *observer.ObservedLogs) []string {
	var states []string
	for _, entry := range logs.FilterMessage("campaign state changed").All() {
		states = append(states, fmt.Sprint(entry.ContextMap()["to"]))
	}
	return states
}

func TestRunDiscoveryFailure(t *testing.T) {
	f := newFixture(t)
	f.targets.err = &targets.DiscoveryError{Path: "/srv/warf/targets/src/lib.rs"}

	_, err := f.controller.Run(context.Background(), campaignConfig())
	var discoveryErr *targets.DiscoveryError
	assert.ErrorAs(t, err, &discoveryErr)
	assert.Empty(t, f.backend.runs)
}

func TestRunInvalidConfig(t *testing.T) {
	f := newFixture(t, "a")

	_, err := f.controller.Run(context.Background(), campaignConfig(func(c *config.CampaignConfig) {
		c.Timeout = -time.Second
	}))
	assert.ErrorContains(t, err, "invalid campaign configuration")

	_, err = f.controller.Run(context.Background(), campaignConfig(func(c *config.CampaignConfig) {
		c.Backend = "radamsa"
	}))
	assert.ErrorContains(t, err, "unknown fuzzer")
	assert.Empty(t, f.backend.runs)
}

func TestRunTarget(t *testing.T) {
	f := newFixture(t, testTargets...)

	require.NoError(t, f.controller.RunTarget(context.Background(), "hfuzz", "parity_validate"))
	assert.Equal(t, []string{"parity_validate"}, f.backend.runs)
	assert.Equal(t, backend.RunOptions{Targets: testTargets}, f.backend.opts[0])
}

func TestRunTargetUnknown(t *testing.T) {
	f := newFixture(t, testTargets...)

	err := f.controller.RunTarget(context.Background(), "honggfuzz", "wasmi_validat")
	var unknown *targets.UnknownTargetError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "wasmi_validate", unknown.Suggestion)
	assert.Empty(t, f.backend.runs, "nothing is spawned for an unknown target")
}

func TestRunTargetEngineQuit(t *testing.T) {
	f := newFixture(t, testTargets...)
	f.backend.outcomes["wasmi_validate"] = runner.Outcome{Status: runner.SoftFailure, ExitCode: 2, Err: errors.New("exited")}

	err := f.controller.RunTarget(context.Background(), "honggfuzz", "wasmi_validate")
	var exitErr *EngineExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.ExitCode)
	assert.EqualError(t, err, "honggfuzz quit on target `wasmi_validate` with exit code 2")
}

func TestBuild(t *testing.T) {
	f := newFixture(t, testTargets...)
	require.NoError(t, f.controller.Build(context.Background(), "b"))
	assert.Equal(t, [][]string{testTargets}, f.backend.builds)

	f.backend.build = runner.Outcome{Status: runner.SoftFailure, ExitCode: 101, Err: errors.New("exited")}
	err := f.controller.Build(context.Background(), "honggfuzz")
	var exitErr *EngineExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Empty(t, exitErr.Target)
	assert.EqualError(t, err, "honggfuzz quit with exit code 101")
}

func TestDebug(t *testing.T) {
	f := newFixture(t, testTargets...)

	require.NoError(t, f.controller.Debug(context.Background(), "wasmi_validate"))
	assert.Equal(t, []string{"wasmi_validate"}, f.debugger.built)

	err := f.controller.Debug(context.Background(), "nope")
	var unknown *targets.UnknownTargetError
	assert.ErrorAs(t, err, &unknown)
	assert.Len(t, f.debugger.built, 1)

	f.debugger.out = runner.Outcome{Status: runner.SoftFailure, ExitCode: 101, Err: errors.New("exited")}
	var exitErr *EngineExitError
	assert.ErrorAs(t, f.controller.Debug(context.Background(), "wasmi_validate"), &exitErr)
}

func TestDecide(t *testing.T) {
	assert.Equal(t, Continue, Decide(runner.Succeeded()))
	assert.Equal(t, Skip, Decide(runner.Outcome{Status: runner.SoftFailure, ExitCode: 1}))
	assert.Equal(t, Abort, Decide(runner.Hard(errors.New("boom"))))
}

func TestFilterTargets(t *testing.T) {
	all := []string{"a_b", "b", "a_b"}
	assert.Equal(t, all, FilterTargets(all, ""))
	assert.Equal(t, []string{"a_b", "a_b"}, FilterTargets(all, "a_"), "duplicates are preserved")
	assert.Empty(t, FilterTargets(all, "A"))
}

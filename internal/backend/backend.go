package backend

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"warf/config"
	"warf/internal/runner"
	"warf/internal/workspace"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Role selects one of the directories a backend owns.
type Role int

const (
	RoleDefinition Role = iota // static definition shipped with the repository, fuzzer-<name>/
	RoleWork                   // ephemeral work directory under workspace/
	RoleSession                // on-disk state the engine keeps between runs
)

// Backend describes one fuzzing engine. Every method that spawns a process reports
// through a runner.Outcome; workspace errors become a HardFailure.
type Backend interface {
	Name() string
	Aliases() []string

	DefinitionDir() string
	WorkDir() string
	SessionDir() string

	// Crashes returns where the engine drops crashing inputs for target.
	Crashes(target string) CrashWatch

	// Build compiles the given targets without fuzzing them.
	Build(ctx context.Context, targets []string) runner.Outcome

	// Run builds and fuzzes a single target, blocking until the engine exits.
	Run(ctx context.Context, target string, opts RunOptions) runner.Outcome
}

type RunOptions struct {
	Timeout time.Duration // 0 lets the engine run until it stops on its own
	Targets []string      // the full discovered set, for engines that register every target at once
	Ready   func()        // called once the workspace is prepared, right before the engine starts
}

func (o RunOptions) ready() {
	if o.Ready != nil {
		o.Ready()
	}
}

// CrashWatch lists the directories to observe during a session. Filter returns true for files that are crashes.
type CrashWatch struct {
	Dirs   []string
	Filter func(path string) bool
}

// Dir maps a role to the backend's directory for it.
func Dir(b Backend, role Role) string {
	switch role {
	case RoleDefinition:
		return b.DefinitionDir()
	case RoleWork:
		return b.WorkDir()
	case RoleSession:
		return b.SessionDir()
	default:
		panic(fmt.Sprintf("unknown backend directory role %d", role))
	}
}

type Params struct {
	fx.In

	Config    *config.AppConfig
	Workspace *workspace.Materializer
	Runner    runner.Runner
	Logger    *zap.Logger
}

// engine holds what the three backends share: naming, directory layout and cargo invocation.
type engine struct {
	name    string
	dir     string // name of the work directory under workspace/
	aliases []string
	files   []string // definition files copied into the work directory

	root      string
	cargo     string
	workspace *workspace.Materializer
	runner    runner.Runner
	logger    *zap.Logger
}

func newEngine(p Params, name, dir string, aliases ...string) engine {
	return engine{
		name:      name,
		dir:       dir,
		aliases:   aliases,
		files:     []string{"Cargo.toml", "template.rs", "src/lib.rs"},
		root:      p.Config.RootDir,
		cargo:     p.Config.Cargo,
		workspace: p.Workspace,
		runner:    p.Runner,
		logger:    p.Logger.With(zap.String("backend", name)),
	}
}

func (e *engine) Name() string {
	return e.name
}

func (e *engine) Aliases() []string {
	return e.aliases
}

func (e *engine) DefinitionDir() string {
	return filepath.Join(e.root, "fuzzer-"+e.name)
}

func (e *engine) WorkDir() string {
	return filepath.Join(e.root, workspace.WorkspaceDir, e.dir)
}

func (e *engine) SessionDir() string {
	return filepath.Join(e.WorkDir(), e.dir+"_workspace")
}

// prepare materializes the shared target tree and this backend's work directory.
func (e *engine) prepare() error {
	if err := e.workspace.PrepareTargetTree(); err != nil {
		return err
	}
	return e.workspace.PrepareBackendTree(workspace.Tree{
		DefinitionDir: e.DefinitionDir(),
		WorkDir:       e.WorkDir(),
		Files:         e.files,
	})
}

// writeHarness instantiates the definition template as src/bin/<target>.rs.
func (e *engine) writeHarness(target string) error {
	err := e.workspace.InstantiateHarness(
		filepath.Join(e.DefinitionDir(), "template.rs"),
		filepath.Join(e.WorkDir(), "src", "bin", target+".rs"),
		target,
	)
	if err == nil {
		e.logger.Info("fuzz target created", zap.String("target", target))
	}
	return err
}

func (e *engine) cargoCommand(dir string, env []string, args ...string) runner.Command {
	return runner.Command{Name: e.cargo, Args: args, Env: env, Dir: dir}
}

func (e *engine) run(ctx context.Context, cmd runner.Command) runner.Outcome {
	return e.runner.Run(ctx, cmd)
}

// seconds rounds d up to whole seconds, the unit every engine takes.
func seconds(d time.Duration) int64 {
	return int64(math.Ceil(d.Seconds()))
}

var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewAFL, fx.As(new(Backend)), fx.ResultTags(`group:"backends"`)),
		fx.Annotate(NewHonggfuzz, fx.As(new(Backend)), fx.ResultTags(`group:"backends"`)),
		fx.Annotate(NewLibFuzzer, fx.As(new(Backend)), fx.ResultTags(`group:"backends"`)),
		NewRegistry,
		NewDebug,
	),
)

package backend

import (
	"context"
	"path/filepath"

	"warf/internal/runner"
	"warf/internal/workspace"

	"go.uber.org/zap"
)

// Debug builds a plain, uninstrumented binary for one target from the debug/ definition.
type Debug struct {
	root      string
	cargo     string
	workspace *workspace.Materializer
	runner    runner.Runner
	logger    *zap.Logger
}

func NewDebug(p Params) *Debug {
	return &Debug{
		root:      p.Config.RootDir,
		cargo:     p.Config.Cargo,
		workspace: p.Workspace,
		runner:    p.Runner,
		logger:    p.Logger.With(zap.String("backend", "debug")),
	}
}

func (d *Debug) DefinitionDir() string {
	return filepath.Join(d.root, "debug")
}

func (d *Debug) WorkDir() string {
	return filepath.Join(d.root, workspace.WorkspaceDir, "debug")
}

// Binary is the name of the debug executable built for target.
func (d *Debug) Binary(target string) string {
	return "debug_" + target
}

func (d *Debug) Build(ctx context.Context, target string) runner.Outcome {
	if err := d.workspace.PrepareTargetTree(); err != nil {
		return runner.Hard(err)
	}
	if err := d.workspace.PrepareBackendTree(workspace.Tree{
		DefinitionDir: d.DefinitionDir(),
		WorkDir:       d.WorkDir(),
		Files:         []string{"Cargo.toml", "src/lib.rs"},
	}); err != nil {
		return runner.Hard(err)
	}

	bin := d.Binary(target)
	if err := d.workspace.InstantiateHarness(
		filepath.Join(d.DefinitionDir(), "debug_template.rs"),
		filepath.Join(d.WorkDir(), "src", "bin", bin+".rs"),
		target,
	); err != nil {
		return runner.Hard(err)
	}

	out := d.runner.Run(ctx, runner.Command{
		Name: d.cargo,
		Args: []string{"build", "--bin", bin},
		Dir:  d.WorkDir(),
	})
	if out.Ok() {
		d.logger.Info("debug binary compiled", zap.String("target", target), zap.String("binary", bin))
	}
	return out
}

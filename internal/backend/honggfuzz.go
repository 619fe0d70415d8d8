package backend

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"warf/internal/runner"
)

// Honggfuzz drives `cargo hfuzz`, which compiles the target itself as part of `run`.
type Honggfuzz struct {
	engine
	runArgs string // HFUZZ_RUN_ARGS from the environment, appended after warf's own
}

func NewHonggfuzz(p Params) (*Honggfuzz, error) {
	return &Honggfuzz{
		engine:  newEngine(p, "honggfuzz", "hfuzz", "hfuzz", "b"),
		runArgs: p.Config.EngineArgs.Honggfuzz,
	}, nil
}

func (h *Honggfuzz) Build(ctx context.Context, targets []string) runner.Outcome {
	if err := h.prepare(); err != nil {
		return runner.Hard(err)
	}
	for _, target := range targets {
		if err := h.writeHarness(target); err != nil {
			return runner.Hard(err)
		}
	}
	return h.run(ctx, h.cargoCommand(h.WorkDir(), nil, "hfuzz", "build"))
}

func (h *Honggfuzz) Run(ctx context.Context, target string, opts RunOptions) runner.Outcome {
	if err := h.prepare(); err != nil {
		return runner.Hard(err)
	}
	if err := h.writeHarness(target); err != nil {
		return runner.Hard(err)
	}
	seeds, err := h.workspace.SeedDir()
	if err != nil {
		return runner.Hard(err)
	}

	env := []string{
		"HFUZZ_RUN_ARGS=" + h.buildRunArgs(opts),
		"HFUZZ_INPUT=" + seeds,
	}
	opts.ready()
	return h.run(ctx, h.cargoCommand(h.WorkDir(), env, "hfuzz", "run", target))
}

func (h *Honggfuzz) buildRunArgs(opts RunOptions) string {
	var parts []string
	if opts.Timeout > 0 {
		parts = append(parts, fmt.Sprintf("--run_time %d", seconds(opts.Timeout)))
	}
	if h.runArgs != "" {
		parts = append(parts, h.runArgs)
	}
	return strings.Join(parts, " ")
}

// cargo hfuzz keeps one session directory per target and names crashes *.fuzz
func (h *Honggfuzz) Crashes(target string) CrashWatch {
	return CrashWatch{
		Dirs: []string{filepath.Join(h.SessionDir(), target)},
		Filter: func(path string) bool {
			return filepath.Ext(path) == ".fuzz"
		},
	}
}

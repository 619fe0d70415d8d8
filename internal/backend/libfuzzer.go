package backend

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"warf/internal/runner"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

var artifactPrefixes = []string{"crash-", "leak-", "timeout-", "oom-"}

// LibFuzzer drives `cargo fuzz` from the fuzz/ directory of its work directory.
type LibFuzzer struct {
	engine
	extraArgs []string
}

func NewLibFuzzer(p Params) (*LibFuzzer, error) {
	extra, err := shlex.Split(p.Config.EngineArgs.LibFuzzer)
	if err != nil {
		return nil, fmt.Errorf("invalid WARF_LIBFUZZER_ARGS %q: %w", p.Config.EngineArgs.LibFuzzer, err)
	}
	return &LibFuzzer{
		engine:    newEngine(p, "libfuzzer", "libfuzzer", "c"),
		extraArgs: extra,
	}, nil
}

func (l *LibFuzzer) fuzzDir() string {
	return filepath.Join(l.WorkDir(), "fuzz")
}

// stage rebuilds fuzz/fuzz_targets from scratch and registers every target with cargo fuzz.
func (l *LibFuzzer) stage(ctx context.Context, targets []string) runner.Outcome {
	if err := l.prepare(); err != nil {
		return runner.Hard(err)
	}

	fuzzDir := l.fuzzDir()
	targetDir := filepath.Join(fuzzDir, "fuzz_targets")
	if err := l.workspace.ResetDir(targetDir); err != nil {
		return runner.Hard(err)
	}
	if err := l.workspace.CopyFile(
		filepath.Join(l.DefinitionDir(), "fuzz", "Cargo.toml"),
		filepath.Join(fuzzDir, "Cargo.toml"),
	); err != nil {
		return runner.Hard(err)
	}

	template := filepath.Join(l.WorkDir(), "template.rs")
	for _, target := range targets {
		// cargo fuzz add refuses targets already listed in Cargo.toml, that is fine
		out := l.run(ctx, l.cargoCommand(fuzzDir, nil, "fuzz", "add", target))
		if out.Status == runner.HardFailure {
			return out
		}
		if out.Status == runner.SoftFailure {
			l.logger.Debug("cargo fuzz add failed, keeping existing entry", zap.String("target", target), zap.Int("exit_code", out.ExitCode))
		}
		if err := l.workspace.InstantiateHarness(template, filepath.Join(targetDir, target+".rs"), target); err != nil {
			return runner.Hard(err)
		}
	}
	return runner.Succeeded()
}

func (l *LibFuzzer) Build(ctx context.Context, targets []string) runner.Outcome {
	if out := l.stage(ctx, targets); !out.Ok() {
		return out
	}
	return l.run(ctx, l.cargoCommand(l.fuzzDir(), nil, "fuzz", "build"))
}

func (l *LibFuzzer) Run(ctx context.Context, target string, opts RunOptions) runner.Outcome {
	targets := opts.Targets
	if len(targets) == 0 {
		targets = []string{target}
	}
	if out := l.stage(ctx, targets); !out.Ok() {
		return out
	}
	seeds, err := l.workspace.SeedDir()
	if err != nil {
		return runner.Hard(err)
	}

	args := []string{"fuzz", "run", target, seeds}
	var engineArgs []string
	if opts.Timeout > 0 {
		engineArgs = append(engineArgs, "-max_total_time="+strconv.FormatInt(seconds(opts.Timeout), 10))
	}
	engineArgs = append(engineArgs, l.extraArgs...)
	if len(engineArgs) > 0 {
		args = append(append(args, "--"), engineArgs...)
	}
	opts.ready()
	return l.run(ctx, l.cargoCommand(l.fuzzDir(), nil, args...))
}

func (l *LibFuzzer) Crashes(target string) CrashWatch {
	return CrashWatch{
		Dirs: []string{filepath.Join(l.fuzzDir(), "artifacts", target)},
		Filter: func(path string) bool {
			base := filepath.Base(path)
			for _, prefix := range artifactPrefixes {
				if strings.HasPrefix(base, prefix) {
					return true
				}
			}
			return false
		},
	}
}

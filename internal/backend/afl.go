package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"warf/internal/runner"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

// AFL drives `cargo afl`. Each target is built as its own binary right before it is fuzzed.
type AFL struct {
	engine
	extraArgs []string
}

func NewAFL(p Params) (*AFL, error) {
	extra, err := shlex.Split(p.Config.EngineArgs.AFL)
	if err != nil {
		return nil, fmt.Errorf("invalid WARF_AFL_ARGS %q: %w", p.Config.EngineArgs.AFL, err)
	}
	return &AFL{
		engine:    newEngine(p, "afl", "afl", "a"),
		extraArgs: extra,
	}, nil
}

func (a *AFL) Build(ctx context.Context, targets []string) runner.Outcome {
	for _, target := range targets {
		if out := a.build(ctx, target); !out.Ok() {
			return out
		}
	}
	return runner.Succeeded()
}

func (a *AFL) build(ctx context.Context, target string) runner.Outcome {
	if err := a.prepare(); err != nil {
		return runner.Hard(err)
	}
	if err := a.writeHarness(target); err != nil {
		return runner.Hard(err)
	}
	return a.run(ctx, a.cargoCommand(a.WorkDir(), nil, "afl", "build", "--bin", target))
}

func (a *AFL) Run(ctx context.Context, target string, opts RunOptions) runner.Outcome {
	if out := a.build(ctx, target); !out.Ok() {
		return out
	}

	seeds, err := a.workspace.SeedDir()
	if err != nil {
		return runner.Hard(err)
	}
	session := a.SessionDir()
	if err := a.workspace.MkdirAll(session); err != nil {
		return runner.Hard(err)
	}

	input := seeds
	if resumable(session) {
		a.logger.Info("resuming previous session", zap.String("target", target), zap.String("session", session))
		input = "-"
	}

	args := []string{"afl", "fuzz", "-i", input, "-o", session}
	if opts.Timeout > 0 {
		args = append(args, "-V", strconv.FormatInt(seconds(opts.Timeout), 10))
	}
	args = append(args, a.extraArgs...)
	args = append(args, "--", "./target/debug/"+target)

	opts.ready()
	return a.run(ctx, a.cargoCommand(a.WorkDir(), nil, args...))
}

// resumable reports whether session holds a non-empty queue, either at its top level or
// in the default instance directory newer AFL versions create.
func resumable(session string) bool {
	for _, queue := range []string{
		filepath.Join(session, "queue"),
		filepath.Join(session, "default", "queue"),
	} {
		entries, err := os.ReadDir(queue)
		if err == nil && len(entries) > 0 {
			return true
		}
	}
	return false
}

func (a *AFL) Crashes(string) CrashWatch {
	session := a.SessionDir()
	return CrashWatch{
		Dirs: []string{
			filepath.Join(session, "crashes"),
			filepath.Join(session, "default", "crashes"),
		},
		Filter: func(path string) bool {
			return strings.HasPrefix(filepath.Base(path), "id:")
		},
	}
}

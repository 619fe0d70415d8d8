package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Command is one subprocess invocation.
type Command struct {
	Name string
	Args []string
	Env  []string // KEY=VALUE pairs layered over the current environment
	Dir  string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner executes commands to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) Outcome
}

// how long an interrupted engine may take to save its session before it is killed
const DefaultGracePeriod = 10 * time.Second

// ProcessRunner streams the child's stdio through to ours, so the engine UI stays visible.
type ProcessRunner struct {
	logger      *zap.Logger
	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
	gracePeriod time.Duration
}

func NewProcessRunner(logger *zap.Logger) *ProcessRunner {
	return &ProcessRunner{
		logger:      logger,
		stdin:       os.Stdin,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		gracePeriod: DefaultGracePeriod,
	}
}

// Run blocks until the command exits. A start failure is a HardFailure carrying a *SpawnError,
// a non-zero exit is a SoftFailure. The exit reason is not inspected any further.
// When ctx is done the command gets an interrupt first and is killed after the grace period.
func (r *ProcessRunner) Run(ctx context.Context, cmd Command) Outcome {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Cancel = func() error {
		r.logger.Info("interrupting command", zap.String("command", cmd.String()))
		return c.Process.Signal(os.Interrupt)
	}
	c.WaitDelay = r.gracePeriod
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	c.Stdin = r.stdin
	c.Stdout = r.stdout
	c.Stderr = r.stderr

	logger := r.logger.With(zap.String("command", cmd.String()), zap.String("dir", cmd.Dir))
	if len(cmd.Env) > 0 {
		logger = logger.With(zap.Strings("env", cmd.Env))
	}
	logger.Info("running command")

	if err := c.Start(); err != nil {
		logger.Error("failed to start command", zap.Error(err))
		return Hard(&SpawnError{Command: cmd.String(), Err: err})
	}

	err := c.Wait()
	if err == nil {
		logger.Debug("command finished")
		return Succeeded()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		logger.Info("command exited with non-zero status", zap.Int("exit_code", exitErr.ExitCode()))
		return Soft(cmd, exitErr.ExitCode())
	}
	logger.Error("failed while waiting for command", zap.Error(err))
	return Hard(fmt.Errorf("error while waiting for `%s`: %w", cmd, err))
}

type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("error starting `%s`: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

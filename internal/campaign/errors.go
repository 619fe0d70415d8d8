package campaign

import "fmt"

// EngineExitError is returned by single-target commands when the engine exits non-zero.
type EngineExitError struct {
	Backend  string
	Target   string // empty for builds covering every target
	ExitCode int
	Err      error
}

func (e *EngineExitError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s quit with exit code %d", e.Backend, e.ExitCode)
	}
	return fmt.Sprintf("%s quit on target `%s` with exit code %d", e.Backend, e.Target, e.ExitCode)
}

func (e *EngineExitError) Unwrap() error {
	return e.Err
}

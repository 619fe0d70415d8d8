package runner

import "fmt"

type Status int

const (
	Success     Status = iota
	SoftFailure        // the engine ran and exited non-zero: its session is over
	HardFailure        // infrastructure error: spawn, filesystem, permissions
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case SoftFailure:
		return "soft_failure"
	case HardFailure:
		return "hard_failure"
	default:
		return "unknown"
	}
}

// Outcome is the result of one step run on behalf of a backend.
type Outcome struct {
	Status   Status
	ExitCode int   // meaningful for SoftFailure
	Err      error // nil on Success
}

func Succeeded() Outcome {
	return Outcome{Status: Success}
}

// Hard wraps an infrastructure error. A nil err yields Success.
func Hard(err error) Outcome {
	if err == nil {
		return Succeeded()
	}
	return Outcome{Status: HardFailure, ExitCode: -1, Err: err}
}

func Soft(cmd Command, exitCode int) Outcome {
	return Outcome{
		Status:   SoftFailure,
		ExitCode: exitCode,
		Err:      fmt.Errorf("`%s` exited with code %d", cmd, exitCode),
	}
}

func (o Outcome) Ok() bool {
	return o.Status == Success
}

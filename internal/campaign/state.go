package campaign

import (
	"warf/internal/runner"

	"go.uber.org/zap"
)

type State int

const (
	Idle State = iota
	PreparingWorkspace
	RunningTarget
	EvaluatingResult
	NextTarget
	NextCycle
	Aborted
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PreparingWorkspace:
		return "preparing_workspace"
	case RunningTarget:
		return "running_target"
	case EvaluatingResult:
		return "evaluating_result"
	case NextTarget:
		return "next_target"
	case NextCycle:
		return "next_cycle"
	case Aborted:
		return "aborted"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Decision is what the campaign does after one target session.
type Decision int

const (
	Continue Decision = iota // session ended cleanly
	Skip                     // engine quit, move on to the next target
	Abort                    // infrastructure failure, stop the campaign
)

// Decide maps an outcome to the campaign's next move. A single target never aborts
// the campaign unless the failure happened outside the engine.
func Decide(out runner.Outcome) Decision {
	switch out.Status {
	case runner.Success:
		return Continue
	case runner.SoftFailure:
		return Skip
	default:
		return Abort
	}
}

type machine struct {
	state  State
	logger *zap.Logger
}

func (m *machine) enter(next State, fields ...zap.Field) {
	fields = append([]zap.Field{zap.Stringer("from", m.state), zap.Stringer("to", next)}, fields...)
	m.logger.Debug("campaign state changed", fields...)
	m.state = next
}

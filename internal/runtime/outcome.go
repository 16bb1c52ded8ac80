package runtime

import "github.com/loopsmith/loopsmith/internal/llm"

// State is a loop controller state. The four terminal states double as the
// run outcome status.
type State string

const (
	StateInit      State = "INIT"
	StateThinking  State = "THINKING"
	StateActing    State = "ACTING"
	StateVerifying State = "VERIFYING"
	StateCompleted State = "COMPLETED"
	StateBlocked   State = "BLOCKED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateBlocked, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// RunOutcome is the single value a caller observes from a run. Reason is set
// for FAILED and CANCELLED, Question for BLOCKED.
type RunOutcome struct {
	Status     State
	Reason     string
	Question   string
	Iterations int
	Usage      llm.Usage
}

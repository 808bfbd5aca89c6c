package runner

import (
	"fmt"

	ferrors "git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
)

// State is the lifecycle state of a pass (and of a whole compile job).
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// IsTerminal reports whether no further transition can leave s.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut:
		return true
	default:
		return false
	}
}

// Transition validates a state change. Allowed: pending to running, and
// running to one of the terminal states. Anything else is an internal error.
func Transition(from, to State) error {
	if isAllowedTransition(from, to) {
		return nil
	}
	return ferrors.InternalError(fmt.Sprintf("disallowed state transition %s -> %s", from, to)).
		WithContext("from", string(from)).
		WithContext("to", string(to)).
		Build()
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateRunning
	case StateRunning:
		return to.IsTerminal()
	default:
		return false
	}
}

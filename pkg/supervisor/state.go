package supervisor

import "fmt"

// State is the lifecycle phase of one supervised service.
type State string

const (
	StatePending  State = "pending"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateCrashed  State = "crashed"
)

// IsTerminal reports whether the service will never change state again.
func IsTerminal(s State) bool {
	return s == StateStopped || s == StateCrashed
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateStarting || to == StateStopped
	case StateStarting:
		return to == StateRunning || to == StateCrashed
	case StateRunning:
		return to == StateStopping || to == StateCrashed
	case StateStopping:
		return to == StateStopped
	default:
		return false
	}
}

// transition moves *cur from `from` to `to`, failing when the current state is
// not the expected one or the move is not part of the lifecycle.
func transition(name string, cur *State, from, to State) error {
	if *cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", name, from, *cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", name, from, to)
	}
	*cur = to
	return nil
}

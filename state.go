package pluginkit

import "fmt"

// State is a plugin's lifecycle state.
type State string

// Lifecycle states. Removed is terminal; Rejected and RolledBack are
// re-enterable by a fresh submission of the same identity.
const (
	StateSubmitted  State = "submitted"
	StateValidated  State = "validated"
	StateInstalled  State = "installed"
	StateActive     State = "active"
	StateRolledBack State = "rolledback"
	StateRejected   State = "rejected"
	StateRemoved    State = "removed"
)

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StateSubmitted, StateValidated, StateInstalled, StateActive,
		StateRolledBack, StateRejected, StateRemoved:
		return true
	}
	return false
}

// Terminal reports whether no further event applies to s.
func (s State) Terminal() bool {
	return s == StateRemoved
}

// Event drives a lifecycle transition.
type Event string

// Lifecycle events.
const (
	EventValidated   Event = "validated"    // boundary check returned valid
	EventRejected    Event = "rejected"     // boundary check returned rejected
	EventInstalled   Event = "installed"    // every install plan step succeeded
	EventInstallFail Event = "install-fail" // a plan step failed, rollback applied
	EventActivated   Event = "activated"    // external engine accepted the descriptor
	EventRemoved     Event = "removed"      // removal plan fully applied
	EventResubmit    Event = "resubmit"     // fresh submission of a known identity
)

// transitions is the state machine table: (from, event) -> to.
var transitions = map[State]map[Event]State{
	StateSubmitted: {
		EventValidated: StateValidated,
		EventRejected:  StateRejected,
	},
	StateValidated: {
		EventInstalled:   StateInstalled,
		EventInstallFail: StateRolledBack,
		EventResubmit:    StateSubmitted,
	},
	StateInstalled: {
		EventActivated:   StateActive,
		EventRemoved:     StateRemoved,
		EventInstallFail: StateRolledBack,
		EventResubmit:    StateSubmitted,
	},
	StateActive: {
		EventRemoved:  StateRemoved,
		EventResubmit: StateSubmitted,
	},
	StateRolledBack: {
		EventResubmit: StateSubmitted,
	},
	StateRejected: {
		EventResubmit: StateSubmitted,
	},
}

// Transition returns the state reached by applying event in from. An
// event the table does not allow is a contract violation: the caller
// (always the orchestrator) asked for an impossible transition.
func Transition(from State, event Event) (State, error) {
	if m, ok := transitions[from]; ok {
		if to, ok := m[event]; ok {
			return to, nil
		}
	}
	return from, &ContractError{
		Op:     "transition",
		Detail: fmt.Sprintf("event %q not allowed in state %q", event, from),
	}
}

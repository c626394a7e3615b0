// Package booking drives the multi-step booking workflow and the one-shot
// operations on existing bookings.
package booking

// State represents the current step of the booking workflow.
type State string

const (
	StateServiceReview State = "service_review"
	StateTimeSelection State = "time_selection"
	StateSummary       State = "summary"
	StateConfirmation  State = "confirmation"
	StateFailed        State = "failed"
)

// FSM holds the allowed workflow transitions.
type FSM struct {
	transitions map[State][]State
}

// NewFSM creates an FSM with the booking steps. Forward moves are listed
// first, the step back second.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[State][]State{
			StateServiceReview: {StateTimeSelection},
			StateTimeSelection: {StateSummary, StateServiceReview},
			StateSummary:       {StateConfirmation, StateTimeSelection, StateFailed},
			StateConfirmation:  {StateSummary, StateFailed},
			StateFailed:        nil,
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to State) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// previous returns the step before s, if the user may go back from it.
func previous(s State) (State, bool) {
	switch s {
	case StateTimeSelection:
		return StateServiceReview, true
	case StateSummary:
		return StateTimeSelection, true
	default:
		return "", false
	}
}

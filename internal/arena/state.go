package arena

type State string

const (
	StateScheduled        State = "scheduled"
	StateRegistrationOpen State = "registration_open"
	StatePreparation      State = "preparation"
	StateInProgress       State = "in_progress"
	StateResolved         State = "resolved"
	StateCompleted        State = "completed"
	StateAborted          State = "aborted"
)

var transitions = map[State][]State{
	StateScheduled:        {StateRegistrationOpen, StateAborted},
	StateRegistrationOpen: {StatePreparation, StateAborted},
	StatePreparation:      {StateInProgress, StateAborted},
	StateInProgress:       {StateResolved, StateAborted},
	StateResolved:         {StateCompleted},
}

func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateAborted
}

// Abortable excludes Resolved: once settlement has begun money may already
// have moved to bettors.
func (s State) Abortable() bool {
	return s.CanTransition(StateAborted)
}

func (s State) AcceptsBets() bool {
	return s == StateRegistrationOpen || s == StatePreparation
}

func (s State) String() string { return string(s) }

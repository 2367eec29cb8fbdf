package core

// State is a room lifecycle phase. Transitions are directed with no
// back-edges, so a destroyed room can never be resurrected.
type State string

const (
	StateCreated       State = "CREATED"
	StateWaitingSecond State = "WAITING_SECOND"
	StateActive        State = "ACTIVE"
	StateDestroyed     State = "DESTROYED"
)

var allowedTransitions = map[State]map[State]bool{
	StateCreated:       {StateWaitingSecond: true},
	StateWaitingSecond: {StateActive: true, StateDestroyed: true},
	StateActive:        {StateDestroyed: true},
	StateDestroyed:     {},
}

func canTransition(from, to State) bool {
	return allowedTransitions[from][to]
}

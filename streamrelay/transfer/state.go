package transfer

// State is a step of the fill/drain state machine shared by counting and
// relaying.
type State uint8

const (
	StateIdle State = iota
	StateFilling
	StateDraining
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateFilling:
		return "FILLING"
	case StateDraining:
		return "DRAINING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// StateObserver is called on every state transition of a transfer.
type StateObserver func(from, to State)

type machine struct {
	state    State
	observer StateObserver
}

func (m *machine) to(next State) {
	if m.state.Terminal() || m.state == next {
		return
	}
	prev := m.state
	m.state = next
	if m.observer != nil {
		m.observer(prev, next)
	}
}

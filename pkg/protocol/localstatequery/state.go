package localstatequery

import "github.com/ouroboros-go/relay/pkg/protocol"

// State is one of the local-state-query states.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateAcquired
	StateQuerying
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAcquiring:
		return "Acquiring"
	case StateAcquired:
		return "Acquired"
	case StateQuerying:
		return "Querying"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Agency returns which side may send the next message in state s.
func (s State) Agency() protocol.Side {
	switch s {
	case StateIdle, StateAcquired:
		return protocol.Initiator
	case StateAcquiring, StateQuerying:
		return protocol.Responder
	default:
		return protocol.Side(-1)
	}
}

// Machine tracks one peer's local-state-query progress.
type Machine struct {
	State State
}

// NewMachine returns a fresh machine in StateIdle.
func NewMachine() *Machine { return &Machine{State: StateIdle} }

// Apply advances the machine on receipt of msg from side `from`.
func (m *Machine) Apply(msg protocol.Message, from protocol.Side) error {
	agency := m.State.Agency()
	if agency < 0 {
		return &protocol.InvalidInboundError{State: m.State, Message: msg}
	}
	if from != agency {
		return &protocol.AgencyIsOursError{State: m.State, Side: agency.Opposite()}
	}

	switch m.State {
	case StateIdle:
		switch msg.Label() {
		case LabelAcquire:
			m.State = StateAcquiring
		case LabelDone:
			m.State = StateDone
		default:
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
	case StateAcquiring:
		switch msg.Label() {
		case LabelAcquired:
			m.State = StateAcquired
		case LabelFailure:
			m.State = StateIdle
		default:
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
	case StateAcquired:
		switch msg.Label() {
		case LabelQuery:
			m.State = StateQuerying
		case LabelReAcquire:
			m.State = StateAcquiring
		case LabelRelease:
			m.State = StateIdle
		default:
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
	case StateQuerying:
		if msg.Label() != LabelResult {
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
		m.State = StateAcquired
	default:
		return &protocol.InvalidInboundError{State: m.State, Message: msg}
	}
	return nil
}

// CheckOutbound verifies msg is legal to send from side in the current state.
func (m *Machine) CheckOutbound(msg protocol.Message, side protocol.Side) error {
	agency := m.State.Agency()
	if agency < 0 || side != agency {
		return &protocol.InvalidOutboundError{State: m.State, Side: side, Message: msg}
	}
	switch m.State {
	case StateIdle:
		switch msg.Label() {
		case LabelAcquire, LabelDone:
			return nil
		}
	case StateAcquiring:
		switch msg.Label() {
		case LabelAcquired, LabelFailure:
			return nil
		}
	case StateAcquired:
		switch msg.Label() {
		case LabelQuery, LabelReAcquire, LabelRelease:
			return nil
		}
	case StateQuerying:
		if msg.Label() == LabelResult {
			return nil
		}
	}
	return &protocol.InvalidOutboundError{State: m.State, Side: side, Message: msg}
}

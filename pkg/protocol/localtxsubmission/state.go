package localtxsubmission

import "github.com/ouroboros-go/relay/pkg/protocol"

// State is one of the local-tx-submission states.
type State int

const (
	StateIdle State = iota
	StateBusy
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateBusy:
		return "Busy"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Agency returns which side may send the next message in state s.
func (s State) Agency() protocol.Side {
	switch s {
	case StateIdle:
		return protocol.Initiator
	case StateBusy:
		return protocol.Responder
	default:
		return protocol.Side(-1)
	}
}

// Machine tracks one peer's local-tx-submission progress.
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
		case LabelSubmitTx:
			m.State = StateBusy
		case LabelDone:
			m.State = StateDone
		default:
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
	case StateBusy:
		switch msg.Label() {
		case LabelAcceptTx, LabelRejectTx:
			m.State = StateIdle
		default:
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
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
		case LabelSubmitTx, LabelDone:
			return nil
		}
	case StateBusy:
		switch msg.Label() {
		case LabelAcceptTx, LabelRejectTx:
			return nil
		}
	}
	return &protocol.InvalidOutboundError{State: m.State, Side: side, Message: msg}
}

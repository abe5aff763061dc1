package localtxmonitor

import "github.com/ouroboros-go/relay/pkg/protocol"

// State is one of the local-tx-monitor states. The three Busy
// sub-states correspond to spec.md's `Busy(kind)`: which query is
// outstanding determines which reply is legal.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateAcquired
	StateBusyNextTx
	StateBusyHasTx
	StateBusyGetSizes
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
	case StateBusyNextTx:
		return "Busy(NextTx)"
	case StateBusyHasTx:
		return "Busy(HasTx)"
	case StateBusyGetSizes:
		return "Busy(GetSizes)"
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
	case StateAcquiring, StateBusyNextTx, StateBusyHasTx, StateBusyGetSizes:
		return protocol.Responder
	default:
		return protocol.Side(-1)
	}
}

// Machine tracks one peer's local-tx-monitor progress.
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
		if msg.Label() != LabelAcquired {
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
		m.State = StateAcquired
	case StateAcquired:
		switch msg.Label() {
		case LabelNextTx:
			m.State = StateBusyNextTx
		case LabelHasTx:
			m.State = StateBusyHasTx
		case LabelGetSizes:
			m.State = StateBusyGetSizes
		case LabelRelease:
			m.State = StateIdle
		default:
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
	case StateBusyNextTx:
		if msg.Label() != LabelReplyNextTx {
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
		m.State = StateAcquired
	case StateBusyHasTx:
		if msg.Label() != LabelReplyHasTx {
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
		m.State = StateAcquired
	case StateBusyGetSizes:
		if msg.Label() != LabelReplyGetSizes {
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
		if msg.Label() == LabelAcquired {
			return nil
		}
	case StateAcquired:
		switch msg.Label() {
		case LabelNextTx, LabelHasTx, LabelGetSizes, LabelRelease:
			return nil
		}
	case StateBusyNextTx:
		if msg.Label() == LabelReplyNextTx {
			return nil
		}
	case StateBusyHasTx:
		if msg.Label() == LabelReplyHasTx {
			return nil
		}
	case StateBusyGetSizes:
		if msg.Label() == LabelReplyGetSizes {
			return nil
		}
	}
	return &protocol.InvalidOutboundError{State: m.State, Side: side, Message: msg}
}

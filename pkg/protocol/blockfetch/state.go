package blockfetch

import "github.com/ouroboros-go/relay/pkg/protocol"

// State is one of the four block-fetch states.
type State int

const (
	StateIdle State = iota
	StateBusy
	StateStreaming
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateBusy:
		return "Busy"
	case StateStreaming:
		return "Streaming"
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
	case StateBusy, StateStreaming:
		return protocol.Responder
	default:
		return protocol.Side(-1)
	}
}

// Machine tracks one peer's block-fetch progress. Only one range
// request may be outstanding at a time (spec.md §4.4: "Concurrent
// ranges are not allowed on the same channel"), which this machine
// enforces simply by refusing RequestRange outside StateIdle.
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
		case LabelRequestRange:
			m.State = StateBusy
		case LabelClientDone:
			m.State = StateDone
		default:
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
	case StateBusy:
		switch msg.Label() {
		case LabelNoBlocks:
			m.State = StateIdle
		case LabelStartBatch:
			m.State = StateStreaming
		default:
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
	case StateStreaming:
		switch msg.Label() {
		case LabelBlock:
			// stay in Streaming
		case LabelBatchDone:
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
		case LabelRequestRange, LabelClientDone:
			return nil
		}
	case StateBusy:
		switch msg.Label() {
		case LabelNoBlocks, LabelStartBatch:
			return nil
		}
	case StateStreaming:
		switch msg.Label() {
		case LabelBlock, LabelBatchDone:
			return nil
		}
	}
	return &protocol.InvalidOutboundError{State: m.State, Side: side, Message: msg}
}

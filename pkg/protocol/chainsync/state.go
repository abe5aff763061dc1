package chainsync

import (
	"github.com/ouroboros-go/relay/pkg/protocol"
)

// State is one of the five chain-sync states.
type State int

const (
	StateIdle State = iota
	StateCanAwait
	StateMustReply
	StateIntersect
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCanAwait:
		return "CanAwait"
	case StateMustReply:
		return "MustReply"
	case StateIntersect:
		return "Intersect"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Agency returns which side may send the next message in state s.
// The initiator holds agency only in Idle; the responder holds it in
// every other non-terminal state.
func (s State) Agency() protocol.Side {
	if s == StateIdle {
		return protocol.Initiator
	}
	if s == StateDone {
		return protocol.Side(-1)
	}
	return protocol.Responder
}

// Machine tracks one peer's chain-sync progress.
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
		case LabelRequestNext:
			m.State = StateCanAwait
		case LabelFindIntersect:
			m.State = StateIntersect
		case LabelDone:
			m.State = StateDone
		default:
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
	case StateCanAwait:
		switch msg.Label() {
		case LabelAwaitReply:
			m.State = StateMustReply
		case LabelRollForward, LabelRollBackward:
			m.State = StateIdle
		default:
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
	case StateMustReply:
		switch msg.Label() {
		case LabelRollForward, LabelRollBackward:
			m.State = StateIdle
		default:
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
	case StateIntersect:
		switch msg.Label() {
		case LabelIntersectFound, LabelIntersectNotFound:
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
		case LabelRequestNext, LabelFindIntersect, LabelDone:
			return nil
		}
	case StateCanAwait:
		switch msg.Label() {
		case LabelAwaitReply, LabelRollForward, LabelRollBackward:
			return nil
		}
	case StateMustReply:
		switch msg.Label() {
		case LabelRollForward, LabelRollBackward:
			return nil
		}
	case StateIntersect:
		switch msg.Label() {
		case LabelIntersectFound, LabelIntersectNotFound:
			return nil
		}
	}
	return &protocol.InvalidOutboundError{State: m.State, Side: side, Message: msg}
}

package txsubmission

import (
	"fmt"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

// State is one of the tx-submission states.
type State int

const (
	StateInit State = iota
	StateIdle
	StateTxIdsBlocking
	StateTxIdsNonBlocking
	StateTxs
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateIdle:
		return "Idle"
	case StateTxIdsBlocking:
		return "TxIdsBlocking"
	case StateTxIdsNonBlocking:
		return "TxIdsNonBlocking"
	case StateTxs:
		return "Txs"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Agency returns which side may send the next message in state s.
// Init is the one state where the Responder (the producer) holds
// agency; every other non-terminal state follows the puller-drives
// rule described in the package doc.
func (s State) Agency() protocol.Side {
	switch s {
	case StateInit:
		return protocol.Responder
	case StateIdle:
		return protocol.Initiator
	case StateTxIdsBlocking, StateTxIdsNonBlocking, StateTxs:
		return protocol.Responder
	default:
		return protocol.Side(-1)
	}
}

// Machine tracks one peer's tx-submission progress, including the
// ack-count invariant from spec.md §4.4: an acknowledgement must never
// exceed the number of ids currently in flight.
type Machine struct {
	State    State
	inFlight uint16
}

// NewMachine returns a fresh machine in StateInit.
func NewMachine() *Machine { return &Machine{State: StateInit} }

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
	case StateInit:
		if msg.Label() != LabelInit {
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
		m.State = StateIdle
	case StateIdle:
		switch req := msg.(type) {
		case *RequestTxIds:
			if req.Ack > m.inFlight {
				return fmt.Errorf("txsubmission: violation: ack %d exceeds in-flight %d", req.Ack, m.inFlight)
			}
			m.inFlight -= req.Ack
			m.inFlight += req.Req
			if req.Blocking {
				m.State = StateTxIdsBlocking
			} else {
				m.State = StateTxIdsNonBlocking
			}
		case *RequestTxs:
			m.State = StateTxs
		default:
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
	case StateTxIdsBlocking:
		switch msg.(type) {
		case *ReplyTxIds:
			m.State = StateIdle
		case *Done:
			m.State = StateDone
		default:
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
	case StateTxIdsNonBlocking:
		if _, ok := msg.(*ReplyTxIds); !ok {
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
		m.State = StateIdle
	case StateTxs:
		if _, ok := msg.(*ReplyTxs); !ok {
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
		m.State = StateIdle
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
	case StateInit:
		if msg.Label() == LabelInit {
			return nil
		}
	case StateIdle:
		switch msg.Label() {
		case LabelRequestTxIds, LabelRequestTxs:
			return nil
		}
	case StateTxIdsBlocking:
		switch msg.Label() {
		case LabelReplyTxIds, LabelDone:
			return nil
		}
	case StateTxIdsNonBlocking:
		if msg.Label() == LabelReplyTxIds {
			return nil
		}
	case StateTxs:
		if msg.Label() == LabelReplyTxs {
			return nil
		}
	}
	return &protocol.InvalidOutboundError{State: m.State, Side: side, Message: msg}
}

// InFlight reports the number of advertised-but-unacknowledged ids.
func (m *Machine) InFlight() uint16 { return m.inFlight }

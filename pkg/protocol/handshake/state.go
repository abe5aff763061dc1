package handshake

import (
	"fmt"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

// State is one of the three handshake states; Done carries an Outcome.
type State int

const (
	StatePropose State = iota
	StateConfirm
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePropose:
		return "Propose"
	case StateConfirm:
		return "Confirm"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Outcome records how a finished handshake ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeAccepted
	OutcomeRejected
	OutcomeQueryReplied
)

// Machine tracks per-peer handshake progress. One Machine exists per
// handshake channel instance; it is discarded once Done.
type Machine struct {
	State   State
	Outcome Outcome
}

// NewMachine returns a fresh machine in StatePropose.
func NewMachine() *Machine { return &Machine{State: StatePropose} }

// Agency returns which side may send the next message in the current state.
func (m *Machine) Agency() protocol.Side {
	switch m.State {
	case StatePropose:
		return protocol.Initiator
	case StateConfirm:
		return protocol.Responder
	default:
		return protocol.Side(-1) // terminal: nobody has agency
	}
}

// Apply advances the machine on receipt of msg, arriving from the
// given side. It enforces agency: msg must come from the side that
// currently holds it.
func (m *Machine) Apply(msg protocol.Message, from protocol.Side) error {
	agency := m.Agency()
	if agency < 0 {
		return &protocol.InvalidInboundError{State: m.State, Message: msg}
	}
	if from != agency {
		return &protocol.AgencyIsOursError{State: m.State, Side: agency.Opposite()}
	}

	switch m.State {
	case StatePropose:
		if msg.Label() != LabelPropose {
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
		m.State = StateConfirm
		return nil
	case StateConfirm:
		switch msg.Label() {
		case LabelAccept:
			m.State = StateDone
			m.Outcome = OutcomeAccepted
		case LabelRefuse:
			m.State = StateDone
			m.Outcome = OutcomeRejected
		case LabelQueryReply:
			m.State = StateDone
			m.Outcome = OutcomeQueryReplied
		default:
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
		return nil
	default:
		return &protocol.InvalidInboundError{State: m.State, Message: msg}
	}
}

// CheckOutbound verifies msg is legal to send from side in the current
// state, without mutating the machine (the caller applies the
// transition itself after the bearer accepts the write, mirroring
// Apply's bookkeeping for locally-sent messages).
func (m *Machine) CheckOutbound(msg protocol.Message, side protocol.Side) error {
	agency := m.Agency()
	if agency < 0 || side != agency {
		return &protocol.InvalidOutboundError{State: m.State, Side: side, Message: msg}
	}
	switch m.State {
	case StatePropose:
		if msg.Label() != LabelPropose {
			return &protocol.InvalidOutboundError{State: m.State, Side: side, Message: msg}
		}
	case StateConfirm:
		switch msg.Label() {
		case LabelAccept, LabelRefuse, LabelQueryReply:
		default:
			return &protocol.InvalidOutboundError{State: m.State, Side: side, Message: msg}
		}
	default:
		return &protocol.InvalidOutboundError{State: m.State, Side: side, Message: msg}
	}
	return nil
}

// NegotiateN2N implements the responder-side negotiation rule from
// spec.md §4.4: for each locally accepted version in descending order,
// find a client version with a matching number whose data is equal;
// accept the first match, else refuse.
func NegotiateN2N(local N2NVersionTable, remote N2NVersionTable) (*AcceptN2N, *RefuseN2N) {
	localVersions := local.Versions()
	for i := len(localVersions) - 1; i >= 0; i-- {
		v := localVersions[i]
		rd, ok := remote[v]
		if !ok {
			continue
		}
		ld := local[v]
		if ld.Equal(rd) {
			return &AcceptN2N{Version: v, Data: ld}, nil
		}
		return nil, &RefuseN2N{Reason: NewRefused(v, fmt.Sprintf("version data mismatch at version %d", v))}
	}
	return nil, &RefuseN2N{Reason: NewVersionMismatch(local.Versions())}
}

// NegotiateN2C is the node-to-client analogue of NegotiateN2N.
func NegotiateN2C(local N2CVersionTable, remote N2CVersionTable) (*AcceptN2C, *RefuseN2C) {
	localVersions := local.Versions()
	for i := len(localVersions) - 1; i >= 0; i-- {
		v := localVersions[i]
		rd, ok := remote[v]
		if !ok {
			continue
		}
		ld := local[v]
		if ld.Equal(rd) {
			return &AcceptN2C{Version: v, Data: ld}, nil
		}
		return nil, &RefuseN2C{Reason: NewRefused(v, fmt.Sprintf("version data mismatch at version %d", v))}
	}
	return nil, &RefuseN2C{Reason: NewVersionMismatch(local.Versions())}
}

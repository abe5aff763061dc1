package keepalive

import "github.com/ouroboros-go/relay/pkg/protocol"

// State is one of the three keep-alive states.
type State int

const (
	StateClient State = iota
	StateServer
	StateDone
)

func (s State) String() string {
	switch s {
	case StateClient:
		return "Client"
	case StateServer:
		return "Server"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Agency returns which side may send the next message in state s.
func (s State) Agency() protocol.Side {
	switch s {
	case StateClient:
		return protocol.Initiator
	case StateServer:
		return protocol.Responder
	default:
		return protocol.Side(-1)
	}
}

// Machine tracks one peer's keep-alive round trip, including the
// cookie the client most recently sent, so a mismatched echo can be
// detected by the caller as a protocol violation.
type Machine struct {
	State      State
	lastCookie Cookie
	haveCookie bool
}

// NewMachine returns a fresh machine in StateClient.
func NewMachine() *Machine { return &Machine{State: StateClient} }

// Apply advances the machine on receipt of msg from side `from`. A
// ResponseKeepAlive whose cookie does not match the outstanding
// KeepAlive is reported as an error; callers should treat this as a
// violation of the peer.
func (m *Machine) Apply(msg protocol.Message, from protocol.Side) error {
	agency := m.State.Agency()
	if agency < 0 {
		return &protocol.InvalidInboundError{State: m.State, Message: msg}
	}
	if from != agency {
		return &protocol.AgencyIsOursError{State: m.State, Side: agency.Opposite()}
	}

	switch m.State {
	case StateClient:
		switch k := msg.(type) {
		case *KeepAlive:
			m.lastCookie = k.Cookie
			m.haveCookie = true
			m.State = StateServer
		case *Done:
			m.State = StateDone
		default:
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
	case StateServer:
		resp, ok := msg.(*ResponseKeepAlive)
		if !ok {
			return &protocol.InvalidInboundError{State: m.State, Message: msg}
		}
		if !m.haveCookie || resp.Cookie != m.lastCookie {
			return &CookieMismatchError{Want: m.lastCookie, Got: resp.Cookie}
		}
		m.haveCookie = false
		m.State = StateClient
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
	case StateClient:
		switch msg.Label() {
		case LabelKeepAlive, LabelDone:
			return nil
		}
	case StateServer:
		if msg.Label() == LabelResponseKeepAlive {
			return nil
		}
	}
	return &protocol.InvalidOutboundError{State: m.State, Side: side, Message: msg}
}

// CookieMismatchError reports that a ResponseKeepAlive echoed the
// wrong cookie.
type CookieMismatchError struct {
	Want, Got Cookie
}

func (e *CookieMismatchError) Error() string {
	return "keepalive: cookie mismatch"
}

// Package behavior implements the pure state machine that drives a
// fleet of peer connections: promotion across cold/warm/hot tiers,
// chain-sync orchestration, and block-fetch scheduling. It never
// touches a socket; it is driven entirely by the events and commands
// defined here, and produces outputs the manager dispatches.
package behavior

import (
	"github.com/ouroboros-go/relay/pkg/protocol"
	"github.com/ouroboros-go/relay/pkg/protocol/chainsync"
)

// Promotion is a peer's discovery/connection tier.
type Promotion int

const (
	Cold Promotion = iota
	Warm
	Hot
)

func (p Promotion) String() string {
	switch p {
	case Cold:
		return "cold"
	case Warm:
		return "warm"
	case Hot:
		return "hot"
	default:
		return "unknown"
	}
}

// ConnectionState tracks the bearer-level lifecycle of one peer.
type ConnectionState int

const (
	NotConnected ConnectionState = iota
	Handshaking
	Initialized
	Disconnected
)

// PeerState aggregates everything the behavior tracks about one peer.
type PeerState struct {
	ID         protocol.PeerID
	Promotion  Promotion
	Connection ConnectionState

	VersionKnown bool
	Version      uint64

	ChainSync       chainsync.State
	LastIntersect   []protocol.Point
	ContinueSync    bool

	Violation bool
	Banned    bool
}

// InterfaceEventKind discriminates the events the interface (bearer +
// plexer + session layer) raises toward the behavior.
type InterfaceEventKind int

const (
	EvConnected InterfaceEventKind = iota
	EvDisconnected
	EvSent
	EvRecv
	EvError
	EvIdle
	// EvHandshakeAccepted is raised once by the session layer after a
	// peer's version negotiation accepts, carrying the negotiated
	// version in InterfaceEvent.Version. The behavior never decodes
	// handshake messages itself, to avoid importing protocol/handshake.
	EvHandshakeAccepted
)

// InterfaceEvent is one event raised by the interface layer about a
// specific peer.
type InterfaceEvent struct {
	Peer    protocol.PeerID
	Kind    InterfaceEventKind
	Message protocol.Message
	Err     error
	Version uint64
}

// InterfaceCommandKind discriminates the commands the behavior issues
// to the interface layer.
type InterfaceCommandKind int

const (
	CmdConnect InterfaceCommandKind = iota
	CmdSend
	CmdDisconnect
)

// InterfaceCommand is one command the behavior issues to the
// interface layer about a specific peer.
type InterfaceCommand struct {
	Peer    protocol.PeerID
	Kind    InterfaceCommandKind
	Channel protocol.ChannelID
	Message protocol.Message
}

// ExternalCommandKind discriminates commands the consumer issues to
// the behavior.
type ExternalCommandKind int

const (
	CmdIncludePeer ExternalCommandKind = iota
	CmdStartSync
	CmdContinueSync
	CmdRequestBlocks
	CmdHousekeeping
)

// ExternalCommand is one command the consumer issues to the behavior.
type ExternalCommand struct {
	Kind   ExternalCommandKind
	Peer   protocol.PeerID
	Points []protocol.Point
	Start  protocol.Point
	End    protocol.Point
}

// ExternalEventKind discriminates the events the behavior raises
// toward the consumer.
type ExternalEventKind int

const (
	EvPeerInitialized ExternalEventKind = iota
	EvIntersectionFound
	EvBlockHeaderReceived
	EvRollbackReceived
	EvBlockBodyReceived
	EvTxRequested
)

// ExternalEvent is one event the behavior raises toward the consumer.
type ExternalEvent struct {
	Kind    ExternalEventKind
	Peer    protocol.PeerID
	Point   protocol.Point
	Tip     protocol.Tip
	Header  []byte
	Body    []byte
	IDs     [][]byte
	Version uint64
}

// Output is the tagged union PollNext and HandleX methods populate:
// exactly one of Command or Event is set.
type Output struct {
	Command *InterfaceCommand
	Event   *ExternalEvent
}

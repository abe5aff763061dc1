package behavior

import (
	"github.com/ouroboros-go/relay/pkg/protocol"
	"github.com/ouroboros-go/relay/pkg/protocol/blockfetch"
	"github.com/ouroboros-go/relay/pkg/protocol/chainsync"
	"github.com/ouroboros-go/relay/pkg/protocol/peersharing"
)

// ResponderEventKind discriminates the events the responder behavior
// raises toward the operator.
type ResponderEventKind int

const (
	EvIntersectionRequested ResponderEventKind = iota
	EvNextHeaderRequested
	EvBlockRangeRequested
	EvPeersRequested
)

// ResponderEvent is one inbound request the operator must answer.
type ResponderEvent struct {
	Kind   ResponderEventKind
	Peer   protocol.PeerID
	Points []protocol.Point
	Range  blockfetch.Range
	Amount uint8
}

// ResponderCommandKind discriminates the commands the operator issues
// to answer a ResponderEvent.
type ResponderCommandKind int

const (
	CmdProvideIntersection ResponderCommandKind = iota
	CmdProvideHeader
	CmdProvideBlocks
	CmdProvidePeers
)

// ResponderCommand answers exactly one ResponderEvent for Peer.
type ResponderCommand struct {
	Kind      ResponderCommandKind
	Peer      protocol.PeerID
	Found     bool
	Point     protocol.Point
	Tip       protocol.Tip
	Header    []byte
	Era       uint64
	Bodies    [][]byte
	Addresses []protocol.PeerAddress
}

// ResponderOutput is the tagged output of the responder behavior:
// exactly one of Command or Event is set.
type ResponderOutput struct {
	Command *InterfaceCommand
	Event   *ResponderEvent
}

// ResponderBehavior mirrors InitiatorBehavior for inbound peers: it
// answers chain-sync/block-fetch/peer-sharing requests by asking the
// operator to provide the data, then encodes the operator's answer
// into the outbound protocol message.
type ResponderBehavior struct {
	outputs []ResponderOutput
}

// NewResponderBehavior returns a fresh responder behavior.
func NewResponderBehavior() *ResponderBehavior { return &ResponderBehavior{} }

// HandleEvent applies one interface event, queuing whatever outputs
// it produces.
func (b *ResponderBehavior) HandleEvent(evt InterfaceEvent) {
	if evt.Kind != EvRecv {
		return
	}
	switch m := evt.Message.(type) {
	case *chainsync.FindIntersect:
		b.emitEvent(ResponderEvent{Kind: EvIntersectionRequested, Peer: evt.Peer, Points: m.Points})
	case *chainsync.RequestNext:
		b.emitEvent(ResponderEvent{Kind: EvNextHeaderRequested, Peer: evt.Peer})
	case *blockfetch.RequestRange:
		b.emitEvent(ResponderEvent{Kind: EvBlockRangeRequested, Peer: evt.Peer, Range: m.Range})
	case *peersharing.ShareRequest:
		b.emitEvent(ResponderEvent{Kind: EvPeersRequested, Peer: evt.Peer, Amount: m.Amount})
	}
}

// HandleCommand applies one operator answer, encoding it into the
// right outbound protocol message.
func (b *ResponderBehavior) HandleCommand(cmd ResponderCommand) {
	switch cmd.Kind {
	case CmdProvideIntersection:
		if cmd.Found {
			b.send(cmd.Peer, protocol.ChannelChainSync, &chainsync.IntersectFound{Point: cmd.Point, Tip: cmd.Tip})
		} else {
			b.send(cmd.Peer, protocol.ChannelChainSync, &chainsync.IntersectNotFound{Tip: cmd.Tip})
		}
	case CmdProvideHeader:
		b.send(cmd.Peer, protocol.ChannelChainSync, &chainsync.RollForward{
			Content: chainsync.HeaderContent{Era: cmd.Era, HeaderBytes: cmd.Header},
			Tip:     cmd.Tip,
		})
	case CmdProvideBlocks:
		if len(cmd.Bodies) == 0 {
			b.send(cmd.Peer, protocol.ChannelBlockFetch, &blockfetch.NoBlocks{})
			return
		}
		b.send(cmd.Peer, protocol.ChannelBlockFetch, &blockfetch.StartBatch{})
		for _, body := range cmd.Bodies {
			b.send(cmd.Peer, protocol.ChannelBlockFetch, &blockfetch.Block{Body: body})
		}
		b.send(cmd.Peer, protocol.ChannelBlockFetch, &blockfetch.BatchDone{})
	case CmdProvidePeers:
		b.send(cmd.Peer, protocol.ChannelPeerSharing, &peersharing.SharePeers{Addresses: cmd.Addresses})
	}
}

// Next pops the oldest queued output, if any.
func (b *ResponderBehavior) Next() (ResponderOutput, bool) {
	if len(b.outputs) == 0 {
		return ResponderOutput{}, false
	}
	o := b.outputs[0]
	b.outputs = b.outputs[1:]
	return o, true
}

func (b *ResponderBehavior) emitEvent(e ResponderEvent) {
	b.outputs = append(b.outputs, ResponderOutput{Event: &e})
}

func (b *ResponderBehavior) send(pid protocol.PeerID, ch protocol.ChannelID, msg protocol.Message) {
	cmd := InterfaceCommand{Peer: pid, Kind: CmdSend, Channel: ch, Message: msg}
	b.outputs = append(b.outputs, ResponderOutput{Command: &cmd})
}

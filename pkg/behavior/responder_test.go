package behavior

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/relay/pkg/protocol"
	"github.com/ouroboros-go/relay/pkg/protocol/blockfetch"
	"github.com/ouroboros-go/relay/pkg/protocol/chainsync"
	"github.com/ouroboros-go/relay/pkg/protocol/peersharing"
)

func drainResponderOutputs(b *ResponderBehavior) []ResponderOutput {
	var out []ResponderOutput
	for {
		o, ok := b.Next()
		if !ok {
			return out
		}
		out = append(out, o)
	}
}

func TestResponderIntersectionRequestAndProvide(t *testing.T) {
	b := NewResponderBehavior()
	p := pid(1)
	origin := protocol.NewOriginPoint()

	b.HandleEvent(InterfaceEvent{Peer: p, Kind: EvRecv, Message: &chainsync.FindIntersect{Points: []protocol.Point{origin}}})
	outs := drainResponderOutputs(b)
	require.Len(t, outs, 1)
	require.NotNil(t, outs[0].Event)
	require.Equal(t, EvIntersectionRequested, outs[0].Event.Kind)
	require.Equal(t, []protocol.Point{origin}, outs[0].Event.Points)

	b.HandleCommand(ResponderCommand{Kind: CmdProvideIntersection, Peer: p, Found: true, Point: origin})
	outs = drainResponderOutputs(b)
	require.Len(t, outs, 1)
	require.NotNil(t, outs[0].Command)
	found, ok := outs[0].Command.Message.(*chainsync.IntersectFound)
	require.True(t, ok)
	require.Equal(t, origin, found.Point)
}

func TestResponderIntersectionNotFound(t *testing.T) {
	b := NewResponderBehavior()
	p := pid(1)
	b.HandleCommand(ResponderCommand{Kind: CmdProvideIntersection, Peer: p, Found: false})
	outs := drainResponderOutputs(b)
	require.Len(t, outs, 1)
	_, ok := outs[0].Command.Message.(*chainsync.IntersectNotFound)
	require.True(t, ok)
}

func TestResponderNextHeaderRequestAndProvide(t *testing.T) {
	b := NewResponderBehavior()
	p := pid(1)

	b.HandleEvent(InterfaceEvent{Peer: p, Kind: EvRecv, Message: &chainsync.RequestNext{}})
	outs := drainResponderOutputs(b)
	require.Len(t, outs, 1)
	require.Equal(t, EvNextHeaderRequested, outs[0].Event.Kind)

	b.HandleCommand(ResponderCommand{Kind: CmdProvideHeader, Peer: p, Era: 6, Header: []byte{9, 9}})
	outs = drainResponderOutputs(b)
	require.Len(t, outs, 1)
	rf, ok := outs[0].Command.Message.(*chainsync.RollForward)
	require.True(t, ok)
	require.Equal(t, uint64(6), rf.Content.Era)
	require.Equal(t, []byte{9, 9}, rf.Content.HeaderBytes)
}

func TestResponderBlockRangeRequestAndProvide(t *testing.T) {
	b := NewResponderBehavior()
	p := pid(1)
	rng := blockfetch.Range{Start: protocol.NewOriginPoint(), End: protocol.NewOriginPoint()}

	b.HandleEvent(InterfaceEvent{Peer: p, Kind: EvRecv, Message: &blockfetch.RequestRange{Range: rng}})
	outs := drainResponderOutputs(b)
	require.Len(t, outs, 1)
	require.Equal(t, EvBlockRangeRequested, outs[0].Event.Kind)

	b.HandleCommand(ResponderCommand{Kind: CmdProvideBlocks, Peer: p, Bodies: [][]byte{{1}, {2}}})
	outs = drainResponderOutputs(b)
	require.Len(t, outs, 4)
	_, ok := outs[0].Command.Message.(*blockfetch.StartBatch)
	require.True(t, ok)
	blk1, ok := outs[1].Command.Message.(*blockfetch.Block)
	require.True(t, ok)
	require.Equal(t, []byte{1}, blk1.Body)
	blk2, ok := outs[2].Command.Message.(*blockfetch.Block)
	require.True(t, ok)
	require.Equal(t, []byte{2}, blk2.Body)
	_, ok = outs[3].Command.Message.(*blockfetch.BatchDone)
	require.True(t, ok)
}

func TestResponderBlockRangeEmptyProvidesNoBlocks(t *testing.T) {
	b := NewResponderBehavior()
	p := pid(1)
	b.HandleCommand(ResponderCommand{Kind: CmdProvideBlocks, Peer: p})
	outs := drainResponderOutputs(b)
	require.Len(t, outs, 1)
	_, ok := outs[0].Command.Message.(*blockfetch.NoBlocks)
	require.True(t, ok)
}

func TestResponderPeersRequestAndProvide(t *testing.T) {
	b := NewResponderBehavior()
	p := pid(1)

	b.HandleEvent(InterfaceEvent{Peer: p, Kind: EvRecv, Message: &peersharing.ShareRequest{Amount: 5}})
	outs := drainResponderOutputs(b)
	require.Len(t, outs, 1)
	require.Equal(t, EvPeersRequested, outs[0].Event.Kind)
	require.Equal(t, uint8(5), outs[0].Event.Amount)

	addr := protocol.NewPeerAddressV4(0x7f000001, 3001)
	b.HandleCommand(ResponderCommand{Kind: CmdProvidePeers, Peer: p, Addresses: []protocol.PeerAddress{addr}})
	outs = drainResponderOutputs(b)
	require.Len(t, outs, 1)
	sp, ok := outs[0].Command.Message.(*peersharing.SharePeers)
	require.True(t, ok)
	require.Equal(t, []protocol.PeerAddress{addr}, sp.Addresses)
}

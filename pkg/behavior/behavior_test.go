package behavior

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/relay/pkg/protocol"
	"github.com/ouroboros-go/relay/pkg/protocol/blockfetch"
	"github.com/ouroboros-go/relay/pkg/protocol/chainsync"
)

func drainOutputs(b *InitiatorBehavior) []Output {
	var out []Output
	for {
		o, ok := b.Next()
		if !ok {
			return out
		}
		out = append(out, o)
	}
}

func TestStartSyncIssuesFindIntersectToHotPeers(t *testing.T) {
	b := NewInitiatorBehavior(DefaultPromotionLimits())
	p := pid(1)
	b.HandleCommand(ExternalCommand{Kind: CmdIncludePeer, Peer: p})
	b.promotion.warm[p] = struct{}{}
	delete(b.promotion.cold, p)
	b.promotion.peers[p].Promotion = Warm
	b.HandleEvent(InterfaceEvent{Peer: p, Kind: EvHandshakeAccepted, Version: 13})
	drainOutputs(b) // discard PeerInitialized event from handshake acceptance
	b.promotion.hot[p] = struct{}{}
	delete(b.promotion.warm, p)

	origin := protocol.NewOriginPoint()
	b.HandleCommand(ExternalCommand{Kind: CmdStartSync, Points: []protocol.Point{origin}})

	outs := drainOutputs(b)
	require.Len(t, outs, 1)
	require.NotNil(t, outs[0].Command)
	fi, ok := outs[0].Command.Message.(*chainsync.FindIntersect)
	require.True(t, ok)
	require.Equal(t, []protocol.Point{origin}, fi.Points)
}

func TestBlockFetchDedup(t *testing.T) {
	b := NewInitiatorBehavior(DefaultPromotionLimits())
	p := pid(1)
	b.promotion.peers[p] = &PeerState{ID: p, Promotion: Hot}
	b.promotion.hot[p] = struct{}{}

	b.HandleCommand(ExternalCommand{Kind: CmdRequestBlocks, Start: protocol.NewOriginPoint(), End: protocol.NewOriginPoint()})
	outs := drainOutputs(b)
	require.Len(t, outs, 1)

	b.HandleEvent(InterfaceEvent{Peer: p, Kind: EvRecv, Message: &blockfetch.StartBatch{}})
	b.HandleEvent(InterfaceEvent{Peer: p, Kind: EvRecv, Message: &blockfetch.Block{Body: []byte{1, 2, 3}}})
	b.HandleEvent(InterfaceEvent{Peer: p, Kind: EvRecv, Message: &blockfetch.Block{Body: []byte{1, 2, 3}}})
	b.HandleEvent(InterfaceEvent{Peer: p, Kind: EvRecv, Message: &blockfetch.BatchDone{}})

	events := drainOutputs(b)
	bodyEvents := 0
	for _, o := range events {
		if o.Event != nil && o.Event.Kind == EvBlockBodyReceived {
			bodyEvents++
		}
	}
	require.Equal(t, 1, bodyEvents)
}

func TestViolationQueuesDisconnect(t *testing.T) {
	b := NewInitiatorBehavior(DefaultPromotionLimits())
	p := pid(1)
	b.promotion.peers[p] = &PeerState{ID: p, Promotion: Hot}
	b.promotion.hot[p] = struct{}{}

	b.HandleEvent(InterfaceEvent{Peer: p, Kind: EvError})
	b.HandleCommand(ExternalCommand{Kind: CmdHousekeeping})

	outs := drainOutputs(b)
	found := false
	for _, o := range outs {
		if o.Command != nil && o.Command.Kind == CmdDisconnect && o.Command.Peer == p {
			found = true
		}
	}
	require.True(t, found)
	require.Contains(t, b.promotion.banned, p)
}

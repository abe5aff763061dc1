package emulation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/relay/pkg/behavior"
	"github.com/ouroboros-go/relay/pkg/manager"
	"github.com/ouroboros-go/relay/pkg/protocol"
	"github.com/ouroboros-go/relay/pkg/protocol/chainsync"
)

func TestPeerRepliesToFindIntersect(t *testing.T) {
	p := NewPeer([]ReplyRule{
		{
			Match: func(cmd behavior.InterfaceCommand) bool {
				_, ok := cmd.Message.(*chainsync.FindIntersect)
				return ok
			},
			Reply: func(cmd behavior.InterfaceCommand) []behavior.InterfaceEvent {
				return []behavior.InterfaceEvent{{
					Peer:    cmd.Peer,
					Kind:    behavior.EvRecv,
					Message: &chainsync.IntersectFound{Point: protocol.NewOriginPoint()},
				}}
			},
			MaxJitter: 10 * time.Millisecond,
		},
	})
	defer p.Close()

	pid := protocol.NewPeerID("10.0.0.1", 3001)
	require.NoError(t, p.Dispatch(context.Background(), behavior.InterfaceCommand{
		Peer: pid, Kind: behavior.CmdSend, Message: &chainsync.FindIntersect{Points: []protocol.Point{protocol.NewOriginPoint()}},
	}))

	select {
	case evt := <-p.Events():
		require.Equal(t, behavior.EvRecv, evt.Kind)
		_, ok := evt.Message.(*chainsync.IntersectFound)
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("no reply received")
	}
}

func TestPeerUnmatchedCommandIsSilentlyDropped(t *testing.T) {
	p := NewPeer(nil)
	defer p.Close()
	require.NoError(t, p.Dispatch(context.Background(), behavior.InterfaceCommand{Kind: behavior.CmdConnect}))
	select {
	case <-p.Events():
		t.Fatal("expected no event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPeerCloseReleasesPendingDelivery(t *testing.T) {
	p := NewPeer([]ReplyRule{{
		Match: func(cmd behavior.InterfaceCommand) bool { return true },
		Reply: func(cmd behavior.InterfaceCommand) []behavior.InterfaceEvent {
			return []behavior.InterfaceEvent{{Kind: behavior.EvIdle}}
		},
		MaxJitter: time.Hour,
	}})
	require.NoError(t, p.Dispatch(context.Background(), behavior.InterfaceCommand{Kind: behavior.CmdConnect}))

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not release pending delivery")
	}
}

// Integration: InitiatorManager driving housekeeping and chain-sync
// against an emulated hot peer, matching S8's "ContinueSync issued
// while Idle produces a RequestNext within one housekeeping tick".
func TestManagerDrivesSyncAgainstEmulatedPeer(t *testing.T) {
	pid := protocol.NewPeerID("10.0.0.1", 3001)

	peer := NewPeer([]ReplyRule{
		{
			Match: func(cmd behavior.InterfaceCommand) bool {
				_, ok := cmd.Message.(*chainsync.FindIntersect)
				return ok
			},
			Reply: func(cmd behavior.InterfaceCommand) []behavior.InterfaceEvent {
				return []behavior.InterfaceEvent{{
					Peer: cmd.Peer, Kind: behavior.EvRecv,
					Message: &chainsync.IntersectFound{Point: protocol.NewOriginPoint()},
				}}
			},
		},
		{
			Match: func(cmd behavior.InterfaceCommand) bool {
				_, ok := cmd.Message.(*chainsync.RequestNext)
				return ok
			},
			Reply: func(cmd behavior.InterfaceCommand) []behavior.InterfaceEvent {
				return []behavior.InterfaceEvent{{
					Peer: cmd.Peer, Kind: behavior.EvRecv,
					Message: &chainsync.RollForward{Content: chainsync.HeaderContent{Era: 6, HeaderBytes: []byte{1}}},
				}}
			},
		},
	})
	defer peer.Close()

	b := behavior.NewInitiatorBehavior(behavior.DefaultPromotionLimits())
	m := manager.NewInitiatorManager(peer, b, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, m.Submit(ctx, behavior.ExternalCommand{Kind: behavior.CmdIncludePeer, Peer: pid}))
	require.NoError(t, m.Submit(ctx, behavior.ExternalCommand{Kind: behavior.CmdHousekeeping}))
	peer.Inject(behavior.InterfaceEvent{Peer: pid, Kind: behavior.EvHandshakeAccepted, Version: 13})

	evt, err := m.PollNext(ctx)
	require.NoError(t, err)
	require.Equal(t, behavior.EvPeerInitialized, evt.Kind)

	require.NoError(t, m.Submit(ctx, behavior.ExternalCommand{Kind: behavior.CmdStartSync, Points: []protocol.Point{protocol.NewOriginPoint()}}))
	require.NoError(t, m.Submit(ctx, behavior.ExternalCommand{Kind: behavior.CmdHousekeeping}))

	evt, err = m.PollNext(ctx)
	require.NoError(t, err)
	require.Equal(t, behavior.EvIntersectionFound, evt.Kind)

	require.NoError(t, m.Submit(ctx, behavior.ExternalCommand{Kind: behavior.CmdContinueSync, Peer: pid}))
	evt, err = m.PollNext(ctx)
	require.NoError(t, err)
	require.Equal(t, behavior.EvBlockHeaderReceived, evt.Kind)
	require.Equal(t, []byte{1}, evt.Header)
}

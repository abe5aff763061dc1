package session

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/relay/pkg/behavior"
	"github.com/ouroboros-go/relay/pkg/ouroconfig"
	"github.com/ouroboros-go/relay/pkg/protocol"
	"github.com/ouroboros-go/relay/pkg/protocol/chainsync"
	"github.com/ouroboros-go/relay/pkg/protocol/keepalive"
)

func testConfig(addr string) ouroconfig.NodeConfiguration {
	cfg := ouroconfig.Default()
	cfg.ListenAddr = addr
	cfg.NetworkMagic = 764824073
	cfg.DialTimeout = 2 * time.Second
	return cfg
}

func freeAddr(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestDialAndAcceptNegotiate(t *testing.T) {
	addr := freeAddr(t)
	cfg := testConfig(addr)

	ln, err := Listen(cfg, nil)
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan *ResponderSession, 1)
	go func() {
		s, err := ln.Accept(context.Background())
		require.NoError(t, err)
		serverDone <- s
	}()

	peer := protocol.NewPeerID("127.0.0.1", addrPort(t, addr))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := DialInitiator(ctx, cfg, peer, nil)
	require.NoError(t, err)
	defer client.Close()

	var server *ResponderSession
	select {
	case server = <-serverDone:
	case <-time.After(3 * time.Second):
		t.Fatal("responder never accepted")
	}
	defer server.Close()

	var gotConnected, gotAccepted bool
	for i := 0; i < 2; i++ {
		select {
		case evt := <-client.Events():
			switch evt.Kind {
			case behavior.EvConnected:
				gotConnected = true
			case behavior.EvHandshakeAccepted:
				gotAccepted = true
				require.GreaterOrEqual(t, evt.Version, cfg.N2NMinVersion)
			}
		case <-time.After(time.Second):
			t.Fatal("client never received handshake events")
		}
	}
	require.True(t, gotConnected)
	require.True(t, gotAccepted)

	gotConnected, gotAccepted = false, false
	for i := 0; i < 2; i++ {
		select {
		case evt := <-server.Events():
			switch evt.Kind {
			case behavior.EvConnected:
				gotConnected = true
			case behavior.EvHandshakeAccepted:
				gotAccepted = true
			}
		case <-time.After(time.Second):
			t.Fatal("server never received handshake events")
		}
	}
	require.True(t, gotConnected)
	require.True(t, gotAccepted)
}

func TestDispatchSendRoundTrip(t *testing.T) {
	addr := freeAddr(t)
	cfg := testConfig(addr)

	ln, err := Listen(cfg, nil)
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan *ResponderSession, 1)
	go func() {
		s, err := ln.Accept(context.Background())
		require.NoError(t, err)
		serverDone <- s
	}()

	peer := protocol.NewPeerID("127.0.0.1", addrPort(t, addr))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := DialInitiator(ctx, cfg, peer, nil)
	require.NoError(t, err)
	defer client.Close()

	var server *ResponderSession
	select {
	case server = <-serverDone:
	case <-time.After(3 * time.Second):
		t.Fatal("responder never accepted")
	}
	defer server.Close()

	drainHandshakeEvents(t, client)
	drainHandshakeEvents(t, server)

	origin := protocol.NewOriginPoint()
	err = client.Dispatch(ctx, behavior.InterfaceCommand{
		Peer: peer, Kind: behavior.CmdSend, Channel: protocol.ChannelChainSync,
		Message: &chainsync.FindIntersect{Points: []protocol.Point{origin}},
	})
	require.NoError(t, err)

	select {
	case evt := <-server.Events():
		require.Equal(t, behavior.EvRecv, evt.Kind)
		fi, ok := evt.Message.(*chainsync.FindIntersect)
		require.True(t, ok)
		require.Equal(t, []protocol.Point{origin}, fi.Points)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received FindIntersect")
	}
}

func TestKeepAlivePingIsEchoedWithoutReachingEvents(t *testing.T) {
	addr := freeAddr(t)
	cfg := testConfig(addr)

	ln, err := Listen(cfg, nil)
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan *ResponderSession, 1)
	go func() {
		s, err := ln.Accept(context.Background())
		require.NoError(t, err)
		serverDone <- s
	}()

	peer := protocol.NewPeerID("127.0.0.1", addrPort(t, addr))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := DialInitiator(ctx, cfg, peer, nil)
	require.NoError(t, err)
	defer client.Close()

	var server *ResponderSession
	select {
	case server = <-serverDone:
	case <-time.After(3 * time.Second):
		t.Fatal("responder never accepted")
	}
	defer server.Close()

	drainHandshakeEvents(t, client)
	drainHandshakeEvents(t, server)

	require.NoError(t, client.SendKeepAlive(ctx, keepalive.Cookie(42)))

	select {
	case evt := <-server.Events():
		t.Fatalf("keep-alive ping should not reach responder events, got %+v", evt)
	case <-client.Events():
		t.Fatal("keep-alive pong should not reach initiator events")
	case <-time.After(300 * time.Millisecond):
	}
}

// TestDoubleRequestNextSurfacesAsAgencyViolation simulates a peer that
// ignores chain-sync agency and sends RequestNext twice in a row,
// bypassing Dispatch's own CheckOutbound guard the way a misbehaving
// remote implementation would (Dispatch would refuse the second send
// locally, so the only way to exercise the receiving side's Apply
// check is to write the raw wire messages directly). The responder's
// pump must turn the second message into EvError, not EvRecv.
func TestDoubleRequestNextSurfacesAsAgencyViolation(t *testing.T) {
	addr := freeAddr(t)
	cfg := testConfig(addr)

	ln, err := Listen(cfg, nil)
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan *ResponderSession, 1)
	go func() {
		s, err := ln.Accept(context.Background())
		require.NoError(t, err)
		serverDone <- s
	}()

	peer := protocol.NewPeerID("127.0.0.1", addrPort(t, addr))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := DialInitiator(ctx, cfg, peer, nil)
	require.NoError(t, err)
	defer client.Close()

	var server *ResponderSession
	select {
	case server = <-serverDone:
	case <-time.After(3 * time.Second):
		t.Fatal("responder never accepted")
	}
	defer server.Close()

	drainHandshakeEvents(t, client)
	drainHandshakeEvents(t, server)

	handle, ok := client.channels[protocol.ChannelChainSync]
	require.True(t, ok)

	encoded, err := protocol.Encode(&chainsync.RequestNext{})
	require.NoError(t, err)
	require.NoError(t, handle.Send(ctx, encoded))
	require.NoError(t, handle.Send(ctx, encoded))

	var gotRecv, gotError bool
	for i := 0; i < 2; i++ {
		select {
		case evt := <-server.Events():
			switch evt.Kind {
			case behavior.EvRecv:
				gotRecv = true
			case behavior.EvError:
				gotError = true
				require.Error(t, evt.Err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("server never reported both RequestNext deliveries")
		}
	}
	require.True(t, gotRecv, "first RequestNext should reach behavior as EvRecv")
	require.True(t, gotError, "second RequestNext should surface as EvError")
}

func drainHandshakeEvents(t *testing.T, iface interface {
	Events() <-chan behavior.InterfaceEvent
}) {
	t.Helper()
	for i := 0; i < 2; i++ {
		select {
		case <-iface.Events():
		case <-time.After(time.Second):
			t.Fatal("expected handshake lifecycle events")
		}
	}
}

func addrPort(t *testing.T, addr string) uint16 {
	t.Helper()
	_, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return uint16(port)
}

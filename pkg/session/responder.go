package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ouroboros-go/relay/pkg/bearer"
	"github.com/ouroboros-go/relay/pkg/behavior"
	"github.com/ouroboros-go/relay/pkg/ouroconfig"
	"github.com/ouroboros-go/relay/pkg/plexer"
	"github.com/ouroboros-go/relay/pkg/protocol"
	"github.com/ouroboros-go/relay/pkg/protocol/handshake"
	"github.com/ouroboros-go/relay/pkg/protocol/keepalive"
)

// responderChannels lists every mini-protocol channel a responder
// session keeps open after accepting a handshake.
var responderChannels = []protocol.ChannelID{
	protocol.ChannelKeepAlive,
	protocol.ChannelPeerSharing,
	protocol.ChannelChainSync,
	protocol.ChannelBlockFetch,
}

// ResponderSession owns one accepted TCP connection and implements
// manager.Interface for the responder side, mirroring InitiatorSession.
type ResponderSession struct {
	peer     protocol.PeerID
	bearer   *bearer.Bearer
	plexer   *plexer.Plexer
	channels map[protocol.ChannelID]*plexer.ChannelHandle
	machines map[protocol.ChannelID]protocol.AgencyMachine
	events   chan behavior.InterfaceEvent
	log      *zap.Logger
	cancel   context.CancelFunc
	closed   *atomic.Bool
}

// Listener accepts inbound connections, rejecting any beyond
// MaxConnectionsPerSourceAddr from the same source address, and
// completes the responder side of the handshake before handing back a
// ready ResponderSession.
type Listener struct {
	cfg ouroconfig.NodeConfiguration
	ln  net.Listener
	log *zap.Logger

	mu        sync.Mutex
	perSource map[string]int
}

// Listen opens cfg.ListenAddr for inbound peers.
func Listen(cfg ouroconfig.NodeConfiguration, log *zap.Logger) (*Listener, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ln, err := bearer.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("session: listen %s: %w", cfg.ListenAddr, err)
	}
	return &Listener{cfg: cfg, ln: ln, log: log, perSource: make(map[string]int)}, nil
}

// Accept blocks for the next inbound connection, enforces the
// per-source-address cap, and runs the responder handshake to
// completion before returning a session.
func (l *Listener) Accept(ctx context.Context) (*ResponderSession, error) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return nil, fmt.Errorf("session: accept: %w", err)
		}
		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

		l.mu.Lock()
		count := l.perSource[host]
		if count >= l.cfg.MaxConnectionsPerSourceAddr {
			l.mu.Unlock()
			l.log.Warn("rejecting connection, source over limit", zap.String("source", host))
			_ = conn.Close()
			continue
		}
		l.perSource[host]++
		l.mu.Unlock()

		s, err := acceptResponder(ctx, conn, l.cfg, l.log, func() { l.release(host) })
		if err != nil {
			l.release(host)
			l.log.Warn("handshake failed", zap.String("source", host), zap.Error(err))
			continue
		}
		return s, nil
	}
}

func (l *Listener) release(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.perSource[host] > 0 {
		l.perSource[host]--
	}
	if l.perSource[host] == 0 {
		delete(l.perSource, host)
	}
}

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

func acceptResponder(ctx context.Context, conn net.Conn, cfg ouroconfig.NodeConfiguration, log *zap.Logger, onClose func()) (*ResponderSession, error) {
	host, portStr, _ := net.SplitHostPort(conn.RemoteAddr().String())
	portNum, _ := strconv.Atoi(portStr)
	peer := protocol.NewPeerID(host, uint16(portNum))

	log = log.With(zap.String("session_id", uuid.New().String()), zap.String("peer", peer.String()))

	b := bearer.NewFromConn(conn)
	px := plexer.New(b, log)

	s := &ResponderSession{
		peer:     peer,
		bearer:   b,
		plexer:   px,
		channels: make(map[protocol.ChannelID]*plexer.ChannelHandle),
		machines: make(map[protocol.ChannelID]protocol.AgencyMachine),
		events:   make(chan behavior.InterfaceEvent, eventQueueDepth),
		log:      log,
		closed:   atomic.NewBool(false),
	}

	handshakeHandle := px.Subscribe(protocol.ChannelHandshake, true, handshake.NewN2NDecoder())
	for _, id := range responderChannels {
		s.channels[id] = px.Subscribe(id, true, decoderFor(id))
		s.machines[id] = machineFor(id)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		err := px.Run(runCtx)
		if onClose != nil {
			onClose()
		}
		s.events <- behavior.InterfaceEvent{Peer: peer, Kind: behavior.EvDisconnected, Err: err}
	}()

	version, err := acceptN2N(ctx, handshakeHandle, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.channels[protocol.ChannelHandshake] = handshakeHandle
	for id, handle := range s.channels {
		if id == protocol.ChannelHandshake {
			continue
		}
		go s.pump(runCtx, id, handle)
	}

	s.events <- behavior.InterfaceEvent{Peer: peer, Kind: behavior.EvConnected}
	s.events <- behavior.InterfaceEvent{Peer: peer, Kind: behavior.EvHandshakeAccepted, Version: version}
	return s, nil
}

func acceptN2N(ctx context.Context, handle *plexer.ChannelHandle, cfg ouroconfig.NodeConfiguration) (uint64, error) {
	msg, err := handle.Recv(ctx)
	if err != nil {
		return 0, fmt.Errorf("session: recv Propose: %w", err)
	}
	propose, ok := msg.(*handshake.ProposeN2N)
	if !ok {
		return 0, fmt.Errorf("session: expected Propose, got %T", msg)
	}

	local := make(handshake.N2NVersionTable)
	for v := cfg.N2NMinVersion; v <= cfg.N2NMaxVersion; v++ {
		local[handshake.VersionNumber(v)] = handshake.NewN2NVersionData(handshake.VersionNumber(v), cfg.NetworkMagic, true, 0, false)
	}

	accept, refuse := handshake.NegotiateN2N(local, propose.Table)
	if accept != nil {
		encoded, err := protocol.Encode(accept)
		if err != nil {
			return 0, err
		}
		if err := handle.Send(ctx, encoded); err != nil {
			return 0, err
		}
		return uint64(accept.Version), nil
	}

	encoded, err := protocol.Encode(refuse)
	if err != nil {
		return 0, err
	}
	_ = handle.Send(ctx, encoded)
	return 0, fmt.Errorf("session: refused inbound proposal: %+v", refuse.Reason)
}

// pump forwards decoded messages as EvRecv, except keep-alive pings on
// the keep-alive channel, which it echoes back as a pong directly:
// that round trip is transport plumbing and never reaches the
// responder behavior. Every message, including the echoed ping/pong,
// is run through the channel's Machine: the peer's side here is
// Initiator, since this is the responder session. A message the peer
// had no agency to send surfaces as EvError instead of EvRecv so the
// behavior layer's violation handling actually sees it.
func (s *ResponderSession) pump(ctx context.Context, id protocol.ChannelID, handle *plexer.ChannelHandle) {
	m := s.machines[id]
	for {
		msg, err := handle.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Debug("channel pump stopped", zap.Uint16("channel", uint16(id)), zap.Error(err))
			}
			return
		}
		if m != nil {
			if err := m.Apply(msg, protocol.Initiator); err != nil {
				s.log.Warn("agency violation", zap.Uint16("channel", uint16(id)), zap.Error(err))
				select {
				case s.events <- (behavior.InterfaceEvent{Peer: s.peer, Kind: behavior.EvError, Message: msg, Err: err}):
				case <-ctx.Done():
					return
				}
				continue
			}
		}
		if id == protocol.ChannelKeepAlive {
			if ping, ok := msg.(*keepalive.KeepAlive); ok {
				pong := &keepalive.ResponseKeepAlive{Cookie: ping.Cookie}
				if err := checkAndApplyOutbound(m, pong, protocol.Responder); err != nil {
					s.log.Warn("keep-alive echo rejected by machine", zap.Error(err))
					continue
				}
				encoded, err := protocol.Encode(pong)
				if err == nil {
					_ = handle.Send(ctx, encoded)
				}
				continue
			}
		}
		select {
		case s.events <- behavior.InterfaceEvent{Peer: s.peer, Kind: behavior.EvRecv, Message: msg}:
		case <-ctx.Done():
			return
		}
	}
}

// Dispatch implements manager.Interface.
func (s *ResponderSession) Dispatch(ctx context.Context, cmd behavior.InterfaceCommand) error {
	if s.closed.Load() {
		return fmt.Errorf("session: peer %s: session closed", s.peer)
	}
	switch cmd.Kind {
	case behavior.CmdConnect:
		return nil
	case behavior.CmdDisconnect:
		s.Close()
		return nil
	case behavior.CmdSend:
		handle, ok := s.channels[cmd.Channel]
		if !ok {
			return fmt.Errorf("session: peer %s: no channel %d open", s.peer, cmd.Channel)
		}
		if err := checkAndApplyOutbound(s.machines[cmd.Channel], cmd.Message, protocol.Responder); err != nil {
			return fmt.Errorf("session: peer %s: outbound channel %d: %w", s.peer, cmd.Channel, err)
		}
		encoded, err := protocol.Encode(cmd.Message)
		if err != nil {
			return fmt.Errorf("session: encode channel %d message: %w", cmd.Channel, err)
		}
		if err := handle.Send(ctx, encoded); err != nil {
			return fmt.Errorf("session: send on channel %d: %w", cmd.Channel, err)
		}
		return nil
	default:
		return fmt.Errorf("session: unknown interface command %d", cmd.Kind)
	}
}

// Events implements manager.Interface.
func (s *ResponderSession) Events() <-chan behavior.InterfaceEvent { return s.events }

// Peer reports the remote peer identity.
func (s *ResponderSession) Peer() protocol.PeerID { return s.peer }

// Close tears down the plexer and underlying connection. Safe to call
// more than once; only the first call has any effect.
func (s *ResponderSession) Close() {
	if s.closed.Swap(true) {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.plexer.Close()
}

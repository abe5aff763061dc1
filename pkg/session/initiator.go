// Package session wires the plexer and bearer layers into the
// manager.Interface boundary, so a Manager can drive a real peer
// connection the same way it drives an emulated one.
package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ouroboros-go/relay/pkg/bearer"
	"github.com/ouroboros-go/relay/pkg/behavior"
	"github.com/ouroboros-go/relay/pkg/ouroconfig"
	"github.com/ouroboros-go/relay/pkg/plexer"
	"github.com/ouroboros-go/relay/pkg/protocol"
	"github.com/ouroboros-go/relay/pkg/protocol/blockfetch"
	"github.com/ouroboros-go/relay/pkg/protocol/chainsync"
	"github.com/ouroboros-go/relay/pkg/protocol/handshake"
	"github.com/ouroboros-go/relay/pkg/protocol/keepalive"
	"github.com/ouroboros-go/relay/pkg/protocol/peersharing"
)

const eventQueueDepth = 64

// initiatorChannels lists every mini-protocol channel an initiator
// session keeps open after a successful handshake.
var initiatorChannels = []protocol.ChannelID{
	protocol.ChannelKeepAlive,
	protocol.ChannelPeerSharing,
	protocol.ChannelChainSync,
	protocol.ChannelBlockFetch,
}

// InitiatorSession owns one outbound TCP connection and implements
// manager.Interface for it: Dispatch encodes and sends an
// InterfaceCommand on the right channel, Events surfaces inbound
// messages and connection lifecycle as InterfaceEvents.
type InitiatorSession struct {
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

// DialInitiator connects to peer, runs version negotiation to
// completion, and returns a session ready to be handed to a
// manager.InitiatorManager. The returned session has already pushed
// an EvHandshakeAccepted event onto its Events channel.
func DialInitiator(ctx context.Context, cfg ouroconfig.NodeConfiguration, peer protocol.PeerID, log *zap.Logger) (*InitiatorSession, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("session_id", uuid.New().String()), zap.String("peer", peer.String()))

	b, err := bearer.Dial(ctx, "tcp", peer.String(), cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("session: dial %s: %w", peer, err)
	}

	px := plexer.New(b, log)
	s := &InitiatorSession{
		peer:     peer,
		bearer:   b,
		plexer:   px,
		channels: make(map[protocol.ChannelID]*plexer.ChannelHandle),
		machines: make(map[protocol.ChannelID]protocol.AgencyMachine),
		events:   make(chan behavior.InterfaceEvent, eventQueueDepth),
		log:      log,
		closed:   atomic.NewBool(false),
	}

	handshakeHandle := px.Subscribe(protocol.ChannelHandshake, false, handshake.NewN2NDecoder())
	for _, id := range initiatorChannels {
		s.channels[id] = px.Subscribe(id, false, decoderFor(id))
		s.machines[id] = machineFor(id)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		err := px.Run(runCtx)
		s.events <- behavior.InterfaceEvent{Peer: peer, Kind: behavior.EvDisconnected, Err: err}
	}()

	version, err := negotiateN2N(ctx, handshakeHandle, cfg)
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

func decoderFor(id protocol.ChannelID) protocol.Decoder {
	switch id {
	case protocol.ChannelKeepAlive:
		return keepalive.NewDecoder()
	case protocol.ChannelPeerSharing:
		return peersharing.NewDecoder()
	case protocol.ChannelChainSync:
		return chainsync.NewDecoder()
	case protocol.ChannelBlockFetch:
		return blockfetch.NewDecoder()
	default:
		panic(fmt.Sprintf("session: no decoder registered for channel %d", id))
	}
}

func negotiateN2N(ctx context.Context, handle *plexer.ChannelHandle, cfg ouroconfig.NodeConfiguration) (uint64, error) {
	table := make(handshake.N2NVersionTable)
	for v := cfg.N2NMinVersion; v <= cfg.N2NMaxVersion; v++ {
		table[handshake.VersionNumber(v)] = handshake.NewN2NVersionData(handshake.VersionNumber(v), cfg.NetworkMagic, true, 0, false)
	}

	propose := &handshake.ProposeN2N{Table: table}
	encoded, err := protocol.Encode(propose)
	if err != nil {
		return 0, fmt.Errorf("session: encode Propose: %w", err)
	}
	if err := handle.Send(ctx, encoded); err != nil {
		return 0, fmt.Errorf("session: send Propose: %w", err)
	}

	msg, err := handle.Recv(ctx)
	if err != nil {
		return 0, fmt.Errorf("session: recv handshake reply: %w", err)
	}
	switch m := msg.(type) {
	case *handshake.AcceptN2N:
		return uint64(m.Version), nil
	case *handshake.RefuseN2N:
		return 0, fmt.Errorf("session: handshake refused: %+v", m.Reason)
	default:
		return 0, fmt.Errorf("session: unexpected handshake reply %T", msg)
	}
}

// pump forwards every message decoded off one channel as an EvRecv
// InterfaceEvent, until the channel reports a fatal error or ctx ends.
// Keep-alive pongs are swallowed here rather than forwarded: they are
// transport plumbing the behavior layer never needs to see. Every
// other message is first run through the channel's Machine as the
// peer's side (Responder, since this is the initiator session): a
// message the peer had no agency to send, or that doesn't fit the
// channel's current state, surfaces as EvError instead of EvRecv so
// the behavior layer's violation handling actually sees it.
func (s *InitiatorSession) pump(ctx context.Context, id protocol.ChannelID, handle *plexer.ChannelHandle) {
	m := s.machines[id]
	for {
		msg, err := handle.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Debug("channel pump stopped", zap.Uint16("channel", uint16(id)), zap.Error(err))
			}
			return
		}
		var applyErr error
		if m != nil {
			applyErr = m.Apply(msg, protocol.Responder)
			if applyErr != nil {
				s.log.Warn("agency violation", zap.Uint16("channel", uint16(id)), zap.Error(applyErr))
			}
		}
		if id == protocol.ChannelKeepAlive && applyErr == nil {
			if pong, ok := msg.(*keepalive.ResponseKeepAlive); ok {
				s.log.Debug("keep-alive pong", zap.Uint16("cookie", uint16(pong.Cookie)))
				continue
			}
		}
		evt := behavior.InterfaceEvent{Peer: s.peer, Kind: behavior.EvRecv, Message: msg}
		if applyErr != nil {
			evt = behavior.InterfaceEvent{Peer: s.peer, Kind: behavior.EvError, Message: msg, Err: applyErr}
		}
		select {
		case s.events <- evt:
		case <-ctx.Done():
			return
		}
	}
}

// Dispatch implements manager.Interface.
func (s *InitiatorSession) Dispatch(ctx context.Context, cmd behavior.InterfaceCommand) error {
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
		if err := checkAndApplyOutbound(s.machines[cmd.Channel], cmd.Message, protocol.Initiator); err != nil {
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
func (s *InitiatorSession) Events() <-chan behavior.InterfaceEvent { return s.events }

// Close tears down the plexer and underlying connection. Safe to call
// more than once; only the first call has any effect.
func (s *InitiatorSession) Close() {
	if s.closed.Swap(true) {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.plexer.Close()
}

// SendKeepAlive is a convenience used by a housekeeping timer loop
// (the caller owns scheduling; the session just encodes and sends). It
// goes through the same agency check and machine advance as a
// CmdSend dispatched through Dispatch, so the keep-alive round trip
// and the chain-sync/block-fetch traffic share one consistent view of
// the channel's state.
func (s *InitiatorSession) SendKeepAlive(ctx context.Context, cookie keepalive.Cookie) error {
	handle, ok := s.channels[protocol.ChannelKeepAlive]
	if !ok {
		return fmt.Errorf("session: keep-alive channel not open")
	}
	ping := &keepalive.KeepAlive{Cookie: cookie}
	if err := checkAndApplyOutbound(s.machines[protocol.ChannelKeepAlive], ping, protocol.Initiator); err != nil {
		return fmt.Errorf("session: keep-alive: %w", err)
	}
	encoded, err := protocol.Encode(ping)
	if err != nil {
		return err
	}
	return handle.Send(ctx, encoded)
}

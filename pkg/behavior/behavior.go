package behavior

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ouroboros-go/relay/pkg/protocol"
	"github.com/ouroboros-go/relay/pkg/protocol/blockfetch"
	"github.com/ouroboros-go/relay/pkg/protocol/chainsync"
)

const downloadedBlocksCacheSize = 4096

// InitiatorBehavior is the initiator-side behavior state machine:
// promotion policy, chain-sync orchestration, and block-fetch
// scheduling, driven entirely by HandleCommand/HandleEvent and
// drained via Next.
type InitiatorBehavior struct {
	promotion *promotionTable

	intersect       []protocol.Point
	fetchInProgress bool
	fetchPeer       protocol.PeerID
	fetchBodies     [][]byte

	downloaded *lru.Cache[string, struct{}]

	outputs []Output
}

// NewInitiatorBehavior builds a fresh behavior with the given
// promotion tier limits.
func NewInitiatorBehavior(limits PromotionLimits) *InitiatorBehavior {
	cache, _ := lru.New[string, struct{}](downloadedBlocksCacheSize)
	return &InitiatorBehavior{
		promotion:  newPromotionTable(limits),
		downloaded: cache,
	}
}

// HandleCommand applies one consumer command, queuing whatever
// outputs it produces.
func (b *InitiatorBehavior) HandleCommand(cmd ExternalCommand) {
	switch cmd.Kind {
	case CmdIncludePeer:
		b.promotion.includePeer(cmd.Peer)
	case CmdStartSync:
		b.intersect = cmd.Points
		b.issueFindIntersect()
	case CmdContinueSync:
		if st, ok := b.promotion.peers[cmd.Peer]; ok {
			st.ContinueSync = true
		}
		b.issueContinueSync(cmd.Peer)
	case CmdRequestBlocks:
		b.startBlockFetch(cmd.Start, cmd.End)
	case CmdHousekeeping:
		for _, c := range b.promotion.housekeeping() {
			b.emitCommand(c)
		}
		b.issueFindIntersect()
	}
}

// HandleEvent applies one interface event, queuing whatever outputs
// it produces.
func (b *InitiatorBehavior) HandleEvent(evt InterfaceEvent) {
	switch evt.Kind {
	case EvConnected:
		// handshake completion arrives separately as
		// EvHandshakeAccepted, not here; Connected only means the
		// bearer is up.
	case EvDisconnected:
		b.promotion.markDisconnected(evt.Peer)
	case EvError:
		b.promotion.flagViolation(evt.Peer)
	case EvRecv:
		b.handleRecv(evt.Peer, evt.Message)
	case EvHandshakeAccepted:
		b.markPeerInitialized(evt.Peer, evt.Version)
	case EvSent, EvIdle:
	}
}

// Next pops the oldest queued output, if any.
func (b *InitiatorBehavior) Next() (Output, bool) {
	if len(b.outputs) == 0 {
		return Output{}, false
	}
	o := b.outputs[0]
	b.outputs = b.outputs[1:]
	return o, true
}

func (b *InitiatorBehavior) emitCommand(c InterfaceCommand) { b.outputs = append(b.outputs, Output{Command: &c}) }
func (b *InitiatorBehavior) emitEvent(e ExternalEvent)      { b.outputs = append(b.outputs, Output{Event: &e}) }

// markPeerInitialized applies an EvHandshakeAccepted event: it is the
// only path that moves a peer's connection state to Initialized,
// kept internal so all mutation happens inside HandleEvent on the
// single task driving the manager's poll loop.
func (b *InitiatorBehavior) markPeerInitialized(pid protocol.PeerID, version uint64) {
	b.promotion.markInitialized(pid, version)
	b.emitEvent(ExternalEvent{Kind: EvPeerInitialized, Peer: pid, Version: version})
	b.issueFindIntersect()
}

func (b *InitiatorBehavior) issueFindIntersect() {
	if len(b.intersect) == 0 {
		return
	}
	for _, pid := range b.promotion.hotPeers() {
		st := b.promotion.peers[pid]
		if st.ChainSync != chainsync.StateIdle {
			continue
		}
		if len(st.LastIntersect) > 0 {
			continue
		}
		st.LastIntersect = b.intersect
		b.emitCommand(InterfaceCommand{
			Peer:    pid,
			Kind:    CmdSend,
			Channel: protocol.ChannelChainSync,
			Message: &chainsync.FindIntersect{Points: b.intersect},
		})
	}
}

func (b *InitiatorBehavior) issueContinueSync(pid protocol.PeerID) {
	st, ok := b.promotion.peers[pid]
	if !ok || !st.ContinueSync || st.ChainSync != chainsync.StateIdle {
		return
	}
	b.emitCommand(InterfaceCommand{
		Peer:    pid,
		Kind:    CmdSend,
		Channel: protocol.ChannelChainSync,
		Message: &chainsync.RequestNext{},
	})
}

func (b *InitiatorBehavior) handleRecv(pid protocol.PeerID, msg protocol.Message) {
	st, ok := b.promotion.peers[pid]
	if !ok {
		return
	}
	switch m := msg.(type) {
	case *chainsync.IntersectFound:
		st.ChainSync = chainsync.StateIdle
		b.emitEvent(ExternalEvent{Kind: EvIntersectionFound, Peer: pid, Point: m.Point, Tip: m.Tip})
	case *chainsync.IntersectNotFound:
		st.ChainSync = chainsync.StateIdle
	case *chainsync.RollForward:
		st.ChainSync = chainsync.StateIdle
		st.ContinueSync = false
		b.emitEvent(ExternalEvent{Kind: EvBlockHeaderReceived, Peer: pid, Header: m.Content.HeaderBytes, Tip: m.Tip})
	case *chainsync.RollBackward:
		st.ChainSync = chainsync.StateIdle
		st.ContinueSync = false
		b.emitEvent(ExternalEvent{Kind: EvRollbackReceived, Peer: pid, Point: m.Point, Tip: m.Tip})
	case *blockfetch.NoBlocks:
		b.fetchInProgress = false
	case *blockfetch.StartBatch:
		// streaming begins; nothing to emit yet.
	case *blockfetch.Block:
		b.handleBlockBody(pid, m.Body)
	case *blockfetch.BatchDone:
		b.fetchInProgress = false
		b.fetchBodies = nil
	}
}

func (b *InitiatorBehavior) handleBlockBody(pid protocol.PeerID, body []byte) {
	key := string(body)
	if _, dup := b.downloaded.Get(key); dup {
		return
	}
	b.downloaded.Add(key, struct{}{})
	b.fetchBodies = append(b.fetchBodies, body)
	b.emitEvent(ExternalEvent{Kind: EvBlockBodyReceived, Peer: pid, Body: body})
}

func (b *InitiatorBehavior) startBlockFetch(start, end protocol.Point) {
	if b.fetchInProgress {
		return
	}
	hot := b.promotion.hotPeers()
	if len(hot) == 0 {
		return
	}
	pid := hot[0]
	b.fetchInProgress = true
	b.fetchPeer = pid
	b.emitCommand(InterfaceCommand{
		Peer:    pid,
		Kind:    CmdSend,
		Channel: protocol.ChannelBlockFetch,
		Message: &blockfetch.RequestRange{Range: blockfetch.Range{Start: start, End: end}},
	})
}

// Peers exposes a read-only snapshot of tracked peers, mainly for
// tests and metrics.
func (b *InitiatorBehavior) Peers() map[protocol.PeerID]*PeerState { return b.promotion.peers }

// TierSizes reports the current size of each tier.
func (b *InitiatorBehavior) TierSizes() (cold, warm, hot, banned int) {
	return len(b.promotion.cold), len(b.promotion.warm), len(b.promotion.hot), len(b.promotion.banned)
}

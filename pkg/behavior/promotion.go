package behavior

import (
	"github.com/ouroboros-go/relay/pkg/protocol"
)

// PromotionLimits tunes the size of each tier.
type PromotionLimits struct {
	MaxPeers     int
	MaxWarmPeers int
	MaxHotPeers  int
}

// DefaultPromotionLimits mirrors spec.md §4.6.
func DefaultPromotionLimits() PromotionLimits {
	return PromotionLimits{MaxPeers: 50, MaxWarmPeers: 5, MaxHotPeers: 3}
}

// promotionTable holds the disjoint peer sets tracked by the
// promotion sub-behavior, plus per-peer state.
type promotionTable struct {
	limits PromotionLimits

	peers  map[protocol.PeerID]*PeerState
	cold   map[protocol.PeerID]struct{}
	warm   map[protocol.PeerID]struct{}
	hot    map[protocol.PeerID]struct{}
	banned map[protocol.PeerID]struct{}
}

func newPromotionTable(limits PromotionLimits) *promotionTable {
	return &promotionTable{
		limits: limits,
		peers:  make(map[protocol.PeerID]*PeerState),
		cold:   make(map[protocol.PeerID]struct{}),
		warm:   make(map[protocol.PeerID]struct{}),
		hot:    make(map[protocol.PeerID]struct{}),
		banned: make(map[protocol.PeerID]struct{}),
	}
}

func (t *promotionTable) totalKnown() int {
	return len(t.cold) + len(t.warm) + len(t.hot)
}

// includePeer discovers a new peer, inserting it into cold if the
// total known count allows.
func (t *promotionTable) includePeer(pid protocol.PeerID) {
	if _, banned := t.banned[pid]; banned {
		return
	}
	if _, known := t.peers[pid]; known {
		return
	}
	if t.totalKnown() >= t.limits.MaxPeers {
		return
	}
	t.peers[pid] = &PeerState{ID: pid, Promotion: Cold}
	t.cold[pid] = struct{}{}
}

// housekeeping runs one tick of the promotion rules described in
// spec.md §4.6, returning the interface commands it produced. It does
// not itself re-enter after reaching a tier's limit within the tick.
func (t *promotionTable) housekeeping() []InterfaceCommand {
	var out []InterfaceCommand

	// Cold -> Warm, one tick's worth.
	for pid := range t.cold {
		if len(t.warm) >= t.limits.MaxWarmPeers {
			break
		}
		delete(t.cold, pid)
		t.warm[pid] = struct{}{}
		t.peers[pid].Promotion = Warm
	}

	// Warm connection: any warm peer not yet connecting gets a Connect.
	for pid := range t.warm {
		st := t.peers[pid]
		if st.Connection == NotConnected {
			st.Connection = Handshaking
			out = append(out, InterfaceCommand{Peer: pid, Kind: CmdConnect})
		}
	}

	// Warm -> Hot, one tick's worth.
	for pid := range t.warm {
		if len(t.hot) >= t.limits.MaxHotPeers {
			break
		}
		st := t.peers[pid]
		if st.Connection != Initialized {
			continue
		}
		delete(t.warm, pid)
		t.hot[pid] = struct{}{}
		st.Promotion = Hot
	}

	// Violation eviction: any peer flagged violation is banned outright.
	for pid, st := range t.peers {
		if !st.Violation || st.Banned {
			continue
		}
		delete(t.cold, pid)
		delete(t.warm, pid)
		delete(t.hot, pid)
		t.banned[pid] = struct{}{}
		st.Banned = true
		out = append(out, InterfaceCommand{Peer: pid, Kind: CmdDisconnect})
	}

	return out
}

// markInitialized records that pid's handshake completed.
func (t *promotionTable) markInitialized(pid protocol.PeerID, version uint64) {
	st, ok := t.peers[pid]
	if !ok {
		return
	}
	st.Connection = Initialized
	st.VersionKnown = true
	st.Version = version
}

// markDisconnected returns pid to warm (if it was hot) so the next
// housekeeping tick retries the connection, unless it was banned.
func (t *promotionTable) markDisconnected(pid protocol.PeerID) {
	st, ok := t.peers[pid]
	if !ok || st.Banned {
		return
	}
	st.Connection = NotConnected
	st.ChainSync = 0
	if _, wasHot := t.hot[pid]; wasHot {
		delete(t.hot, pid)
		t.warm[pid] = struct{}{}
		st.Promotion = Warm
	}
}

// flagViolation sets the sticky violation bit; eviction happens on the
// next housekeeping tick.
func (t *promotionTable) flagViolation(pid protocol.PeerID) {
	if st, ok := t.peers[pid]; ok {
		st.Violation = true
	}
}

func (t *promotionTable) hotPeers() []protocol.PeerID {
	out := make([]protocol.PeerID, 0, len(t.hot))
	for pid := range t.hot {
		out = append(out, pid)
	}
	return out
}

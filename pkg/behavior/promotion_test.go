package behavior

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

func pid(n int) protocol.PeerID {
	return protocol.NewPeerID("10.0.0.1", uint16(3000+n))
}

// S7 — promotion cycle.
func TestPromotionCycle(t *testing.T) {
	tbl := newPromotionTable(PromotionLimits{MaxPeers: 50, MaxWarmPeers: 2, MaxHotPeers: 1})
	for i := 0; i < 10; i++ {
		tbl.includePeer(pid(i))
	}
	require.Equal(t, 10, len(tbl.cold))

	tbl.housekeeping()
	require.LessOrEqual(t, len(tbl.warm), 2)
	require.Equal(t, 0, len(tbl.hot))

	for w := range tbl.warm {
		tbl.markInitialized(w, 13)
	}
	tbl.housekeeping()
	require.LessOrEqual(t, len(tbl.hot), 1)
	require.LessOrEqual(t, len(tbl.warm)+len(tbl.hot), 2)

	for h := range tbl.hot {
		tbl.flagViolation(h)
		before := len(tbl.hot)
		tbl.housekeeping()
		require.Less(t, len(tbl.hot), before+1)
		require.Contains(t, tbl.banned, h)
		// the same tick must not auto-promote a replacement into hot.
		require.Equal(t, 0, len(tbl.hot))
		break
	}
}

func TestBannedPeerNeverReenters(t *testing.T) {
	tbl := newPromotionTable(DefaultPromotionLimits())
	p := pid(1)
	tbl.includePeer(p)
	tbl.flagViolation(p)
	tbl.housekeeping()
	require.Contains(t, tbl.banned, p)

	tbl.includePeer(p)
	_, known := tbl.peers[p]
	require.True(t, known)
	require.NotContains(t, tbl.cold, p)
	require.NotContains(t, tbl.warm, p)
}

func TestMaxPeersRespected(t *testing.T) {
	tbl := newPromotionTable(PromotionLimits{MaxPeers: 3, MaxWarmPeers: 5, MaxHotPeers: 5})
	for i := 0; i < 10; i++ {
		tbl.includePeer(pid(i))
	}
	require.Equal(t, 3, tbl.totalKnown())
}

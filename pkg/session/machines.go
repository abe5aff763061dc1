package session

import (
	"fmt"

	"github.com/ouroboros-go/relay/pkg/protocol"
	"github.com/ouroboros-go/relay/pkg/protocol/blockfetch"
	"github.com/ouroboros-go/relay/pkg/protocol/chainsync"
	"github.com/ouroboros-go/relay/pkg/protocol/keepalive"
	"github.com/ouroboros-go/relay/pkg/protocol/peersharing"
)

// machineFor builds the agency-tracking Machine for one mini-protocol
// channel, mirroring decoderFor. The handshake channel runs its own
// synchronous negotiation (negotiateN2N/acceptN2N) before any pump
// goroutine starts, so it has no entry here.
func machineFor(id protocol.ChannelID) protocol.AgencyMachine {
	switch id {
	case protocol.ChannelKeepAlive:
		return keepalive.NewMachine()
	case protocol.ChannelPeerSharing:
		return peersharing.NewMachine()
	case protocol.ChannelChainSync:
		return chainsync.NewMachine()
	case protocol.ChannelBlockFetch:
		return blockfetch.NewMachine()
	default:
		panic(fmt.Sprintf("session: no agency machine registered for channel %d", id))
	}
}

// checkAndApplyOutbound validates msg against m from side's agency,
// then advances m's state to reflect having sent it. A session holds
// one Machine per channel, shared by both the outbound Dispatch path
// and the inbound pump, so the two stay in lockstep the way a real
// peer pair's machines do.
func checkAndApplyOutbound(m protocol.AgencyMachine, msg protocol.Message, side protocol.Side) error {
	if m == nil {
		return nil
	}
	if err := m.CheckOutbound(msg, side); err != nil {
		return err
	}
	return m.Apply(msg, side)
}

// Package protocol holds the wire-level types shared by every Ouroboros
// mini-protocol: channel identifiers, chain points and tips, and the
// generic message codec built on top of CBOR array encoding.
package protocol

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// ChannelID identifies a mini-protocol's logical channel on the
// multiplexed bearer. The responder direction is indicated by ORing in
// ModeResponder.
type ChannelID uint16

// Mini-protocol channel ids, per the Ouroboros wire spec.
const (
	ChannelHandshake          ChannelID = 0
	ChannelChainSync          ChannelID = 2
	ChannelBlockFetch         ChannelID = 3
	ChannelTxSubmission       ChannelID = 4
	ChannelChainSyncN2C       ChannelID = 5
	ChannelLocalTxSubmission  ChannelID = 6
	ChannelLocalStateQuery    ChannelID = 7
	ChannelKeepAlive          ChannelID = 8
	ChannelLocalTxMonitor     ChannelID = 9
	ChannelPeerSharing        ChannelID = 10
)

// ModeResponder is OR'd into a channel id to mark a segment as flowing
// from the protocol responder rather than the initiator.
const ModeResponder ChannelID = 0x8000

// Mask strips the direction bit, returning the bare channel id.
func (c ChannelID) Mask() ChannelID { return c &^ ModeResponder }

// IsResponder reports whether the direction bit is set.
func (c ChannelID) IsResponder() bool { return c&ModeResponder != 0 }

// WithMode ORs the direction bit corresponding to role into the channel id.
func (c ChannelID) WithMode(responder bool) ChannelID {
	base := c.Mask()
	if responder {
		return base | ModeResponder
	}
	return base
}

// PeerID identifies a peer by its dial address. Equality is structural,
// so PeerID is usable as a map key directly.
type PeerID struct {
	Host string
	Port uint16
}

// NewPeerID builds a PeerID from a host and port.
func NewPeerID(host string, port uint16) PeerID {
	return PeerID{Host: host, Port: port}
}

// String implements fmt.Stringer.
func (p PeerID) String() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port)))
}

// Point identifies a position on the chain: either the origin, or a
// specific (slot, hash) pair.
type Point struct {
	// Origin is true for the distinguished genesis point; Slot and Hash
	// are meaningless when it is set.
	Origin bool
	Slot   uint64
	Hash   [32]byte
}

// NewOriginPoint returns the distinguished Origin point.
func NewOriginPoint() Point { return Point{Origin: true} }

// NewPoint returns a concrete chain point.
func NewPoint(slot uint64, hash [32]byte) Point {
	return Point{Slot: slot, Hash: hash}
}

// Less orders points by slot; Origin sorts before everything else.
func (p Point) Less(other Point) bool {
	if p.Origin != other.Origin {
		return p.Origin
	}
	return p.Slot < other.Slot
}

// Equal reports structural equality.
func (p Point) Equal(other Point) bool {
	return p.Origin == other.Origin && p.Slot == other.Slot && p.Hash == other.Hash
}

func (p Point) String() string {
	if p.Origin {
		return "Origin"
	}
	return fmt.Sprintf("Point(slot=%d, hash=%x)", p.Slot, p.Hash[:8])
}

// MarshalCBOR encodes Origin as an empty array and a concrete point as
// a 2-element [slot, hash] array.
func (p Point) MarshalCBOR() ([]byte, error) {
	if p.Origin {
		return cbor.Marshal([]interface{}{})
	}
	return cbor.Marshal([]interface{}{p.Slot, p.Hash[:]})
}

// UnmarshalCBOR decodes a Point, distinguishing Origin by array arity.
func (p *Point) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) == 0 {
		*p = Point{Origin: true}
		return nil
	}
	if len(fields) != 2 {
		return fmt.Errorf("protocol: point wants 0 or 2 fields, got %d", len(fields))
	}
	var slot uint64
	if err := cbor.Unmarshal(fields[0], &slot); err != nil {
		return err
	}
	var hash []byte
	if err := cbor.Unmarshal(fields[1], &hash); err != nil {
		return err
	}
	if len(hash) != 32 {
		return fmt.Errorf("protocol: point hash must be 32 bytes, got %d", len(hash))
	}
	np := Point{Slot: slot}
	copy(np.Hash[:], hash)
	*p = np
	return nil
}

// Tip is the server's best known chain position plus its block number.
type Tip struct {
	Point       Point
	BlockNumber uint64
}

func (t Tip) String() string {
	return fmt.Sprintf("Tip(%s, blockNo=%d)", t.Point, t.BlockNumber)
}

// MarshalCBOR encodes the tip as `[point, blockNumber]`.
func (t Tip) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{t.Point, t.BlockNumber})
}

// UnmarshalCBOR decodes a tip.
func (t *Tip) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 2 {
		return fmt.Errorf("protocol: tip wants 2 fields, got %d", len(fields))
	}
	if err := cbor.Unmarshal(fields[0], &t.Point); err != nil {
		return err
	}
	return cbor.Unmarshal(fields[1], &t.BlockNumber)
}

// PeerAddress is a gossiped peer address, either IPv4 or IPv6, used by
// the peer-sharing mini-protocol.
type PeerAddress struct {
	V6   bool
	Addr [4]uint32 // only Addr[0] is meaningful when V6 is false
	Port uint16
}

// NewPeerAddressV4 builds an IPv4 peer address from a 32-bit word.
func NewPeerAddressV4(word uint32, port uint16) PeerAddress {
	return PeerAddress{Addr: [4]uint32{word}, Port: port}
}

// NewPeerAddressV6 builds an IPv6 peer address from four 32-bit words.
func NewPeerAddressV6(words [4]uint32, port uint16) PeerAddress {
	return PeerAddress{V6: true, Addr: words, Port: port}
}

// peerAddressTag distinguishes V4 (0) from V6 (1) addresses on the wire.
const (
	peerAddressTagV4 = 0
	peerAddressTagV6 = 1
)

// MarshalCBOR encodes the address as `[tag, word..., port]`.
func (a PeerAddress) MarshalCBOR() ([]byte, error) {
	if a.V6 {
		return cbor.Marshal([]interface{}{peerAddressTagV6, a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port})
	}
	return cbor.Marshal([]interface{}{peerAddressTagV4, a.Addr[0], a.Port})
}

// UnmarshalCBOR decodes a peer address.
func (a *PeerAddress) UnmarshalCBOR(data []byte) error {
	var fields []cbor.RawMessage
	if err := cbor.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) == 0 {
		return fmt.Errorf("protocol: empty peer address")
	}
	var tag uint64
	if err := cbor.Unmarshal(fields[0], &tag); err != nil {
		return err
	}
	switch tag {
	case peerAddressTagV4:
		if len(fields) != 3 {
			return fmt.Errorf("protocol: v4 peer address wants 3 fields, got %d", len(fields))
		}
		var word uint32
		if err := cbor.Unmarshal(fields[1], &word); err != nil {
			return err
		}
		var port uint16
		if err := cbor.Unmarshal(fields[2], &port); err != nil {
			return err
		}
		*a = NewPeerAddressV4(word, port)
		return nil
	case peerAddressTagV6:
		if len(fields) != 6 {
			return fmt.Errorf("protocol: v6 peer address wants 6 fields, got %d", len(fields))
		}
		var words [4]uint32
		for i := 0; i < 4; i++ {
			if err := cbor.Unmarshal(fields[1+i], &words[i]); err != nil {
				return err
			}
		}
		var port uint16
		if err := cbor.Unmarshal(fields[5], &port); err != nil {
			return err
		}
		*a = NewPeerAddressV6(words, port)
		return nil
	default:
		return fmt.Errorf("protocol: unknown peer address tag %d", tag)
	}
}

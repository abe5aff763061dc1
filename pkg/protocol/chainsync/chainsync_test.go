package chainsync

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

// S3 — Chain-sync intersect at origin.
func TestIntersectAtOrigin(t *testing.T) {
	m := NewMachine()
	require.Equal(t, protocol.Initiator, m.State.Agency())

	find := &FindIntersect{Points: []protocol.Point{protocol.NewOriginPoint()}}
	require.NoError(t, m.CheckOutbound(find, protocol.Initiator))
	require.NoError(t, m.Apply(find, protocol.Initiator))
	require.Equal(t, StateIntersect, m.State)

	var hash [32]byte
	hash[0] = 0xaa
	tip := protocol.Tip{Point: protocol.NewPoint(100, hash), BlockNumber: 42}
	found := &IntersectFound{Point: protocol.NewOriginPoint(), Tip: tip}
	require.NoError(t, m.Apply(found, protocol.Responder))
	require.Equal(t, StateIdle, m.State)

	next := &RequestNext{}
	require.NoError(t, m.Apply(next, protocol.Initiator))
	require.Equal(t, StateCanAwait, m.State)

	roll := &RollForward{Content: HeaderContent{Era: 2, HeaderBytes: []byte{1, 2, 3}}, Tip: tip}
	require.NoError(t, m.Apply(roll, protocol.Responder))
	require.Equal(t, StateIdle, m.State)
}

func TestHeaderContentRoundTrip_Byron(t *testing.T) {
	h := HeaderContent{Era: Byron, ByronSubTag: 1, HeaderBytes: []byte{9, 9, 9}}
	data, err := h.MarshalCBOR()
	require.NoError(t, err)
	var decoded HeaderContent
	require.NoError(t, decoded.UnmarshalCBOR(data))
	require.Equal(t, h, decoded)
}

func TestHeaderContentRoundTrip_Shelley(t *testing.T) {
	h := HeaderContent{Era: 2, HeaderBytes: []byte{1, 2, 3, 4}}
	data, err := h.MarshalCBOR()
	require.NoError(t, err)
	var decoded HeaderContent
	require.NoError(t, decoded.UnmarshalCBOR(data))
	require.Equal(t, h, decoded)
}

func TestMessageRoundTrip(t *testing.T) {
	dec := NewDecoder()
	msg := &RequestNext{}
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	decoded, n, err := dec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, LabelRequestNext, decoded.Label())
}

func TestAgencyViolation(t *testing.T) {
	m := NewMachine()
	roll := &RollForward{}
	err := m.Apply(roll, protocol.Responder)
	require.Error(t, err)
	var agencyErr *protocol.AgencyIsOursError
	require.ErrorAs(t, err, &agencyErr)
}

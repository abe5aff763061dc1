package peersharing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

func TestHappyPath(t *testing.T) {
	m := NewMachine()
	req := &ShareRequest{Amount: 5}
	require.NoError(t, m.Apply(req, protocol.Initiator))
	require.Equal(t, StateBusy, m.State)

	resp := &SharePeers{Addresses: []protocol.PeerAddress{
		protocol.NewPeerAddressV4(0x0a000001, 3001),
	}}
	require.NoError(t, m.Apply(resp, protocol.Responder))
	require.Equal(t, StateIdle, m.State)
}

func TestEmptySharePeersIsValid(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Apply(&ShareRequest{Amount: 1}, protocol.Initiator))
	require.NoError(t, m.Apply(&SharePeers{}, protocol.Responder))
	require.Equal(t, StateIdle, m.State)
}

func TestSharePeersRoundTrip(t *testing.T) {
	dec := NewDecoder()
	msg := &SharePeers{Addresses: []protocol.PeerAddress{
		protocol.NewPeerAddressV4(1, 2),
		protocol.NewPeerAddressV6([4]uint32{1, 2, 3, 4}, 5),
	}}
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	decoded, n, err := dec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, msg.Addresses, decoded.(*SharePeers).Addresses)
}

func TestAgencyViolation(t *testing.T) {
	m := NewMachine()
	err := m.Apply(&SharePeers{}, protocol.Responder)
	require.Error(t, err)
	var agencyErr *protocol.AgencyIsOursError
	require.ErrorAs(t, err, &agencyErr)
}

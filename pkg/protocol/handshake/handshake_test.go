package handshake

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

func n2nTable(magic uint64, versions ...VersionNumber) N2NVersionTable {
	t := make(N2NVersionTable, len(versions))
	for _, v := range versions {
		t[v] = NewN2NVersionData(v, magic, true, 0, false)
	}
	return t
}

// S1 — Handshake happy path.
func TestNegotiateN2N_HappyPath(t *testing.T) {
	initiator := n2nTable(764824073, 7, 8, 9, 10, 11, 12, 13)
	responder := n2nTable(764824073, 7, 8, 9, 10, 11, 12, 13)

	accept, refuse := NegotiateN2N(responder, initiator)
	require.Nil(t, refuse)
	require.NotNil(t, accept)
	require.Equal(t, VersionNumber(13), accept.Version)
	require.Equal(t, uint64(764824073), accept.Data.NetworkMagic)
}

// S2 — Handshake version mismatch.
func TestNegotiateN2N_VersionMismatch(t *testing.T) {
	initiator := n2nTable(1, 11, 12, 13)
	responder := n2nTable(1, 7, 8, 9, 10)

	accept, refuse := NegotiateN2N(responder, initiator)
	require.Nil(t, accept)
	require.NotNil(t, refuse)
	require.Equal(t, ReasonVersionMismatch, refuse.Reason.Kind)
	require.ElementsMatch(t, []VersionNumber{7, 8, 9, 10}, refuse.Reason.Offered)
}

func TestNegotiateN2N_DataMismatch(t *testing.T) {
	initiator := n2nTable(1, 13)
	responder := n2nTable(2, 13)

	accept, refuse := NegotiateN2N(responder, initiator)
	require.Nil(t, accept)
	require.NotNil(t, refuse)
	require.Equal(t, ReasonRefused, refuse.Reason.Kind)
	require.Equal(t, VersionNumber(13), refuse.Reason.Version)
}

func TestMessageRoundTrip_Propose(t *testing.T) {
	m := &ProposeN2N{Table: n2nTable(764824073, 7, 8, 13)}
	data, err := protocol.Encode(m)
	require.NoError(t, err)

	var decoded ProposeN2N
	require.NoError(t, decoded.UnmarshalCBOR(data))
	require.Equal(t, m.Table.Versions(), decoded.Table.Versions())
	require.Equal(t, m.Table[13].NetworkMagic, decoded.Table[13].NetworkMagic)
}

func TestMachine_AgencyEnforced(t *testing.T) {
	m := NewMachine()
	require.Equal(t, protocol.Initiator, m.Agency())

	propose := &ProposeN2N{Table: n2nTable(1, 13)}
	require.NoError(t, m.CheckOutbound(propose, protocol.Initiator))
	require.Error(t, m.CheckOutbound(propose, protocol.Responder))

	require.NoError(t, m.Apply(propose, protocol.Initiator))
	require.Equal(t, StateConfirm, m.State)
	require.Equal(t, protocol.Responder, m.Agency())

	accept := &AcceptN2N{Version: 13, Data: NewN2NVersionData(13, 1, true, 0, false)}
	require.Error(t, m.Apply(accept, protocol.Initiator)) // wrong side
	require.NoError(t, m.Apply(accept, protocol.Responder))
	require.Equal(t, StateDone, m.State)
	require.Equal(t, OutcomeAccepted, m.Outcome)
}

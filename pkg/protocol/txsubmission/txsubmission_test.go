package txsubmission

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

func TestHappyPathBlocking(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Apply(&Init{}, protocol.Responder))
	require.Equal(t, StateIdle, m.State)

	req := &RequestTxIds{Blocking: true, Ack: 0, Req: 2}
	require.NoError(t, m.Apply(req, protocol.Initiator))
	require.Equal(t, StateTxIdsBlocking, m.State)
	require.Equal(t, uint16(2), m.InFlight())

	reply := &ReplyTxIds{Items: []TxIDAndSize{
		{ID: TxID{Era: 6, Bytes: []byte{1}}, Size: 100},
		{ID: TxID{Era: 6, Bytes: []byte{2}}, Size: 200},
	}}
	require.NoError(t, m.Apply(reply, protocol.Responder))
	require.Equal(t, StateIdle, m.State)

	fetch := &RequestTxs{IDs: []TxID{{Era: 6, Bytes: []byte{1}}}}
	require.NoError(t, m.Apply(fetch, protocol.Initiator))
	require.Equal(t, StateTxs, m.State)

	bodies := &ReplyTxs{Bodies: []TxBody{{Era: 6, Body: []byte{0xaa, 0xbb}}}}
	require.NoError(t, m.Apply(bodies, protocol.Responder))
	require.Equal(t, StateIdle, m.State)
}

func TestAckExceedsInFlightIsViolation(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Apply(&Init{}, protocol.Responder))
	req := &RequestTxIds{Blocking: false, Ack: 5, Req: 0}
	err := m.Apply(req, protocol.Initiator)
	require.Error(t, err)
}

func TestDoneOnlyLegalWhileBlocking(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Apply(&Init{}, protocol.Responder))
	require.NoError(t, m.Apply(&RequestTxIds{Blocking: false, Req: 1}, protocol.Initiator))
	require.Error(t, m.CheckOutbound(&Done{}, protocol.Responder))
}

func TestTxIDRoundTrip(t *testing.T) {
	dec := NewDecoder()
	msg := &RequestTxs{IDs: []TxID{{Era: 6, Bytes: []byte{1, 2, 3}}}}
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	decoded, n, err := dec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, msg.IDs, decoded.(*RequestTxs).IDs)
}

func TestAgencyViolation(t *testing.T) {
	m := NewMachine()
	err := m.Apply(&RequestTxIds{}, protocol.Initiator)
	require.Error(t, err)
	var agencyErr *protocol.AgencyIsOursError
	require.ErrorAs(t, err, &agencyErr)
}

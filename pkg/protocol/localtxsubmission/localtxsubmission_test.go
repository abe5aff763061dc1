package localtxsubmission

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

func TestAccept(t *testing.T) {
	m := NewMachine()
	submit := &SubmitTx{Tx: EraTx{Era: 6, Body: []byte{1, 2, 3}}}
	require.NoError(t, m.Apply(submit, protocol.Initiator))
	require.Equal(t, StateBusy, m.State)

	require.NoError(t, m.Apply(&AcceptTx{}, protocol.Responder))
	require.Equal(t, StateIdle, m.State)
}

func TestReject(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Apply(&SubmitTx{Tx: EraTx{Era: 6, Body: []byte{1}}}, protocol.Initiator))
	require.NoError(t, m.Apply(&RejectTx{Era: 6, Reason: []byte{0xde, 0xad}}, protocol.Responder))
	require.Equal(t, StateIdle, m.State)
}

func TestSubmitTxRoundTrip(t *testing.T) {
	dec := NewDecoder()
	msg := &SubmitTx{Tx: EraTx{Era: 6, Body: []byte{1, 2, 3, 4}}}
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	decoded, n, err := dec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, msg.Tx, decoded.(*SubmitTx).Tx)
}

func TestAgencyViolation(t *testing.T) {
	m := NewMachine()
	err := m.Apply(&AcceptTx{}, protocol.Responder)
	require.Error(t, err)
	var agencyErr *protocol.AgencyIsOursError
	require.ErrorAs(t, err, &agencyErr)
}

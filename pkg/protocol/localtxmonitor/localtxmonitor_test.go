package localtxmonitor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

func TestNextTxCycle(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Apply(&Acquire{}, protocol.Initiator))
	require.NoError(t, m.Apply(&Acquired{Slot: 100}, protocol.Responder))
	require.Equal(t, StateAcquired, m.State)

	require.NoError(t, m.Apply(&NextTx{}, protocol.Initiator))
	require.Equal(t, StateBusyNextTx, m.State)

	tx := EraTx{Era: 6, Body: []byte{1, 2}}
	require.NoError(t, m.Apply(&ReplyNextTx{Tx: &tx}, protocol.Responder))
	require.Equal(t, StateAcquired, m.State)

	require.NoError(t, m.Apply(&Release{}, protocol.Initiator))
	require.Equal(t, StateIdle, m.State)
}

func TestGetSizes(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Apply(&Acquire{}, protocol.Initiator))
	require.NoError(t, m.Apply(&Acquired{}, protocol.Responder))
	require.NoError(t, m.Apply(&GetSizes{}, protocol.Initiator))
	require.Equal(t, StateBusyGetSizes, m.State)
	require.NoError(t, m.Apply(&ReplyGetSizes{Capacity: 1000, CurrentSize: 10, NumberOfTxs: 2}, protocol.Responder))
	require.Equal(t, StateAcquired, m.State)
}

func TestReplyNextTxEmptyRoundTrip(t *testing.T) {
	dec := NewDecoder()
	msg := &ReplyNextTx{}
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	decoded, n, err := dec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Nil(t, decoded.(*ReplyNextTx).Tx)
}

func TestAgencyViolation(t *testing.T) {
	m := NewMachine()
	err := m.Apply(&Acquired{}, protocol.Responder)
	require.Error(t, err)
	var agencyErr *protocol.AgencyIsOursError
	require.ErrorAs(t, err, &agencyErr)
}

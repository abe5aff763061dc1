package localstatequery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

func TestHappyPath(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Apply(&Acquire{}, protocol.Initiator))
	require.Equal(t, StateAcquiring, m.State)

	require.NoError(t, m.Apply(&Acquired{}, protocol.Responder))
	require.Equal(t, StateAcquired, m.State)

	q := &QueryMsg{Q: Query{Kind: QueryGetChainBlockNo}}
	require.NoError(t, m.Apply(q, protocol.Initiator))
	require.Equal(t, StateQuerying, m.State)

	require.NoError(t, m.Apply(&Result{Bytes: []byte{1, 2, 3}}, protocol.Responder))
	require.Equal(t, StateAcquired, m.State)

	require.NoError(t, m.Apply(&Release{}, protocol.Initiator))
	require.Equal(t, StateIdle, m.State)
}

func TestAcquireFailure(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Apply(&Acquire{}, protocol.Initiator))
	require.NoError(t, m.Apply(&Failure{Reason: PointTooOld}, protocol.Responder))
	require.Equal(t, StateIdle, m.State)
}

func TestReAcquireFromAcquired(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Apply(&Acquire{}, protocol.Initiator))
	require.NoError(t, m.Apply(&Acquired{}, protocol.Responder))

	var hash [32]byte
	hash[0] = 1
	p := protocol.NewPoint(5, hash)
	require.NoError(t, m.Apply(&ReAcquire{Point: &p}, protocol.Initiator))
	require.Equal(t, StateAcquiring, m.State)
}

func TestLedgerQueryRoundTrip(t *testing.T) {
	dec := NewDecoder()
	msg := &QueryMsg{Q: Query{Kind: QueryLedgerQuery, LedgerQueryKind: LedgerQueryBlock, Era: 6, Body: []byte{0xaa}}}
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	decoded, n, err := dec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, msg.Q, decoded.(*QueryMsg).Q)
}

func TestAcquireOptionalPointRoundTrip(t *testing.T) {
	var hash [32]byte
	hash[0] = 9
	p := protocol.NewPoint(3, hash)
	msg := &Acquire{Point: &p}
	data, err := msg.MarshalCBOR()
	require.NoError(t, err)
	var decoded Acquire
	require.NoError(t, decoded.UnmarshalCBOR(data))
	require.True(t, decoded.Point.Equal(p))
}

func TestAgencyViolation(t *testing.T) {
	m := NewMachine()
	err := m.Apply(&Acquired{}, protocol.Responder)
	require.Error(t, err)
	var agencyErr *protocol.AgencyIsOursError
	require.ErrorAs(t, err, &agencyErr)
}

package keepalive

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

// S6 — keep-alive liveness round trip.
func TestRoundTrip(t *testing.T) {
	m := NewMachine()
	ping := &KeepAlive{Cookie: 42}
	require.NoError(t, m.CheckOutbound(ping, protocol.Initiator))
	require.NoError(t, m.Apply(ping, protocol.Initiator))
	require.Equal(t, StateServer, m.State)

	pong := &ResponseKeepAlive{Cookie: 42}
	require.NoError(t, m.Apply(pong, protocol.Responder))
	require.Equal(t, StateClient, m.State)
}

func TestCookieMismatch(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Apply(&KeepAlive{Cookie: 7}, protocol.Initiator))
	err := m.Apply(&ResponseKeepAlive{Cookie: 8}, protocol.Responder)
	require.Error(t, err)
	var mismatch *CookieMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestMessageRoundTrip(t *testing.T) {
	dec := NewDecoder()
	msg := &KeepAlive{Cookie: 123}
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	decoded, n, err := dec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, msg.Cookie, decoded.(*KeepAlive).Cookie)
}

func TestAgencyViolation(t *testing.T) {
	m := NewMachine()
	err := m.Apply(&ResponseKeepAlive{}, protocol.Responder)
	require.Error(t, err)
	var agencyErr *protocol.AgencyIsOursError
	require.ErrorAs(t, err, &agencyErr)
}

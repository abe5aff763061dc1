package bearer

import (
	"bufio"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

func newTestReader(conn net.Conn) *bufio.Reader {
	return bufio.NewReaderSize(conn, 64*1024)
}

func TestSegmentRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	wh := &WriteHalf{w: client}
	rh := &ReadHalf{r: newTestReader(server)}

	done := make(chan error, 1)
	go func() {
		done <- wh.WriteSegment(Segment{Timestamp: 42, Channel: protocol.ChannelHandshake, Payload: []byte{1, 2, 3}})
	}()

	seg, err := rh.ReadSegment()
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, uint32(42), seg.Timestamp)
	require.Equal(t, protocol.ChannelHandshake, seg.Channel)
	require.Equal(t, []byte{1, 2, 3}, seg.Payload)
}

func TestWriteMessageChunking(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	wh := &WriteHalf{w: client}
	rh := &ReadHalf{r: newTestReader(server)}

	big := make([]byte, MaxPayloadLen+100)
	for i := range big {
		big[i] = byte(i)
	}

	done := make(chan error, 1)
	go func() {
		done <- wh.WriteMessage(protocol.ChannelBlockFetch, 0, true, big)
	}()

	seg1, err := rh.ReadSegment()
	require.NoError(t, err)
	require.Equal(t, MaxPayloadLen, len(seg1.Payload))
	require.True(t, seg1.Channel.IsResponder())
	require.Equal(t, protocol.ChannelBlockFetch, seg1.Channel.Mask())

	seg2, err := rh.ReadSegment()
	require.NoError(t, err)
	require.Equal(t, 100, len(seg2.Payload))
	require.NoError(t, <-done)
}

func TestSegmentTooLarge(t *testing.T) {
	_, client := net.Pipe()
	defer client.Close()
	wh := &WriteHalf{w: client}
	err := wh.WriteSegment(Segment{Payload: make([]byte, MaxPayloadLen+1)})
	require.ErrorIs(t, err, ErrSegmentTooLarge)
}

// Package bearer implements the duplex byte-stream transport that
// carries multiplexed Ouroboros segments: an 8-byte header (timestamp,
// channel id with direction bit, payload length) followed by payload
// bytes, over TCP, UNIX domain sockets, or (conceptually; not built on
// this platform) a Windows named pipe.
package bearer

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

// MaxPayloadLen is the largest payload a single segment may carry; a
// message larger than this is chunked across several segments by
// WriteMessage.
const MaxPayloadLen = 65535

// HeaderLen is the fixed size of a segment header in bytes.
const HeaderLen = 8

var (
	// ErrSegmentTooLarge is returned by WriteSegment when the payload
	// exceeds MaxPayloadLen.
	ErrSegmentTooLarge = errors.New("bearer: segment payload exceeds 65535 bytes")
)

// Segment is one length-delimited frame on the bearer.
type Segment struct {
	Timestamp uint32
	Channel   protocol.ChannelID
	Payload   []byte
}

// IOError wraps any read/write failure on the underlying connection.
// Bearer I/O errors are always fatal to the session that owns them.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("bearer: %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// Bearer wraps a net.Conn and exposes it as a split read/write pair.
type Bearer struct {
	conn net.Conn
}

// Dial opens a bearer to addr over the given network ("tcp" or
// "unix"), applying TCP nodelay and 20s/20s keepalive and SO_LINGER=0
// on the connect side when network is "tcp".
func Dial(ctx context.Context, network, addr string, timeout time.Duration) (*Bearer, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, &IOError{Op: "dial", Err: err}
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(20 * time.Second)
		_ = tc.SetLinger(0)
	}
	return &Bearer{conn: conn}, nil
}

// NewFromConn wraps an already-accepted connection (the responder side
// of Listen) as a Bearer.
func NewFromConn(conn net.Conn) *Bearer {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(20 * time.Second)
	}
	return &Bearer{conn: conn}
}

// Listen opens a listener on addr over the given network ("tcp" or
// "unix").
func Listen(network, addr string) (net.Listener, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, &IOError{Op: "listen", Err: err}
	}
	return ln, nil
}

// Split returns owned read and write halves that the plexer drives
// concurrently.
func (b *Bearer) Split() (*ReadHalf, *WriteHalf) {
	return &ReadHalf{r: bufio.NewReaderSize(b.conn, 64*1024)}, &WriteHalf{w: b.conn}
}

// Close closes the underlying connection.
func (b *Bearer) Close() error { return b.conn.Close() }

// RemoteAddr returns the peer's address.
func (b *Bearer) RemoteAddr() net.Addr { return b.conn.RemoteAddr() }

// WriteHalf is the owned write side of a split Bearer.
type WriteHalf struct {
	w io.Writer
}

// WriteSegment emits one segment: an 8-byte header followed by
// payload. The header is timestamp(4) || channel(2) || length(2), all
// big-endian ("network byte order").
func (h *WriteHalf) WriteSegment(s Segment) error {
	if len(s.Payload) > MaxPayloadLen {
		return ErrSegmentTooLarge
	}
	var hdr [HeaderLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], s.Timestamp)
	binary.BigEndian.PutUint16(hdr[4:6], uint16(s.Channel))
	binary.BigEndian.PutUint16(hdr[6:8], uint16(len(s.Payload)))
	if _, err := h.w.Write(hdr[:]); err != nil {
		return &IOError{Op: "write segment header", Err: err}
	}
	if len(s.Payload) > 0 {
		if _, err := h.w.Write(s.Payload); err != nil {
			return &IOError{Op: "write segment payload", Err: err}
		}
	}
	if f, ok := h.w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return &IOError{Op: "flush", Err: err}
		}
	}
	return nil
}

// WriteMessage splits a CBOR-encoded message into chunks of at most
// MaxPayloadLen bytes and writes one segment per chunk, tagging the
// channel with the given responder mode.
func (h *WriteHalf) WriteMessage(channel protocol.ChannelID, timestamp uint32, responder bool, encoded []byte) error {
	ch := channel.WithMode(responder)
	if len(encoded) == 0 {
		return h.WriteSegment(Segment{Timestamp: timestamp, Channel: ch})
	}
	for off := 0; off < len(encoded); off += MaxPayloadLen {
		end := off + MaxPayloadLen
		if end > len(encoded) {
			end = len(encoded)
		}
		if err := h.WriteSegment(Segment{Timestamp: timestamp, Channel: ch, Payload: encoded[off:end]}); err != nil {
			return err
		}
	}
	return nil
}

// ReadHalf is the owned read side of a split Bearer.
type ReadHalf struct {
	r *bufio.Reader
}

// ReadSegment blocks until one full segment has arrived.
func (h *ReadHalf) ReadSegment() (Segment, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(h.r, hdr[:]); err != nil {
		return Segment{}, &IOError{Op: "read segment header", Err: err}
	}
	ts := binary.BigEndian.Uint32(hdr[0:4])
	ch := protocol.ChannelID(binary.BigEndian.Uint16(hdr[4:6]))
	n := binary.BigEndian.Uint16(hdr[6:8])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(h.r, payload); err != nil {
			return Segment{}, &IOError{Op: "read segment payload", Err: err}
		}
	}
	return Segment{Timestamp: ts, Channel: ch, Payload: payload}, nil
}

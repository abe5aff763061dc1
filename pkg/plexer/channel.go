package plexer

import (
	"context"
	"fmt"

	"github.com/ouroboros-go/relay/pkg/protocol"
)

// defaultQueueDepth bounds how many encoded outbound messages or
// decoded inbound messages a channel will buffer before Send/the read
// loop blocks. This is the plexer's backpressure mechanism: a slow
// consumer whose inbound queue is full stalls the shared read loop,
// and with it reading for every channel on the bearer.
const defaultQueueDepth = 16

// ChannelHandle is a subscriber's view of one mini-protocol's logical
// channel on a Plexer.
type ChannelHandle struct {
	id        protocol.ChannelID
	responder bool
	decoder   protocol.Decoder

	outbound chan []byte
	inbound  chan protocol.Message
	errc     chan error

	reassembly []byte
}

// Send enqueues an already-CBOR-encoded message for transmission on
// this channel. It blocks if the outbound queue is full, or returns
// ctx.Err() if ctx is done first.
func (c *ChannelHandle) Send(ctx context.Context, encoded []byte) error {
	select {
	case c.outbound <- encoded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv blocks until a message has been decoded off this channel, the
// plexer reports a fatal error, or ctx is done.
func (c *ChannelHandle) Recv(ctx context.Context) (protocol.Message, error) {
	select {
	case m := <-c.inbound:
		return m, nil
	case err := <-c.errc:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// feed appends newly arrived payload bytes to this channel's
// reassembly buffer and decodes as many complete messages as are now
// available, pushing each onto inbound. It blocks while inbound is
// full, which is how a slow consumer applies backpressure: the shared
// read loop waits here, so no channel on the bearer receives anything
// until this one's consumer catches up.
func (c *ChannelHandle) feed(ctx context.Context, payload []byte) error {
	c.reassembly = append(c.reassembly, payload...)
	for len(c.reassembly) > 0 {
		msg, n, err := c.decoder.Decode(c.reassembly)
		if err == protocol.ErrNeedMoreData {
			return nil
		}
		if err != nil {
			return fmt.Errorf("plexer: channel %d: %w", c.id, err)
		}
		c.reassembly = c.reassembly[n:]
		select {
		case c.inbound <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

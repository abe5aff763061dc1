// Package plexer implements the Ouroboros multiplexer: it demuxes
// segments arriving on a bearer into per-channel message streams, and
// muxes per-channel outbound messages back into segments, sharing one
// monotonic clock across every channel.
package plexer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/ouroboros-go/relay/pkg/bearer"
	"github.com/ouroboros-go/relay/pkg/protocol"
)

// ErrClosed is delivered once to each subscribed channel's Recv when
// the plexer shuts down through Close, or when Run ends without an
// error. Subscribe and Send do not report shutdown.
var ErrClosed = errors.New("plexer: closed")

// Plexer owns one bearer's split halves and fans segments out to (and
// in from) the set of mini-protocol channels subscribed on it.
type Plexer struct {
	bearer *bearer.Bearer
	bw     *bearer.WriteHalf
	br     *bearer.ReadHalf
	log    *zap.Logger

	clock Clock

	mu       sync.Mutex
	channels map[protocol.ChannelID]*ChannelHandle // keyed by bare channel id
	order    []protocol.ChannelID

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New wraps a bearer as a Plexer. Subscribe every channel the caller
// intends to use before calling Run.
func New(b *bearer.Bearer, log *zap.Logger) *Plexer {
	br, bw := b.Split()
	return &Plexer{
		bearer:   b,
		bw:       bw,
		br:       br,
		log:      log,
		clock:    NewClock(),
		channels: make(map[protocol.ChannelID]*ChannelHandle),
		closed:   make(chan struct{}),
	}
}

// Subscribe registers interest in one mini-protocol channel, in the
// given direction, decoding inbound payloads with decoder. It must be
// called before Run.
func (p *Plexer) Subscribe(id protocol.ChannelID, responder bool, decoder protocol.Decoder) *ChannelHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := &ChannelHandle{
		id:        id,
		responder: responder,
		decoder:   decoder,
		outbound:  make(chan []byte, defaultQueueDepth),
		inbound:   make(chan protocol.Message, defaultQueueDepth),
		errc:      make(chan error, 1),
	}
	p.channels[id] = h
	p.order = append(p.order, id)
	return h
}

// Run starts the read and write tasks and blocks until both have
// returned. A bearer failure, or Close (which closes the bearer), ends
// both. Cancelling ctx ends the write task at once, but the read task
// only sees the cancellation after its current ReadSegment returns, so
// on an idle bearer Run keeps blocking until Close is called. The
// returned error is always non-nil except when ctx was cancelled
// deliberately.
func (p *Plexer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	go func() { errc <- p.readLoop(ctx) }()
	go func() { errc <- p.writeLoop(ctx) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	p.shutdown(firstErr)
	return firstErr
}

// Close tears the plexer down from the outside (e.g. on an explicit
// Disconnect command), without an associated I/O error. It closes the
// underlying bearer so a blocked read loop wakes with an I/O error.
func (p *Plexer) Close() {
	_ = p.bearer.Close()
	p.shutdown(ErrClosed)
}

func (p *Plexer) shutdown(err error) {
	p.closeOnce.Do(func() {
		if err == nil {
			err = ErrClosed
		}
		p.closeErr = err
		close(p.closed)
		p.mu.Lock()
		for _, h := range p.channels {
			select {
			case h.errc <- err:
			default:
			}
		}
		p.mu.Unlock()
	})
}

func (p *Plexer) readLoop(ctx context.Context) error {
	for {
		seg, err := p.br.ReadSegment()
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		h := p.lookup(seg.Channel.Mask())
		if h == nil {
			if p.log != nil {
				p.log.Warn("segment on unsubscribed channel", zap.Uint16("channel", uint16(seg.Channel)))
			}
			continue
		}
		if err := h.feed(ctx, seg.Payload); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// writeLoop fairly drains every subscribed channel's outbound queue:
// each pass visits channels in subscription order so a bursty channel
// cannot starve its neighbours indefinitely.
func (p *Plexer) writeLoop(ctx context.Context) error {
	for {
		wrote, err := p.drainOnePass(ctx)
		if err != nil {
			return err
		}
		if wrote {
			continue
		}
		if err := p.waitForWork(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func (p *Plexer) drainOnePass(ctx context.Context) (bool, error) {
	p.mu.Lock()
	order := append([]protocol.ChannelID(nil), p.order...)
	p.mu.Unlock()

	wrote := false
	for _, id := range order {
		h := p.lookup(id)
		if h == nil {
			continue
		}
		select {
		case payload := <-h.outbound:
			if err := p.bw.WriteMessage(id, p.clock.NowMicros(), h.responder, payload); err != nil {
				return wrote, err
			}
			wrote = true
		default:
		}
	}
	return wrote, nil
}

// waitForWork blocks until any channel has an outbound message
// queued, ctx is done, or the plexer is closed. Unlike a plain
// readiness wait, reflect.Select here actually consumes a value off
// whichever outbound channel fires first, so that value must be
// written to the bearer directly instead of being dropped: the next
// drainOnePass would never see it again.
func (p *Plexer) waitForWork(ctx context.Context) error {
	p.mu.Lock()
	order := append([]protocol.ChannelID(nil), p.order...)
	handles := make([]*ChannelHandle, len(order))
	for i, id := range order {
		handles[i] = p.channels[id]
	}
	p.mu.Unlock()

	cases := make([]reflect.SelectCase, 0, len(order)+2)
	for _, h := range handles {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(h.outbound)})
	}
	cases = append(cases,
		reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
		reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(p.closed)},
	)
	chosen, recv, ok := reflect.Select(cases)
	if chosen == len(cases)-2 {
		return ctx.Err()
	}
	if chosen == len(cases)-1 {
		return fmt.Errorf("plexer: closed while waiting for outbound work")
	}
	if !ok {
		return nil
	}
	payload := recv.Interface().([]byte)
	h := handles[chosen]
	return p.bw.WriteMessage(h.id, p.clock.NowMicros(), h.responder, payload)
}

func (p *Plexer) lookup(id protocol.ChannelID) *ChannelHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channels[id]
}

// Package emulation provides an in-memory stand-in for a real peer
// session, so the manager/behavior layers can be exercised without a
// socket. A Peer answers dispatched commands according to scripted
// reply rules, optionally after a jittered delay, mirroring the way a
// slow or lagging real peer would.
package emulation

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ouroboros-go/relay/pkg/behavior"
)

// ReplyRule scripts one canned response to a dispatched command.
// Match decides whether the rule applies; Reply builds the events to
// raise in response. MaxJitter, if nonzero, delays the reply by a
// random duration in [0, MaxJitter) to emulate network latency.
type ReplyRule struct {
	Match     func(cmd behavior.InterfaceCommand) bool
	Reply     func(cmd behavior.InterfaceCommand) []behavior.InterfaceEvent
	MaxJitter time.Duration
}

const defaultEventQueueDepth = 64

// Peer implements manager.Interface entirely in memory.
type Peer struct {
	scenarioID uuid.UUID
	rules      []ReplyRule
	events     chan behavior.InterfaceEvent

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewPeer builds an emulated peer that answers Dispatch calls
// according to rules, tried in order; the first match wins. Each
// instance gets a fresh scenario id, handy for correlating a test's
// log output with the emulated peer that produced it.
func NewPeer(rules []ReplyRule) *Peer {
	return &Peer{
		scenarioID: uuid.New(),
		rules:      rules,
		events:     make(chan behavior.InterfaceEvent, defaultEventQueueDepth),
		done:       make(chan struct{}),
	}
}

// ScenarioID identifies this emulated peer instance.
func (p *Peer) ScenarioID() string { return p.scenarioID.String() }

// Dispatch looks up the first matching rule and schedules its reply.
// Commands with no matching rule are silently dropped, the same way a
// peer that doesn't understand a request would simply never answer.
func (p *Peer) Dispatch(ctx context.Context, cmd behavior.InterfaceCommand) error {
	for _, r := range p.rules {
		if r.Match == nil || !r.Match(cmd) {
			continue
		}
		events := r.Reply(cmd)
		if len(events) == 0 {
			return nil
		}
		delay := jitter(r.MaxJitter)
		p.wg.Add(1)
		go p.deliver(ctx, delay, events)
		return nil
	}
	return nil
}

func (p *Peer) deliver(ctx context.Context, delay time.Duration, events []behavior.InterfaceEvent) {
	defer p.wg.Done()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		case <-p.done:
			return
		}
	}
	for _, e := range events {
		select {
		case p.events <- e:
		case <-ctx.Done():
			return
		case <-p.done:
			return
		}
	}
}

// Events returns the channel of events raised toward the manager.
func (p *Peer) Events() <-chan behavior.InterfaceEvent { return p.events }

// Inject pushes an event directly, bypassing any reply rule, useful
// for scripting unsolicited events (a peer volunteering new tip
// information, say).
func (p *Peer) Inject(e behavior.InterfaceEvent) {
	select {
	case p.events <- e:
	case <-p.done:
	}
}

// Close stops any pending deliveries (including ones still waiting out
// their jitter delay), releases Inject callers blocked on a full event
// queue, and waits for the delivery goroutines to finish.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()
	p.wg.Wait()
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

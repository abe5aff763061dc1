// Package manager couples one interface and one behavior into the
// single-threaded poll loop that drives a peer session. Users submit
// external commands and drain external events through PollNext;
// interface dispatch and internal event routing happen underneath.
package manager

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ouroboros-go/relay/pkg/behavior"
)

// Interface is the boundary between a manager and whatever moves
// bytes on the wire for one peer (a session wrapping a plexer, or an
// emulated stand-in for tests).
type Interface interface {
	Dispatch(ctx context.Context, cmd behavior.InterfaceCommand) error
	Events() <-chan behavior.InterfaceEvent
}

const commandQueueDepth = 32

// InitiatorManager couples an Interface with an InitiatorBehavior.
// It is the sole owner of both; callers never touch either directly.
type InitiatorManager struct {
	iface    Interface
	behavior *behavior.InitiatorBehavior
	commands chan behavior.ExternalCommand
	log      *zap.Logger
}

// NewInitiatorManager builds a manager for one initiator-side peer
// set. The behavior is expected to already carry whatever promotion
// limits the caller wants; the manager only drives it.
func NewInitiatorManager(iface Interface, b *behavior.InitiatorBehavior, log *zap.Logger) *InitiatorManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &InitiatorManager{
		iface:    iface,
		behavior: b,
		commands: make(chan behavior.ExternalCommand, commandQueueDepth),
		log:      log,
	}
}

// Submit enqueues an external command for the next PollNext to
// apply. It blocks only if the queue is full, which signals the
// caller is outpacing the manager.
func (m *InitiatorManager) Submit(ctx context.Context, cmd behavior.ExternalCommand) error {
	select {
	case m.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PollNext implements spec.md §4.7's manager loop: flush queued
// commands into the behavior, then race the behavior's queued output
// against the interface's next event, dispatching interface commands
// internally and looping until an external event is ready to return.
func (m *InitiatorManager) PollNext(ctx context.Context) (behavior.ExternalEvent, error) {
	for {
		m.drainCommands()

		if out, ok := m.behavior.Next(); ok {
			if out.Command != nil {
				if err := m.iface.Dispatch(ctx, *out.Command); err != nil {
					return behavior.ExternalEvent{}, fmt.Errorf("manager: dispatch to peer %s: %w", out.Command.Peer, err)
				}
				continue
			}
			return *out.Event, nil
		}

		select {
		case <-ctx.Done():
			return behavior.ExternalEvent{}, ctx.Err()
		case cmd := <-m.commands:
			m.behavior.HandleCommand(cmd)
		case evt := <-m.iface.Events():
			m.behavior.HandleEvent(evt)
		}
	}
}

func (m *InitiatorManager) drainCommands() {
	for {
		select {
		case cmd := <-m.commands:
			m.behavior.HandleCommand(cmd)
		default:
			return
		}
	}
}

// ResponderManager couples an Interface with a ResponderBehavior for
// the accepting side of a connection.
type ResponderManager struct {
	iface    Interface
	behavior *behavior.ResponderBehavior
	commands chan behavior.ResponderCommand
	log      *zap.Logger
}

// NewResponderManager builds a manager for one responder-side peer.
func NewResponderManager(iface Interface, b *behavior.ResponderBehavior, log *zap.Logger) *ResponderManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &ResponderManager{
		iface:    iface,
		behavior: b,
		commands: make(chan behavior.ResponderCommand, commandQueueDepth),
		log:      log,
	}
}

// Submit enqueues an operator answer for the next PollNext to apply.
func (m *ResponderManager) Submit(ctx context.Context, cmd behavior.ResponderCommand) error {
	select {
	case m.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PollNext mirrors InitiatorManager.PollNext for the responder side.
func (m *ResponderManager) PollNext(ctx context.Context) (behavior.ResponderEvent, error) {
	for {
		m.drainCommands()

		if out, ok := m.behavior.Next(); ok {
			if out.Command != nil {
				if err := m.iface.Dispatch(ctx, *out.Command); err != nil {
					return behavior.ResponderEvent{}, fmt.Errorf("manager: dispatch to peer %s: %w", out.Command.Peer, err)
				}
				continue
			}
			return *out.Event, nil
		}

		select {
		case <-ctx.Done():
			return behavior.ResponderEvent{}, ctx.Err()
		case cmd := <-m.commands:
			m.behavior.HandleCommand(cmd)
		case evt := <-m.iface.Events():
			m.behavior.HandleEvent(evt)
		}
	}
}

func (m *ResponderManager) drainCommands() {
	for {
		select {
		case cmd := <-m.commands:
			m.behavior.HandleCommand(cmd)
		default:
			return
		}
	}
}

package connector

import (
	"context"
	"encoding/json"

	"github.com/robdel12/orbitdock/internal/session"
)

// Detached is the connector of a session with no live provider: restored
// sessions before a provider reattaches, and hook-driven sessions whose
// events arrive through the gateway rather than a subprocess. Driving
// calls fail with ErrDetached; the event channel stays open and silent so
// the actor's select never spins on a closed arm.
type Detached struct {
	events chan session.Input
}

// NewDetached returns a connector with no provider behind it.
func NewDetached() *Detached {
	return &Detached{events: make(chan session.Input)}
}

func (d *Detached) SendMessage(context.Context, string, []session.Attachment) error {
	return ErrDetached
}

func (d *Detached) Steer(context.Context, string) error { return ErrDetached }

func (d *Detached) Approve(context.Context, string, json.RawMessage, session.ApprovalScope) error {
	return ErrDetached
}

func (d *Detached) Deny(context.Context, string, string) error   { return ErrDetached }
func (d *Detached) Answer(context.Context, string, string) error { return ErrDetached }
func (d *Detached) Interrupt(context.Context) error              { return ErrDetached }

// End succeeds: ending a detached session needs no provider.
func (d *Detached) End(context.Context) error { return nil }

func (d *Detached) CompactContext(context.Context) error     { return ErrDetached }
func (d *Detached) UndoLastTurn(context.Context) error       { return ErrDetached }
func (d *Detached) RollbackTurns(context.Context, int) error { return ErrDetached }

func (d *Detached) Events() <-chan session.Input { return d.events }

func (d *Detached) Close() error { return nil }

// DetachedFactory builds Detached connectors for every session.
func DetachedFactory() Factory {
	return FactoryFunc(func(context.Context, Config) (Connector, error) {
		return NewDetached(), nil
	})
}

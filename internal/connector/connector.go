// Package connector is the adapter boundary to AI providers. The core
// invokes a Connector when the transition produces a connector effect and
// consumes its event stream as transition inputs; everything behind the
// interface (subprocess drivers, CLI hook bridges) lives outside the core.
package connector

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/robdel12/orbitdock/internal/session"
)

// ErrDetached is returned by driving calls on a connector that has no live
// provider attached (for example a session restored from storage before a
// provider reconnects).
var ErrDetached = errors.New("connector: no provider attached")

// Connector drives one provider-backed session. Calls may block; the actor
// awaits them in order and turns errors into Error inputs. Implementations
// honour the context passed at construction for cancellation.
type Connector interface {
	SendMessage(ctx context.Context, content string, attachments []session.Attachment) error
	Steer(ctx context.Context, content string) error
	Approve(ctx context.Context, requestID string, amended json.RawMessage, scope session.ApprovalScope) error
	Deny(ctx context.Context, requestID, reason string) error
	Answer(ctx context.Context, requestID, text string) error
	Interrupt(ctx context.Context) error
	End(ctx context.Context) error
	CompactContext(ctx context.Context) error
	UndoLastTurn(ctx context.Context) error
	RollbackTurns(ctx context.Context, n int) error

	// Events yields provider events converted 1:1 to transition inputs.
	// The channel closes when the provider goes away.
	Events() <-chan session.Input

	// Close releases provider resources. Idempotent.
	Close() error
}

// Config is what the core hands a factory about the session being driven.
type Config struct {
	SessionID      string
	Provider       session.Provider
	ProjectPath    string
	Model          string
	ApprovalPolicy string
	SandboxMode    string
}

// Factory builds connectors for new or resumed sessions. ctx is cancelled
// when the session's actor shuts down.
type Factory interface {
	New(ctx context.Context, cfg Config) (Connector, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, cfg Config) (Connector, error)

func (f FactoryFunc) New(ctx context.Context, cfg Config) (Connector, error) {
	return f(ctx, cfg)
}

package connector

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/robdel12/orbitdock/internal/session"
)

// Call records one driving invocation on a Fake.
type Call struct {
	Kind      session.CallKind
	Content   string
	RequestID string
	Amended   json.RawMessage
	Scope     session.ApprovalScope
	Reason    string
	Answer    string
	Turns     int
}

// Fake is a test double: it records every driving call and lets the test
// push provider events into the actor.
type Fake struct {
	mu     sync.Mutex
	calls  []Call
	events chan session.Input
	Err    error // returned by every driving call when set
}

// NewFake returns a fake connector with a buffered event stream.
func NewFake() *Fake {
	return &Fake{events: make(chan session.Input, 64)}
}

// Emit pushes a provider event toward the actor.
func (f *Fake) Emit(in session.Input) {
	f.events <- in
}

// Calls returns a copy of the recorded driving calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *Fake) record(c Call) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	err := f.Err
	f.mu.Unlock()
	return err
}

func (f *Fake) SendMessage(_ context.Context, content string, _ []session.Attachment) error {
	return f.record(Call{Kind: session.CallSendMessage, Content: content})
}

func (f *Fake) Steer(_ context.Context, content string) error {
	return f.record(Call{Kind: session.CallSteer, Content: content})
}

func (f *Fake) Approve(_ context.Context, requestID string, amended json.RawMessage, scope session.ApprovalScope) error {
	return f.record(Call{Kind: session.CallApprove, RequestID: requestID, Amended: amended, Scope: scope})
}

func (f *Fake) Deny(_ context.Context, requestID, reason string) error {
	return f.record(Call{Kind: session.CallDeny, RequestID: requestID, Reason: reason})
}

func (f *Fake) Answer(_ context.Context, requestID, text string) error {
	return f.record(Call{Kind: session.CallAnswer, RequestID: requestID, Answer: text})
}

func (f *Fake) Interrupt(context.Context) error {
	return f.record(Call{Kind: session.CallInterrupt})
}

func (f *Fake) End(context.Context) error {
	return f.record(Call{Kind: session.CallEnd})
}

func (f *Fake) CompactContext(context.Context) error {
	return f.record(Call{Kind: session.CallCompactContext})
}

func (f *Fake) UndoLastTurn(context.Context) error {
	return f.record(Call{Kind: session.CallUndoLastTurn})
}

func (f *Fake) RollbackTurns(_ context.Context, n int) error {
	return f.record(Call{Kind: session.CallRollbackTurns, Turns: n})
}

func (f *Fake) Events() <-chan session.Input { return f.events }

func (f *Fake) Close() error { return nil }

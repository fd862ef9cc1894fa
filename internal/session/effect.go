package session

import (
	"encoding/json"

	"github.com/robdel12/orbitdock/internal/events"
	"github.com/robdel12/orbitdock/internal/persist"
)

// Effect is a described side effect produced by Transition. The actor
// executes effects in order; the transition never performs them itself.
type Effect interface {
	isEffect()
}

// Persist enqueues one storage command.
type Persist struct {
	Op persist.Op
}

// Emit publishes one event to subscribers. Revision is the value produced
// by the transition for this event; the ring buffer stores it and replay
// frames carry it.
type Emit struct {
	Revision uint64
	Type     events.EventType
	Payload  any
}

// Connector invokes one provider call.
type Connector struct {
	Call ConnectorCall
}

func (Persist) isEffect()   {}
func (Emit) isEffect()      {}
func (Connector) isEffect() {}

// CallKind tags a connector call.
type CallKind string

const (
	CallSendMessage    CallKind = "send_message"
	CallSteer          CallKind = "steer"
	CallApprove        CallKind = "approve"
	CallDeny           CallKind = "deny"
	CallAnswer         CallKind = "answer"
	CallInterrupt      CallKind = "interrupt"
	CallEnd            CallKind = "end"
	CallCompactContext CallKind = "compact_context"
	CallUndoLastTurn   CallKind = "undo_last_turn"
	CallRollbackTurns  CallKind = "rollback_turns"
)

// ConnectorCall describes one provider invocation. Fields beyond Kind are
// populated per call kind.
type ConnectorCall struct {
	Kind        CallKind
	Content     string
	Attachments []Attachment
	RequestID   string
	Amended     json.RawMessage
	Scope       ApprovalScope
	Reason      string
	Answer      string
	Turns       int
}

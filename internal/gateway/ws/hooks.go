package ws

import (
	"errors"

	"github.com/google/uuid"

	"github.com/robdel12/orbitdock/internal/events"
	"github.com/robdel12/orbitdock/internal/registry"
	"github.com/robdel12/orbitdock/internal/session"
)

// Claude CLI hook events ride the same WebSocket endpoint as client
// messages. The bridge is thin: each hook message maps onto the same
// inputs a direct connector would produce, so hook-driven sessions share
// every invariant of the runtime.

// handleClaudeEvent dispatches the claude_* message family.
func (c *conn) handleClaudeEvent(msg ClientMessage) {
	if msg.SessionID == "" {
		c.sendError(events.CodeInvalidPayload, "missing session_id", "")
		return
	}

	switch msg.Type {
	case MsgClaudeSessionStart:
		c.handleClaudeSessionStart(msg)

	case MsgClaudeSessionEnd:
		reason := msg.Reason
		if reason == "" {
			reason = "hook_session_end"
		}
		c.sendInput(msg.SessionID, session.SessionEnded{Reason: reason})

	case MsgClaudeStatusEvent:
		c.handleClaudeStatus(msg)

	case MsgClaudeToolEvent:
		c.handleClaudeTool(msg)

	case MsgClaudeSubagentEvent:
		// Subagent progress surfaces as a system message in the thread.
		c.sendInput(msg.SessionID, session.MessageCreated{Message: session.Message{
			ID:      uuid.NewString(),
			Role:    session.RoleSystem,
			Content: msg.Content,
		}})
	}
}

// handleClaudeSessionStart registers a hook-driven session under the
// CLI's own session id. A repeated start for a live session is a no-op:
// the CLI re-announces itself after transient disconnects.
func (c *conn) handleClaudeSessionStart(msg ClientMessage) {
	if _, ok := c.g.reg.Get(msg.SessionID); ok {
		return
	}
	_, err := c.g.reg.Spawn(c.ctx, registry.SpawnConfig{
		ID:                msg.SessionID,
		Provider:          session.ProviderClaude,
		IntegrationMode:   session.IntegrationHook,
		ProjectPath:       msg.ProjectPath,
		Branch:            msg.Branch,
		Model:             msg.Model,
		ApprovalPolicy:    msg.ApprovalPolicy,
		SandboxMode:       msg.SandboxMode,
		TerminalSessionID: msg.TerminalSessionID,
	})
	if err != nil && !errors.Is(err, registry.ErrExists) {
		c.sendError(events.CodeInternal, err.Error(), msg.SessionID)
	}
}

func (c *conn) handleClaudeStatus(msg ClientMessage) {
	var in session.Input
	switch msg.Event {
	case "turn_started":
		in = session.TurnStarted{}
	case "turn_completed":
		usage := session.TokenUsage{}
		if msg.Usage != nil {
			usage = *msg.Usage
		}
		in = session.TurnCompleted{Usage: usage}
	case "turn_aborted":
		in = session.TurnAborted{Reason: msg.Reason}
	case "tokens_updated":
		if msg.Usage == nil {
			c.sendError(events.CodeInvalidPayload, "missing usage", msg.SessionID)
			return
		}
		in = session.TokensUpdated{Usage: *msg.Usage}
	case "context_compacted":
		in = session.ContextCompacted{}
	case "error":
		in = session.Error{Class: string(events.CodeInternal), Message: msg.Content}
	default:
		c.sendError(events.CodeInvalidPayload, "unknown status event: "+msg.Event, msg.SessionID)
		return
	}
	c.sendInput(msg.SessionID, in)
}

func (c *conn) handleClaudeTool(msg ClientMessage) {
	switch msg.Event {
	case "approval_requested":
		c.sendInput(msg.SessionID, session.ApprovalRequested{Request: session.ApprovalRequest{
			RequestID: msg.RequestID,
			Kind:      session.ApprovalToolUse,
			ToolName:  msg.ToolName,
			ToolInput: msg.ToolInput,
		}})
	case "tool_message":
		role := session.Role(msg.Role)
		if role == "" {
			role = session.RoleTool
		}
		c.sendInput(msg.SessionID, session.MessageCreated{Message: session.Message{
			ID:      uuid.NewString(),
			Role:    role,
			Content: msg.Content,
		}})
	default:
		c.sendError(events.CodeInvalidPayload, "unknown tool event: "+msg.Event, msg.SessionID)
	}
}

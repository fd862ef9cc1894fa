package session

import (
	"time"

	"github.com/robdel12/orbitdock/internal/events"
	"github.com/robdel12/orbitdock/internal/persist"
)

// Transition applies one input to a session state and returns the next
// state plus the effects to execute. It is pure: no I/O, no clocks beyond
// now, no shared state. Revision increments exactly once per emit, so
// tests can assert exact revision sequences.
//
// Invalid transitions return the state unchanged with no effects. Once the
// phase is Ended no input has any effect.
func Transition(st State, in Input, now time.Time) (State, []Effect) {
	if st.Phase == PhaseEnded {
		return st, nil
	}

	var effects []Effect
	emit := func(t events.EventType, payload any) {
		st.Revision++
		effects = append(effects, Emit{Revision: st.Revision, Type: t, Payload: payload})
	}
	save := func(op persist.Op) {
		op.SessionID = st.ID
		effects = append(effects, Persist{Op: op})
	}
	call := func(c ConnectorCall) {
		effects = append(effects, Connector{Call: c})
	}
	touch := func() {
		st.Meta.LastActivityAt = now
	}

	switch in := in.(type) {
	case TurnStarted:
		// Valid from Working too: an optimistic UserSentMessage may have
		// moved the phase already; the delta still goes out here.
		if st.Phase != PhaseIdle && st.Phase != PhaseWorking {
			return st, nil
		}
		st.Phase = PhaseWorking
		touch()
		save(fieldsOp(map[string]any{"phase": st.Phase, "last_activity_at": now}))
		emit(events.EventSessionDelta, DeltaPayload{Phase: &st.Phase, LastActivityAt: &now})

	case TurnCompleted:
		if st.Phase != PhaseWorking {
			return st, nil
		}
		st.Phase = PhaseIdle
		st.Tokens = in.Usage
		touch()
		save(tokensOp(st.ID, in.Usage, now))
		save(fieldsOp(map[string]any{"phase": st.Phase, "last_activity_at": now}))
		emit(events.EventTokensUpdated, TokensPayload{Tokens: st.Tokens})
		emit(events.EventSessionDelta, DeltaPayload{Phase: &st.Phase, LastActivityAt: &now})

	case TurnAborted:
		if st.Phase != PhaseWorking {
			return st, nil
		}
		st.Phase = PhaseIdle
		touch()
		save(fieldsOp(map[string]any{"phase": st.Phase, "last_activity_at": now}))
		emit(events.EventSessionDelta, DeltaPayload{Phase: &st.Phase, LastActivityAt: &now})

	case MessageCreated:
		msg := in.Message
		msg.SessionID = st.ID
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		if msg.UpdatedAt.IsZero() {
			msg.UpdatedAt = msg.CreatedAt
		}
		st.Messages = append(st.Messages, msg)
		fields := map[string]any{"last_activity_at": now}
		if msg.Role == RoleTool {
			st.ToolCount++
			fields["tool_count"] = st.ToolCount
		}
		touch()
		save(persist.Op{Kind: persist.OpInsertMessage, Message: messageRow(msg)})
		save(fieldsOp(fields))
		emit(events.EventMessageAppended, MessageAppendedPayload{Message: msg})

	case MessageUpdated:
		idx := st.findMessage(in.ID)
		if idx < 0 {
			return st, nil
		}
		msgs := make([]Message, len(st.Messages))
		copy(msgs, st.Messages)
		msgs[idx].Content += in.Delta
		msgs[idx].UpdatedAt = now
		st.Messages = msgs
		save(persist.Op{Kind: persist.OpUpdateMessage, Message: messageRow(msgs[idx])})
		emit(events.EventMessageUpdated, MessageUpdatedPayload{
			ID:        in.ID,
			Delta:     in.Delta,
			Content:   msgs[idx].Content,
			UpdatedAt: now,
		})

	case ApprovalRequested:
		if st.Phase != PhaseWorking {
			return st, nil
		}
		req := in.Request
		st.Phase = PhaseAwaitingApproval
		st.Pending = &req
		touch()
		save(fieldsOp(map[string]any{"phase": st.Phase, "last_activity_at": now}))
		emit(events.EventApprovalRequested, ApprovalRequestedPayload{Request: req})

	case UserApproved:
		if st.Phase != PhaseAwaitingApproval || st.Pending == nil || st.Pending.RequestID != in.RequestID {
			return st, nil
		}
		req := *st.Pending
		st.Phase = PhaseWorking
		st.Pending = nil
		scope := in.Scope
		if scope == "" {
			scope = ScopeOnce
		}
		touch()
		call(ConnectorCall{Kind: CallApprove, RequestID: req.RequestID, Amended: in.AmendedInput, Scope: scope})
		save(decisionOp(st.ID, req, string(scope), string(in.AmendedInput), "", now))
		save(fieldsOp(map[string]any{"phase": st.Phase, "last_activity_at": now}))
		emit(events.EventSessionDelta, DeltaPayload{Phase: &st.Phase, LastActivityAt: &now})

	case UserDenied:
		if st.Phase != PhaseAwaitingApproval || st.Pending == nil || st.Pending.RequestID != in.RequestID {
			return st, nil
		}
		req := *st.Pending
		st.Phase = PhaseIdle
		st.Pending = nil
		touch()
		call(ConnectorCall{Kind: CallDeny, RequestID: req.RequestID, Reason: in.Reason})
		save(decisionOp(st.ID, req, "denied", "", in.Reason, now))
		save(fieldsOp(map[string]any{"phase": st.Phase, "last_activity_at": now}))
		emit(events.EventSessionDelta, DeltaPayload{Phase: &st.Phase, LastActivityAt: &now})

	case UserAnsweredQuestion:
		if st.Phase != PhaseAwaitingApproval || st.Pending == nil || st.Pending.RequestID != in.RequestID {
			return st, nil
		}
		req := *st.Pending
		st.Phase = PhaseWorking
		st.Pending = nil
		touch()
		call(ConnectorCall{Kind: CallAnswer, RequestID: req.RequestID, Answer: in.Answer})
		save(decisionOp(st.ID, req, "answered", "", in.Answer, now))
		save(fieldsOp(map[string]any{"phase": st.Phase, "last_activity_at": now}))
		emit(events.EventSessionDelta, DeltaPayload{Phase: &st.Phase, LastActivityAt: &now})

	case UserSentMessage:
		if st.Phase != PhaseIdle && st.Phase != PhaseWorking {
			return st, nil
		}
		msg := Message{
			ID:        in.MessageID,
			SessionID: st.ID,
			Role:      RoleUser,
			Content:   in.Content,
			CreatedAt: now,
			UpdatedAt: now,
		}
		st.Messages = append(st.Messages, msg)
		st.Phase = PhaseWorking
		st.PromptCount++
		fields := map[string]any{
			"phase":            st.Phase,
			"prompt_count":     st.PromptCount,
			"last_activity_at": now,
		}
		if st.Meta.FirstPrompt == "" {
			st.Meta.FirstPrompt = in.Content
			fields["first_prompt"] = in.Content
		}
		touch()
		save(persist.Op{Kind: persist.OpInsertMessage, Message: messageRow(msg)})
		save(fieldsOp(fields))
		emit(events.EventMessageAppended, MessageAppendedPayload{Message: msg})
		call(ConnectorCall{Kind: CallSendMessage, Content: in.Content, Attachments: in.Attachments})

	case UserSteered:
		if st.Phase != PhaseWorking {
			return st, nil
		}
		touch()
		call(ConnectorCall{Kind: CallSteer, Content: in.Content})
		emit(events.EventSessionDelta, DeltaPayload{LastActivityAt: &now})

	case UserInterrupted:
		if st.Phase != PhaseWorking && st.Phase != PhaseAwaitingApproval {
			return st, nil
		}
		st.Phase = PhaseIdle
		st.Pending = nil
		touch()
		call(ConnectorCall{Kind: CallInterrupt})
		save(fieldsOp(map[string]any{"phase": st.Phase, "last_activity_at": now}))
		emit(events.EventSessionDelta, DeltaPayload{Phase: &st.Phase, LastActivityAt: &now})

	case UserEndedSession:
		call(ConnectorCall{Kind: CallEnd})
		st = endState(st, "user_ended", now)
		save(endFieldsOp(st, now))
		emit(events.EventSessionEnded, EndedPayload{Reason: st.EndReason})

	case SessionEnded:
		reason := in.Reason
		if reason == "" {
			reason = "ended"
		}
		st = endState(st, reason, now)
		save(endFieldsOp(st, now))
		emit(events.EventSessionEnded, EndedPayload{Reason: st.EndReason})

	case TokensUpdated:
		// Cumulative replace, never add.
		st.Tokens = in.Usage
		save(tokensOp(st.ID, in.Usage, now))
		emit(events.EventTokensUpdated, TokensPayload{Tokens: st.Tokens})

	case DiffUpdated:
		st.Diff = in.Diff
		emit(events.EventSessionDelta, DeltaPayload{Diff: &st.Diff})

	case PlanUpdated:
		st.Plan = in.Plan
		emit(events.EventSessionDelta, DeltaPayload{Plan: st.Plan})

	case ThreadNameUpdated:
		st.Meta.CustomName = in.Name
		save(fieldsOp(map[string]any{"custom_name": in.Name}))
		emit(events.EventSessionDelta, DeltaPayload{CustomName: &st.Meta.CustomName})

	case UndoStarted:
		st.UndoInProgress = true
		emit(events.EventSessionDelta, DeltaPayload{UndoInProgress: &st.UndoInProgress})

	case UndoCompleted:
		st.UndoInProgress = false
		emit(events.EventSessionDelta, DeltaPayload{UndoInProgress: &st.UndoInProgress})

	case ThreadRolledBack:
		if in.Turns <= 0 {
			return st, nil
		}
		st.Messages = truncateTurns(st.Messages, in.Turns)
		n := in.Turns
		emit(events.EventSessionDelta, DeltaPayload{RolledBackTurns: &n})

	case ContextCompacted:
		compacted := true
		emit(events.EventSessionDelta, DeltaPayload{ContextCompacted: &compacted})

	case Error:
		if st.Phase != PhaseIdle {
			st.Phase = PhaseIdle
			st.Pending = nil
			save(fieldsOp(map[string]any{"phase": st.Phase, "last_activity_at": now}))
		}
		touch()
		code := events.ErrorCode(in.Class)
		if code == "" {
			code = events.CodeInternal
		}
		emit(events.EventError, events.ErrorPayload{Code: code, Message: in.Message})

	case SkillsRefreshed:
		emit(events.EventSessionDelta, DeltaPayload{Skills: in.Skills})

	case McpStateChanged:
		emit(events.EventSessionDelta, DeltaPayload{McpState: in.State})

	default:
		return st, nil
	}

	return st, effects
}

// endState clears transient artifacts and marks the terminal phase.
func endState(st State, reason string, now time.Time) State {
	st.Phase = PhaseEnded
	st.Status = StatusEnded
	st.EndReason = reason
	st.Pending = nil
	st.Diff = ""
	st.Plan = nil
	st.UndoInProgress = false
	st.Meta.LastActivityAt = now
	return st
}

func endFieldsOp(st State, now time.Time) persist.Op {
	return fieldsOp(map[string]any{
		"phase":            st.Phase,
		"status":           st.Status,
		"end_reason":       st.EndReason,
		"last_activity_at": now,
	})
}

func fieldsOp(fields map[string]any) persist.Op {
	return persist.Op{Kind: persist.OpUpdateSessionFields, Fields: fields}
}

func tokensOp(sessionID string, u TokenUsage, now time.Time) persist.Op {
	return persist.Op{Kind: persist.OpSetTokens, Tokens: &persist.TokensRow{
		SessionID:       sessionID,
		InputTokens:     u.Input,
		CachedTokens:    u.Cached,
		OutputTokens:    u.Output,
		ReasoningTokens: u.Reasoning,
		TotalTokens:     u.Total,
		UpdatedAt:       now,
	}}
}

func decisionOp(sessionID string, req ApprovalRequest, decision, amended, reason string, now time.Time) persist.Op {
	return persist.Op{Kind: persist.OpAppendApprovalDecision, Decision: &persist.DecisionRow{
		SessionID:    sessionID,
		RequestID:    req.RequestID,
		Kind:         string(req.Kind),
		ToolName:     req.ToolName,
		Decision:     decision,
		AmendedInput: amended,
		Reason:       reason,
		DecidedAt:    now,
	}}
}

func messageRow(m Message) *persist.MessageRow {
	return &persist.MessageRow{
		ID:              m.ID,
		SessionID:       m.SessionID,
		Role:            string(m.Role),
		Content:         m.Content,
		ToolUseID:       m.ToolUseID,
		ParentMessageID: m.ParentMessageID,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// findMessage scans from the tail; updates target recent messages.
func (st *State) findMessage(id string) int {
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// truncateTurns drops the last n user turns: everything from the nth user
// message counted from the tail, inclusive.
func truncateTurns(msgs []Message, n int) []Message {
	seen := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			seen++
			if seen == n {
				out := make([]Message, i)
				copy(out, msgs[:i])
				return out
			}
		}
	}
	return nil
}

// Package ws implements the WebSocket side of the gateway: one goroutine
// reads and dispatches client messages, one writes frames, and one
// forwarder per subscription bridges a session broadcaster to the writer.
package ws

import (
	"encoding/json"
	"fmt"

	"github.com/robdel12/orbitdock/internal/session"
)

// ProtocolVersion is bumped on breaking frame changes.
const ProtocolVersion = 1

// Client → server message types. The set is closed; anything else gets an
// invalid_payload error.
const (
	MsgSubscribeList      = "subscribe_list"
	MsgSubscribeSession   = "subscribe_session"
	MsgUnsubscribeSession = "unsubscribe_session"

	MsgCreateSession    = "create_session"
	MsgResumeSession    = "resume_session"
	MsgForkSession      = "fork_session"
	MsgSendMessage      = "send_message"
	MsgSteerTurn        = "steer_turn"
	MsgApproveTool      = "approve_tool"
	MsgAnswerQuestion   = "answer_question"
	MsgInterruptSession = "interrupt_session"
	MsgEndSession       = "end_session"

	MsgCompactContext = "compact_context"
	MsgUndoLastTurn   = "undo_last_turn"
	MsgRollbackTurns  = "rollback_turns"

	MsgAddReviewComment    = "add_review_comment"
	MsgUpdateReviewComment = "update_review_comment"
	MsgDeleteReviewComment = "delete_review_comment"

	MsgClaudeSessionStart  = "claude_session_start"
	MsgClaudeSessionEnd    = "claude_session_end"
	MsgClaudeStatusEvent   = "claude_status_event"
	MsgClaudeToolEvent     = "claude_tool_event"
	MsgClaudeSubagentEvent = "claude_subagent_event"
)

// ClientMessage is the envelope of every inbound frame. Fields beyond
// Type are populated per message type.
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`

	// subscribe_session
	SinceRevision *uint64 `json:"since_revision,omitempty"`

	// create_session / resume_session
	Provider          string `json:"provider,omitempty"`
	ProjectPath       string `json:"project_path,omitempty"`
	Branch            string `json:"branch,omitempty"`
	Model             string `json:"model,omitempty"`
	ApprovalPolicy    string `json:"approval_policy,omitempty"`
	SandboxMode       string `json:"sandbox_mode,omitempty"`
	CustomName        string `json:"custom_name,omitempty"`
	WorkstreamID      string `json:"workstream_id,omitempty"`
	TerminalSessionID string `json:"terminal_session_id,omitempty"`

	// fork_session
	SourceSessionID string `json:"source_session_id,omitempty"`
	NthUserMessage  int    `json:"nth_user_message,omitempty"`

	// send_message / steer_turn
	Content     string               `json:"content,omitempty"`
	Attachments []session.Attachment `json:"attachments,omitempty"`

	// approve_tool / answer_question
	RequestID    string          `json:"request_id,omitempty"`
	Decision     string          `json:"decision,omitempty"`
	AmendedInput json.RawMessage `json:"amended_input,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Answer       string          `json:"answer,omitempty"`

	// rollback_turns
	NumTurns int `json:"num_turns,omitempty"`

	// review comments
	CommentID string `json:"comment_id,omitempty"`
	FilePath  string `json:"file_path,omitempty"`
	Line      int    `json:"line,omitempty"`
	Body      string `json:"body,omitempty"`
	Resolved  *bool  `json:"resolved,omitempty"`

	// claude_* hook bridge
	Event     string              `json:"event,omitempty"`
	ToolName  string              `json:"tool_name,omitempty"`
	ToolInput json.RawMessage     `json:"tool_input,omitempty"`
	Role      string              `json:"role,omitempty"`
	Usage     *session.TokenUsage `json:"usage,omitempty"`
}

// ParseClientMessage unmarshals one inbound frame.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("parse client message: %w", err)
	}
	if msg.Type == "" {
		return msg, fmt.Errorf("client message missing type")
	}
	return msg, nil
}

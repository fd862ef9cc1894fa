package session

import (
	"encoding/json"
	"time"
)

// DeltaPayload is the partial-field body of a session_delta event. Only
// the fields the producing transition touched are present.
type DeltaPayload struct {
	Phase            *Phase          `json:"phase,omitempty"`
	Status           *Status         `json:"status,omitempty"`
	EndReason        *string         `json:"end_reason,omitempty"`
	CustomName       *string         `json:"custom_name,omitempty"`
	Diff             *string         `json:"diff,omitempty"`
	Plan             json.RawMessage `json:"plan,omitempty"`
	UndoInProgress   *bool           `json:"undo_in_progress,omitempty"`
	RolledBackTurns  *int            `json:"rolled_back_turns,omitempty"`
	ContextCompacted *bool           `json:"context_compacted,omitempty"`
	Skills           json.RawMessage `json:"skills,omitempty"`
	McpState         json.RawMessage `json:"mcp_state,omitempty"`
	LastActivityAt   *time.Time      `json:"last_activity_at,omitempty"`
}

// MessageAppendedPayload carries a full new message.
type MessageAppendedPayload struct {
	Message Message `json:"message"`
}

// MessageUpdatedPayload carries a streamed content update. Content is the
// full post-update text so clients need not track partials.
type MessageUpdatedPayload struct {
	ID        string    `json:"id"`
	Delta     string    `json:"delta"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ApprovalRequestedPayload carries the pending request.
type ApprovalRequestedPayload struct {
	Request ApprovalRequest `json:"request"`
}

// TokensPayload carries the cumulative usage after an update.
type TokensPayload struct {
	Tokens TokenUsage `json:"tokens"`
}

// EndedPayload reports the terminal transition.
type EndedPayload struct {
	Reason string `json:"reason"`
}

// SnapshotPayload wraps a full snapshot for session_snapshot frames.
type SnapshotPayload struct {
	Session *Snapshot `json:"session"`
}

// ListPayload wraps the full summary list for sessions_list frames.
type ListPayload struct {
	Sessions []*Snapshot `json:"sessions"`
}

// RemovedPayload is the body of session_removed frames; session_id rides
// at the top level of the frame.
type RemovedPayload struct{}

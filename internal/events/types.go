// Package events defines the outbound event vocabulary of the server and
// the JSON frame shape delivered to WebSocket subscribers.
package events

// EventType identifies an outbound event. The set is closed; clients
// dispatch on it.
type EventType string

const (
	EventHello             EventType = "hello"
	EventSessionsList      EventType = "sessions_list"
	EventSessionAdded      EventType = "session_added"
	EventSessionRemoved    EventType = "session_removed"
	EventSessionSnapshot   EventType = "session_snapshot"
	EventSessionDelta      EventType = "session_delta"
	EventMessageAppended   EventType = "message_appended"
	EventMessageUpdated    EventType = "message_updated"
	EventApprovalRequested EventType = "approval_requested"
	EventTokensUpdated     EventType = "tokens_updated"
	EventSessionEnded      EventType = "session_ended"
	EventError             EventType = "error"
)

// ErrorCode values carried by error frames.
type ErrorCode string

const (
	CodeLagged         ErrorCode = "lagged"
	CodeUnknownSession ErrorCode = "unknown_session"
	CodeInvalidPayload ErrorCode = "invalid_payload"
	CodeUnauthorized   ErrorCode = "unauthorized"
	CodeRateLimited    ErrorCode = "rate_limited"
	CodeInternal       ErrorCode = "internal"
)

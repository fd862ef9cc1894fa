// Package persist defines the command values consumed by the storage
// writer. It is a leaf package: the transition function produces these
// values without touching the database.
package persist

import "time"

// OpKind tags a persistence command.
type OpKind string

const (
	OpUpsertSession          OpKind = "upsert_session"
	OpUpdateSessionFields    OpKind = "update_session_fields"
	OpInsertMessage          OpKind = "insert_message"
	OpUpdateMessage          OpKind = "update_message"
	OpSetTokens              OpKind = "set_tokens"
	OpAppendApprovalDecision OpKind = "append_approval_decision"
	OpInsertReviewComment    OpKind = "insert_review_comment"
	OpUpdateReviewComment    OpKind = "update_review_comment"
	OpDeleteReviewComment    OpKind = "delete_review_comment"
)

// SessionRow is the full sessions-table image used by OpUpsertSession.
type SessionRow struct {
	ID                string
	Provider          string
	IntegrationMode   string
	Status            string
	Phase             string
	EndReason         string
	ProjectPath       string
	Branch            string
	Model             string
	CustomName        string
	Summary           string
	FirstPrompt       string
	ApprovalPolicy    string
	SandboxMode       string
	ForkedFrom        string
	WorkstreamID      string
	TerminalSessionID string
	PromptCount       int
	ToolCount         int
	CreatedAt         time.Time
	LastActivityAt    time.Time
}

// MessageRow is the messages-table image for insert and update ops.
type MessageRow struct {
	ID              string
	SessionID       string
	Role            string
	Content         string
	ToolUseID       string
	ParentMessageID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TokensRow is the token_usage-table image.
type TokensRow struct {
	SessionID       string
	InputTokens     int64
	CachedTokens    int64
	OutputTokens    int64
	ReasoningTokens int64
	TotalTokens     int64
	UpdatedAt       time.Time
}

// DecisionRow records one approval decision.
type DecisionRow struct {
	SessionID    string
	RequestID    string
	Kind         string
	ToolName     string
	Decision     string
	AmendedInput string
	Reason       string
	DecidedAt    time.Time
}

// CommentRow is the review_comments-table image.
type CommentRow struct {
	ID        string
	SessionID string
	FilePath  string
	Line      int
	Body      string
	Resolved  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Op is a single persistence command. Exactly the fields relevant to its
// Kind are set; the writer ignores the rest.
type Op struct {
	Kind      OpKind
	SessionID string

	Session   *SessionRow    // OpUpsertSession
	Fields    map[string]any // OpUpdateSessionFields (column → value)
	Message   *MessageRow    // OpInsertMessage, OpUpdateMessage
	Tokens    *TokensRow     // OpSetTokens
	Decision  *DecisionRow   // OpAppendApprovalDecision
	Comment   *CommentRow    // OpInsertReviewComment, OpUpdateReviewComment
	CommentID string         // OpUpdateReviewComment, OpDeleteReviewComment
}

// Package session holds the session state machine: the state value, the
// closed input and effect sets, and the pure transition function. Nothing
// in this package performs I/O or reads clocks; the actor owns execution.
package session

import (
	"encoding/json"
	"time"
)

// Provider identifies the AI backend driving a session.
type Provider string

const (
	ProviderCodex  Provider = "codex"
	ProviderClaude Provider = "claude"
)

// IntegrationMode distinguishes how a provider is attached.
type IntegrationMode string

const (
	IntegrationDirect IntegrationMode = "direct"
	IntegrationHook   IntegrationMode = "hook"
)

// Phase is the runtime lifecycle state of a session.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseWorking          Phase = "working"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseEnded            Phase = "ended"
)

// Status is the coarse durability flag, distinct from Phase: an idle
// session is still active.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ApprovalKind classifies an approval request.
type ApprovalKind string

const (
	ApprovalToolUse  ApprovalKind = "tool_use"
	ApprovalExec     ApprovalKind = "exec"
	ApprovalQuestion ApprovalKind = "question"
)

// ApprovalScope is how far a user approval reaches.
type ApprovalScope string

const (
	ScopeOnce       ApprovalScope = "approved"
	ScopeForSession ApprovalScope = "approved_for_session"
	ScopeAlways     ApprovalScope = "approved_always"
)

// TokenUsage is cumulative token consumption. Updates replace the whole
// value; they never add.
type TokenUsage struct {
	Input     int64 `json:"input"`
	Cached    int64 `json:"cached,omitempty"`
	Output    int64 `json:"output"`
	Reasoning int64 `json:"reasoning,omitempty"`
	Total     int64 `json:"total"`
}

// Message is one entry in a session's conversation.
type Message struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	Role            Role      `json:"role"`
	Content         string    `json:"content"`
	ToolUseID       string    `json:"tool_use_id,omitempty"`
	ParentMessageID string    `json:"parent_message_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Attachment accompanies a user message.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Path     string `json:"path,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// ApprovalRequest is a pending request for a user decision.
type ApprovalRequest struct {
	RequestID         string          `json:"request_id"`
	Kind              ApprovalKind    `json:"kind"`
	ToolName          string          `json:"tool_name,omitempty"`
	ToolInput         json.RawMessage `json:"tool_input,omitempty"`
	Prompt            string          `json:"prompt,omitempty"`
	DecisionOptions   []string        `json:"decision_options,omitempty"`
	ProposedAmendment json.RawMessage `json:"proposed_amendment,omitempty"`
}

// Meta is the descriptive metadata of a session.
type Meta struct {
	ProjectPath       string    `json:"project_path"`
	Branch            string    `json:"branch,omitempty"`
	Model             string    `json:"model,omitempty"`
	CustomName        string    `json:"custom_name,omitempty"`
	Summary           string    `json:"summary,omitempty"`
	FirstPrompt       string    `json:"first_prompt,omitempty"`
	ApprovalPolicy    string    `json:"approval_policy,omitempty"`
	SandboxMode       string    `json:"sandbox_mode,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	ForkedFrom        string    `json:"forked_from,omitempty"`
	WorkstreamID      string    `json:"workstream_id,omitempty"`
	TerminalSessionID string    `json:"terminal_session_id,omitempty"`
}

// State is the full per-session state owned by the actor. Only the owning
// actor mutates it; everyone else sees a Snapshot.
type State struct {
	ID              string
	Revision        uint64
	Phase           Phase
	Pending         *ApprovalRequest // set while Phase == PhaseAwaitingApproval
	EndReason       string
	Provider        Provider
	IntegrationMode IntegrationMode
	Meta            Meta
	Messages        []Message
	Tokens          TokenUsage
	Diff            string
	Plan            json.RawMessage
	UndoInProgress  bool
	PromptCount     int
	ToolCount       int
	Status          Status
}

// New builds the initial state for a fresh session.
func New(id string, provider Provider, mode IntegrationMode, meta Meta) State {
	return State{
		ID:              id,
		Revision:        0,
		Phase:           PhaseIdle,
		Provider:        provider,
		IntegrationMode: mode,
		Meta:            meta,
		Status:          StatusActive,
	}
}

// Snapshot is the immutable public view of a session. Messages and diffs
// are not included; they stream separately.
type Snapshot struct {
	ID              string           `json:"id"`
	Provider        Provider         `json:"provider"`
	IntegrationMode IntegrationMode  `json:"integration_mode"`
	Phase           Phase            `json:"phase"`
	Pending         *ApprovalRequest `json:"pending_approval,omitempty"`
	EndReason       string           `json:"end_reason,omitempty"`
	Status          Status           `json:"status"`
	Meta            Meta             `json:"meta"`
	PromptCount     int              `json:"prompt_count"`
	ToolCount       int              `json:"tool_count"`
	Tokens          TokenUsage       `json:"tokens"`
	Revision        uint64           `json:"revision"`
}

// TakeSnapshot builds the public view of st. The returned value shares no
// mutable storage with the state.
func (st *State) TakeSnapshot() *Snapshot {
	snap := &Snapshot{
		ID:              st.ID,
		Provider:        st.Provider,
		IntegrationMode: st.IntegrationMode,
		Phase:           st.Phase,
		EndReason:       st.EndReason,
		Status:          st.Status,
		Meta:            st.Meta,
		PromptCount:     st.PromptCount,
		ToolCount:       st.ToolCount,
		Tokens:          st.Tokens,
		Revision:        st.Revision,
	}
	if st.Pending != nil {
		p := *st.Pending
		snap.Pending = &p
	}
	return snap
}

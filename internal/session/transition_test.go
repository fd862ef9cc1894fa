package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/robdel12/orbitdock/internal/events"
	"github.com/robdel12/orbitdock/internal/persist"
)

var testNow = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func newTestState() State {
	return New("s1", ProviderCodex, IntegrationDirect, Meta{
		ProjectPath:    "/tmp/project",
		CreatedAt:      testNow,
		LastActivityAt: testNow,
	})
}

func emits(effects []Effect) []Emit {
	var out []Emit
	for _, e := range effects {
		if emit, ok := e.(Emit); ok {
			out = append(out, emit)
		}
	}
	return out
}

func persists(effects []Effect) []persist.Op {
	var out []persist.Op
	for _, e := range effects {
		if p, ok := e.(Persist); ok {
			out = append(out, p.Op)
		}
	}
	return out
}

func calls(effects []Effect) []ConnectorCall {
	var out []ConnectorCall
	for _, e := range effects {
		if c, ok := e.(Connector); ok {
			out = append(out, c.Call)
		}
	}
	return out
}

// Scenario: a full basic turn with exact revision numbers.
func TestBasicTurnRevisions(t *testing.T) {
	st := newTestState()

	st, effects := Transition(st, UserSentMessage{MessageID: "m1", Content: "hello"}, testNow)
	es := emits(effects)
	if len(es) != 1 || es[0].Type != events.EventMessageAppended || es[0].Revision != 1 {
		t.Fatalf("user message: got %+v", es)
	}
	cs := calls(effects)
	if len(cs) != 1 || cs[0].Kind != CallSendMessage || cs[0].Content != "hello" {
		t.Fatalf("expected SendMessage call, got %+v", cs)
	}
	if st.Phase != PhaseWorking {
		t.Fatalf("expected working after user message, got %s", st.Phase)
	}
	if st.PromptCount != 1 || st.Meta.FirstPrompt != "hello" {
		t.Fatalf("counters: prompt=%d first=%q", st.PromptCount, st.Meta.FirstPrompt)
	}

	st, effects = Transition(st, TurnStarted{}, testNow)
	es = emits(effects)
	if len(es) != 1 || es[0].Type != events.EventSessionDelta || es[0].Revision != 2 {
		t.Fatalf("turn started: got %+v", es)
	}

	st, effects = Transition(st, MessageCreated{Message: Message{ID: "m2", Role: RoleAssistant, Content: "hi"}}, testNow)
	es = emits(effects)
	if len(es) != 1 || es[0].Type != events.EventMessageAppended || es[0].Revision != 3 {
		t.Fatalf("assistant message: got %+v", es)
	}

	usage := TokenUsage{Input: 10, Output: 5, Total: 15}
	st, effects = Transition(st, TurnCompleted{Usage: usage}, testNow)
	es = emits(effects)
	if len(es) != 2 {
		t.Fatalf("turn completed: expected 2 emits, got %d", len(es))
	}
	if es[0].Type != events.EventTokensUpdated || es[0].Revision != 4 {
		t.Errorf("tokens emit: %+v", es[0])
	}
	if es[1].Type != events.EventSessionDelta || es[1].Revision != 5 {
		t.Errorf("delta emit: %+v", es[1])
	}
	if st.Phase != PhaseIdle || st.Tokens != usage || st.Revision != 5 {
		t.Fatalf("final state: phase=%s tokens=%+v rev=%d", st.Phase, st.Tokens, st.Revision)
	}
	if len(st.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(st.Messages))
	}
}

// Scenario: approval with an amended input.
func TestApprovalAmend(t *testing.T) {
	st := newTestState()
	st, _ = Transition(st, TurnStarted{}, testNow)
	rev := st.Revision

	req := ApprovalRequest{RequestID: "r1", Kind: ApprovalExec, ToolInput: []byte(`{"cmd":"rm foo"}`)}
	st, effects := Transition(st, ApprovalRequested{Request: req}, testNow)
	es := emits(effects)
	if len(es) != 1 || es[0].Type != events.EventApprovalRequested || es[0].Revision != rev+1 {
		t.Fatalf("approval requested: got %+v", es)
	}
	if st.Phase != PhaseAwaitingApproval || st.Pending == nil || st.Pending.RequestID != "r1" {
		t.Fatalf("phase after request: %s, pending %+v", st.Phase, st.Pending)
	}

	amended := []byte(`{"cmd":"rm ./foo"}`)
	st, effects = Transition(st, UserApproved{RequestID: "r1", AmendedInput: amended}, testNow)
	es = emits(effects)
	if len(es) != 1 || es[0].Type != events.EventSessionDelta || es[0].Revision != rev+2 {
		t.Fatalf("approved delta: got %+v", es)
	}
	cs := calls(effects)
	if len(cs) != 1 || cs[0].Kind != CallApprove || cs[0].RequestID != "r1" || string(cs[0].Amended) != string(amended) {
		t.Fatalf("approve call: %+v", cs)
	}
	if cs[0].Scope != ScopeOnce {
		t.Errorf("default scope: %s", cs[0].Scope)
	}
	if st.Phase != PhaseWorking || st.Pending != nil {
		t.Fatalf("phase after approve: %s", st.Phase)
	}

	var decision *persist.DecisionRow
	for _, op := range persists(effects) {
		if op.Kind == persist.OpAppendApprovalDecision {
			decision = op.Decision
		}
	}
	if decision == nil || decision.Decision != "approved" || decision.RequestID != "r1" {
		t.Fatalf("decision row: %+v", decision)
	}
}

func TestDenyReturnsToIdle(t *testing.T) {
	st := newTestState()
	st, _ = Transition(st, TurnStarted{}, testNow)
	st, _ = Transition(st, ApprovalRequested{Request: ApprovalRequest{RequestID: "r1", Kind: ApprovalToolUse}}, testNow)

	st, effects := Transition(st, UserDenied{RequestID: "r1", Reason: "nope"}, testNow)
	if st.Phase != PhaseIdle {
		t.Fatalf("phase after deny: %s", st.Phase)
	}
	cs := calls(effects)
	if len(cs) != 1 || cs[0].Kind != CallDeny || cs[0].Reason != "nope" {
		t.Fatalf("deny call: %+v", cs)
	}
}

func TestAnswerQuestionResumesWork(t *testing.T) {
	st := newTestState()
	st, _ = Transition(st, TurnStarted{}, testNow)
	st, _ = Transition(st, ApprovalRequested{Request: ApprovalRequest{RequestID: "q1", Kind: ApprovalQuestion, Prompt: "which file?"}}, testNow)

	st, effects := Transition(st, UserAnsweredQuestion{RequestID: "q1", Answer: "main.go"}, testNow)
	if st.Phase != PhaseWorking {
		t.Fatalf("phase after answer: %s", st.Phase)
	}
	cs := calls(effects)
	if len(cs) != 1 || cs[0].Kind != CallAnswer || cs[0].Answer != "main.go" {
		t.Fatalf("answer call: %+v", cs)
	}
}

// Terminal phase is absorbing: no input has any effect after Ended.
func TestEndedIsAbsorbing(t *testing.T) {
	st := newTestState()
	st, effects := Transition(st, SessionEnded{Reason: "user_ended"}, testNow)
	es := emits(effects)
	if len(es) != 1 || es[0].Type != events.EventSessionEnded {
		t.Fatalf("end emit: %+v", es)
	}
	if st.Phase != PhaseEnded || st.Status != StatusEnded || st.EndReason != "user_ended" {
		t.Fatalf("end state: %+v", st)
	}

	inputs := []Input{
		TurnStarted{}, TurnCompleted{}, UserSentMessage{MessageID: "x", Content: "hi"},
		ApprovalRequested{Request: ApprovalRequest{RequestID: "r"}},
		UserInterrupted{}, TokensUpdated{Usage: TokenUsage{Input: 1}},
		Error{Message: "late"}, SessionEnded{Reason: "again"},
	}
	for _, in := range inputs {
		next, effects := Transition(st, in, testNow.Add(time.Minute))
		if len(effects) != 0 {
			t.Errorf("%T produced effects after end", in)
		}
		if next.Revision != st.Revision || next.Phase != PhaseEnded {
			t.Errorf("%T mutated terminal state", in)
		}
	}
}

func TestEndClearsTransientArtifacts(t *testing.T) {
	st := newTestState()
	st, _ = Transition(st, DiffUpdated{Diff: "+++ added"}, testNow)
	st, _ = Transition(st, PlanUpdated{Plan: []byte(`{"steps":[]}`)}, testNow)
	st, _ = Transition(st, TurnStarted{}, testNow)
	st, _ = Transition(st, ApprovalRequested{Request: ApprovalRequest{RequestID: "r1"}}, testNow)

	st, _ = Transition(st, SessionEnded{Reason: "user_ended"}, testNow)
	if st.Diff != "" || st.Plan != nil || st.Pending != nil {
		t.Fatalf("transients not cleared: diff=%q plan=%v pending=%v", st.Diff, st.Plan, st.Pending)
	}
}

func TestUserEndedSessionDrivesConnector(t *testing.T) {
	st := newTestState()
	st, effects := Transition(st, UserEndedSession{}, testNow)
	cs := calls(effects)
	if len(cs) != 1 || cs[0].Kind != CallEnd {
		t.Fatalf("end call: %+v", cs)
	}
	if st.EndReason != "user_ended" {
		t.Fatalf("end reason: %q", st.EndReason)
	}
}

// Invalid transitions are no-ops with no effects.
func TestInvalidTransitions(t *testing.T) {
	st := newTestState()

	cases := []struct {
		name string
		in   Input
	}{
		{"turn completed while idle", TurnCompleted{}},
		{"turn aborted while idle", TurnAborted{}},
		{"approval while idle", ApprovalRequested{Request: ApprovalRequest{RequestID: "r"}}},
		{"approve with no pending", UserApproved{RequestID: "r"}},
		{"deny with no pending", UserDenied{RequestID: "r"}},
		{"interrupt while idle", UserInterrupted{}},
		{"steer while idle", UserSteered{Content: "x"}},
		{"unknown message update", MessageUpdated{ID: "missing", Delta: "x"}},
	}
	for _, tc := range cases {
		next, effects := Transition(st, tc.in, testNow)
		if len(effects) != 0 {
			t.Errorf("%s: produced %d effects", tc.name, len(effects))
		}
		if next.Revision != st.Revision {
			t.Errorf("%s: revision moved", tc.name)
		}
	}
}

func TestApproveWrongRequestIDIsNoOp(t *testing.T) {
	st := newTestState()
	st, _ = Transition(st, TurnStarted{}, testNow)
	st, _ = Transition(st, ApprovalRequested{Request: ApprovalRequest{RequestID: "r1"}}, testNow)

	next, effects := Transition(st, UserApproved{RequestID: "other"}, testNow)
	if len(effects) != 0 || next.Phase != PhaseAwaitingApproval {
		t.Fatalf("mismatched approve should be a no-op: %+v", effects)
	}
}

func TestTokensReplaceNotAdd(t *testing.T) {
	st := newTestState()
	st, _ = Transition(st, TokensUpdated{Usage: TokenUsage{Input: 100, Output: 50, Total: 150}}, testNow)
	st, _ = Transition(st, TokensUpdated{Usage: TokenUsage{Input: 120, Output: 60, Total: 180}}, testNow)
	if st.Tokens.Input != 120 || st.Tokens.Total != 180 {
		t.Fatalf("tokens should replace: %+v", st.Tokens)
	}
}

func TestInterruptClearsPendingApproval(t *testing.T) {
	st := newTestState()
	st, _ = Transition(st, TurnStarted{}, testNow)
	st, _ = Transition(st, ApprovalRequested{Request: ApprovalRequest{RequestID: "r1"}}, testNow)

	st, effects := Transition(st, UserInterrupted{}, testNow)
	if st.Phase != PhaseIdle || st.Pending != nil {
		t.Fatalf("interrupt: phase=%s pending=%v", st.Phase, st.Pending)
	}
	cs := calls(effects)
	if len(cs) != 1 || cs[0].Kind != CallInterrupt {
		t.Fatalf("interrupt call: %+v", cs)
	}
}

func TestMessageUpdatedAppendsDelta(t *testing.T) {
	st := newTestState()
	st, _ = Transition(st, MessageCreated{Message: Message{ID: "m1", Role: RoleAssistant, Content: "par"}}, testNow)
	st, effects := Transition(st, MessageUpdated{ID: "m1", Delta: "tial"}, testNow)

	if st.Messages[0].Content != "partial" {
		t.Fatalf("content: %q", st.Messages[0].Content)
	}
	es := emits(effects)
	if len(es) != 1 || es[0].Type != events.EventMessageUpdated {
		t.Fatalf("emit: %+v", es)
	}
}

func TestToolMessageIncrementsToolCount(t *testing.T) {
	st := newTestState()
	st, _ = Transition(st, MessageCreated{Message: Message{ID: "m1", Role: RoleTool, Content: "ls"}}, testNow)
	st, _ = Transition(st, MessageCreated{Message: Message{ID: "m2", Role: RoleAssistant, Content: "done"}}, testNow)
	if st.ToolCount != 1 {
		t.Fatalf("tool count: %d", st.ToolCount)
	}
}

func TestErrorReturnsToIdle(t *testing.T) {
	st := newTestState()
	st, _ = Transition(st, TurnStarted{}, testNow)
	st, effects := Transition(st, Error{Class: "internal", Message: "boom"}, testNow)

	if st.Phase != PhaseIdle {
		t.Fatalf("phase after error: %s", st.Phase)
	}
	es := emits(effects)
	if len(es) != 1 || es[0].Type != events.EventError {
		t.Fatalf("error emit: %+v", es)
	}
}

func TestThreadRolledBackTruncates(t *testing.T) {
	st := newTestState()
	st, _ = Transition(st, UserSentMessage{MessageID: "u1", Content: "one"}, testNow)
	st, _ = Transition(st, MessageCreated{Message: Message{ID: "a1", Role: RoleAssistant, Content: "r1"}}, testNow)
	st, _ = Transition(st, UserSentMessage{MessageID: "u2", Content: "two"}, testNow)
	st, _ = Transition(st, MessageCreated{Message: Message{ID: "a2", Role: RoleAssistant, Content: "r2"}}, testNow)

	st, _ = Transition(st, ThreadRolledBack{Turns: 1}, testNow)
	if len(st.Messages) != 2 {
		t.Fatalf("expected 2 messages after rollback, got %d", len(st.Messages))
	}
	if st.Messages[1].ID != "a1" {
		t.Fatalf("unexpected tail message %q", st.Messages[1].ID)
	}
}

// Revision increases by exactly the number of emits, for any sequence.
func TestRevisionCountsEmits(t *testing.T) {
	st := newTestState()
	inputs := []Input{
		UserSentMessage{MessageID: "m1", Content: "go"},
		TurnStarted{},
		DiffUpdated{Diff: "x"},
		UndoStarted{},
		UndoCompleted{},
		TurnCompleted{Usage: TokenUsage{Total: 1}},
	}
	total := 0
	for _, in := range inputs {
		var effects []Effect
		st, effects = Transition(st, in, testNow)
		total += len(emits(effects))
	}
	if st.Revision != uint64(total) {
		t.Fatalf("revision %d != emit count %d", st.Revision, total)
	}
}

func TestSnapshotExcludesMessages(t *testing.T) {
	st := newTestState()
	st, _ = Transition(st, UserSentMessage{MessageID: "m1", Content: "hello"}, testNow)
	snap := st.TakeSnapshot()
	if snap.Revision != st.Revision || snap.Phase != st.Phase {
		t.Fatalf("snapshot mismatch: %+v", snap)
	}
	if snap.PromptCount != 1 {
		t.Fatalf("snapshot counters: %+v", snap)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	if _, ok := fields["messages"]; ok {
		t.Fatalf("snapshot must not carry messages: %s", data)
	}
}

func TestSteerEmitsWithoutPersist(t *testing.T) {
	st := newTestState()
	st, _ = Transition(st, TurnStarted{}, testNow)
	_, effects := Transition(st, UserSteered{Content: "focus on tests"}, testNow)

	if len(persists(effects)) != 0 {
		t.Fatalf("steer should not persist: %+v", persists(effects))
	}
	cs := calls(effects)
	if len(cs) != 1 || cs[0].Kind != CallSteer {
		t.Fatalf("steer call: %+v", cs)
	}
}

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/robdel12/orbitdock/internal/persist"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sessionRow(id string) *persist.SessionRow {
	now := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	return &persist.SessionRow{
		ID:              id,
		Provider:        "codex",
		IntegrationMode: "direct",
		Status:          "active",
		Phase:           "idle",
		ProjectPath:     "/tmp/p",
		CreatedAt:       now,
		LastActivityAt:  now,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen after migrate: %v", err)
	}
	s2.Close()
}

func TestApplySessionLifecycle(t *testing.T) {
	s := openTestStore(t)

	ops := []persist.Op{
		{Kind: persist.OpUpsertSession, SessionID: "s1", Session: sessionRow("s1")},
		{Kind: persist.OpInsertMessage, SessionID: "s1", Message: &persist.MessageRow{
			ID: "m1", SessionID: "s1", Role: "user", Content: "hello",
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}},
		{Kind: persist.OpUpdateSessionFields, SessionID: "s1", Fields: map[string]any{
			"phase": "working", "prompt_count": 1, "last_activity_at": time.Now(),
		}},
		{Kind: persist.OpSetTokens, SessionID: "s1", Tokens: &persist.TokensRow{
			SessionID: "s1", InputTokens: 10, OutputTokens: 5, TotalTokens: 15, UpdatedAt: time.Now(),
		}},
	}
	if err := s.Apply(ops); err != nil {
		t.Fatal(err)
	}

	row, err := s.GetSession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if row.Phase != "working" || row.PromptCount != 1 {
		t.Fatalf("session row: %+v", row)
	}

	msgs, err := s.Messages("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("messages: %+v", msgs)
	}

	tokens, err := s.Tokens("s1")
	if err != nil {
		t.Fatal(err)
	}
	if tokens.TotalTokens != 15 {
		t.Fatalf("tokens: %+v", tokens)
	}
}

func TestSetTokensReplaces(t *testing.T) {
	s := openTestStore(t)
	if err := s.Apply([]persist.Op{{Kind: persist.OpUpsertSession, SessionID: "s1", Session: sessionRow("s1")}}); err != nil {
		t.Fatal(err)
	}

	for _, total := range []int64{10, 25} {
		err := s.Apply([]persist.Op{{Kind: persist.OpSetTokens, SessionID: "s1", Tokens: &persist.TokensRow{
			SessionID: "s1", TotalTokens: total, UpdatedAt: time.Now(),
		}}})
		if err != nil {
			t.Fatal(err)
		}
	}

	tokens, err := s.Tokens("s1")
	if err != nil {
		t.Fatal(err)
	}
	if tokens.TotalTokens != 25 {
		t.Fatalf("tokens should replace: %+v", tokens)
	}
}

func TestUpdateSessionFieldsRejectsUnknownColumn(t *testing.T) {
	s := openTestStore(t)
	if err := s.Apply([]persist.Op{{Kind: persist.OpUpsertSession, SessionID: "s1", Session: sessionRow("s1")}}); err != nil {
		t.Fatal(err)
	}

	err := s.Apply([]persist.Op{{Kind: persist.OpUpdateSessionFields, SessionID: "s1", Fields: map[string]any{
		"id": "evil",
	}}})
	if err == nil {
		t.Fatal("expected rejection of non-allowlisted column")
	}
}

func TestActiveSessionsFilter(t *testing.T) {
	s := openTestStore(t)
	active := sessionRow("a1")
	ended := sessionRow("e1")
	ended.Status = "ended"

	err := s.Apply([]persist.Op{
		{Kind: persist.OpUpsertSession, SessionID: "a1", Session: active},
		{Kind: persist.OpUpsertSession, SessionID: "e1", Session: ended},
	})
	if err != nil {
		t.Fatal(err)
	}

	rows, err := s.ActiveSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID != "a1" {
		t.Fatalf("active sessions: %+v", rows)
	}
}

func TestReviewComments(t *testing.T) {
	s := openTestStore(t)
	if err := s.Apply([]persist.Op{{Kind: persist.OpUpsertSession, SessionID: "s1", Session: sessionRow("s1")}}); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	err := s.Apply([]persist.Op{
		{Kind: persist.OpInsertReviewComment, SessionID: "s1", Comment: &persist.CommentRow{
			ID: "c1", SessionID: "s1", FilePath: "main.go", Line: 10, Body: "tighten this",
			CreatedAt: now, UpdatedAt: now,
		}},
		{Kind: persist.OpUpdateReviewComment, SessionID: "s1", CommentID: "c1", Comment: &persist.CommentRow{
			Body: "tighten this loop", Resolved: true, UpdatedAt: now,
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	err = s.Apply([]persist.Op{{Kind: persist.OpDeleteReviewComment, SessionID: "s1", CommentID: "c1"}})
	if err != nil {
		t.Fatal(err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetSession("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

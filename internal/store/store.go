// Package store persists sessions to SQLite. All writes flow through a
// single Writer task; the database stays readable concurrently thanks to
// WAL mode.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/robdel12/orbitdock/internal/persist"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned for lookups of unknown rows.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path, switches it to WAL mode,
// and applies pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded migrations in filename order, recording each
// in schema_versions.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
		version    TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_versions (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

// sessionFieldColumns is the allowlist for OpUpdateSessionFields.
var sessionFieldColumns = map[string]bool{
	"status": true, "phase": true, "end_reason": true,
	"branch": true, "model": true, "custom_name": true, "summary": true,
	"first_prompt": true, "approval_policy": true, "sandbox_mode": true,
	"workstream_id": true, "terminal_session_id": true,
	"prompt_count": true, "tool_count": true, "last_activity_at": true,
}

// Apply executes a batch of ops inside one transaction.
func (s *Store) Apply(ops []persist.Op) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	for _, op := range ops {
		if err := applyOp(tx, op); err != nil {
			tx.Rollback()
			return fmt.Errorf("%s for %s: %w", op.Kind, op.SessionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func applyOp(tx *sql.Tx, op persist.Op) error {
	switch op.Kind {
	case persist.OpUpsertSession:
		r := op.Session
		_, err := tx.Exec(`INSERT INTO sessions (
			id, provider, integration_mode, status, phase, end_reason,
			project_path, branch, model, custom_name, summary, first_prompt,
			approval_policy, sandbox_mode, forked_from, workstream_id,
			terminal_session_id, prompt_count, tool_count, created_at, last_activity_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, phase=excluded.phase,
			end_reason=excluded.end_reason, branch=excluded.branch,
			model=excluded.model, custom_name=excluded.custom_name,
			summary=excluded.summary, first_prompt=excluded.first_prompt,
			approval_policy=excluded.approval_policy, sandbox_mode=excluded.sandbox_mode,
			prompt_count=excluded.prompt_count, tool_count=excluded.tool_count,
			last_activity_at=excluded.last_activity_at`,
			r.ID, r.Provider, r.IntegrationMode, r.Status, r.Phase, r.EndReason,
			r.ProjectPath, r.Branch, r.Model, r.CustomName, r.Summary, r.FirstPrompt,
			r.ApprovalPolicy, r.SandboxMode, r.ForkedFrom, r.WorkstreamID,
			r.TerminalSessionID, r.PromptCount, r.ToolCount,
			formatTime(r.CreatedAt), formatTime(r.LastActivityAt))
		return err

	case persist.OpUpdateSessionFields:
		if len(op.Fields) == 0 {
			return nil
		}
		cols := make([]string, 0, len(op.Fields))
		for col := range op.Fields {
			if !sessionFieldColumns[col] {
				return fmt.Errorf("unknown session column %q", col)
			}
			cols = append(cols, col)
		}
		sort.Strings(cols)
		sets := make([]string, len(cols))
		args := make([]any, 0, len(cols)+1)
		for i, col := range cols {
			sets[i] = col + " = ?"
			args = append(args, sqlValue(op.Fields[col]))
		}
		args = append(args, op.SessionID)
		_, err := tx.Exec("UPDATE sessions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		return err

	case persist.OpInsertMessage:
		m := op.Message
		_, err := tx.Exec(`INSERT OR REPLACE INTO messages
			(id, session_id, role, content, tool_use_id, parent_message_id, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?)`,
			m.ID, m.SessionID, m.Role, m.Content, m.ToolUseID, m.ParentMessageID,
			formatTime(m.CreatedAt), formatTime(m.UpdatedAt))
		return err

	case persist.OpUpdateMessage:
		m := op.Message
		_, err := tx.Exec(`UPDATE messages SET content = ?, updated_at = ? WHERE id = ?`,
			m.Content, formatTime(m.UpdatedAt), m.ID)
		return err

	case persist.OpSetTokens:
		t := op.Tokens
		_, err := tx.Exec(`INSERT INTO token_usage
			(session_id, input_tokens, cached_tokens, output_tokens, reasoning_tokens, total_tokens, updated_at)
			VALUES (?,?,?,?,?,?,?)
			ON CONFLICT(session_id) DO UPDATE SET
				input_tokens=excluded.input_tokens, cached_tokens=excluded.cached_tokens,
				output_tokens=excluded.output_tokens, reasoning_tokens=excluded.reasoning_tokens,
				total_tokens=excluded.total_tokens, updated_at=excluded.updated_at`,
			t.SessionID, t.InputTokens, t.CachedTokens, t.OutputTokens,
			t.ReasoningTokens, t.TotalTokens, formatTime(t.UpdatedAt))
		return err

	case persist.OpAppendApprovalDecision:
		d := op.Decision
		_, err := tx.Exec(`INSERT INTO approval_decisions
			(session_id, request_id, kind, tool_name, decision, amended_input, reason, decided_at)
			VALUES (?,?,?,?,?,?,?,?)`,
			d.SessionID, d.RequestID, d.Kind, d.ToolName, d.Decision,
			d.AmendedInput, d.Reason, formatTime(d.DecidedAt))
		return err

	case persist.OpInsertReviewComment:
		c := op.Comment
		_, err := tx.Exec(`INSERT INTO review_comments
			(id, session_id, file_path, line, body, resolved, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?)`,
			c.ID, c.SessionID, c.FilePath, c.Line, c.Body, c.Resolved,
			formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
		return err

	case persist.OpUpdateReviewComment:
		c := op.Comment
		_, err := tx.Exec(`UPDATE review_comments SET body = ?, resolved = ?, updated_at = ? WHERE id = ?`,
			c.Body, c.Resolved, formatTime(c.UpdatedAt), op.CommentID)
		return err

	case persist.OpDeleteReviewComment:
		_, err := tx.Exec(`DELETE FROM review_comments WHERE id = ?`, op.CommentID)
		return err
	}
	return fmt.Errorf("unknown op kind %q", op.Kind)
}

// ActiveSessions returns every session row with status active, oldest
// first. Used at startup to rebuild actors.
func (s *Store) ActiveSessions() ([]persist.SessionRow, error) {
	rows, err := s.db.Query(sessionSelect + ` WHERE status = 'active' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer rows.Close()

	var out []persist.SessionRow
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetSession loads one session row.
func (s *Store) GetSession(id string) (*persist.SessionRow, error) {
	row := s.db.QueryRow(sessionSelect+` WHERE id = ?`, id)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Messages loads a session's messages in creation order.
func (s *Store) Messages(sessionID string) ([]persist.MessageRow, error) {
	rows, err := s.db.Query(`SELECT id, session_id, role, content, tool_use_id,
		parent_message_id, created_at, updated_at
		FROM messages WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []persist.MessageRow
	for rows.Next() {
		var m persist.MessageRow
		var created, updated string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content,
			&m.ToolUseID, &m.ParentMessageID, &created, &updated); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(created)
		m.UpdatedAt = parseTime(updated)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Tokens loads a session's cumulative usage; zero row if none recorded.
func (s *Store) Tokens(sessionID string) (persist.TokensRow, error) {
	var t persist.TokensRow
	var updated string
	err := s.db.QueryRow(`SELECT session_id, input_tokens, cached_tokens,
		output_tokens, reasoning_tokens, total_tokens, updated_at
		FROM token_usage WHERE session_id = ?`, sessionID).
		Scan(&t.SessionID, &t.InputTokens, &t.CachedTokens,
			&t.OutputTokens, &t.ReasoningTokens, &t.TotalTokens, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return persist.TokensRow{SessionID: sessionID}, nil
	}
	if err != nil {
		return t, err
	}
	t.UpdatedAt = parseTime(updated)
	return t, nil
}

const sessionSelect = `SELECT id, provider, integration_mode, status, phase,
	end_reason, project_path, branch, model, custom_name, summary,
	first_prompt, approval_policy, sandbox_mode, forked_from, workstream_id,
	terminal_session_id, prompt_count, tool_count, created_at,
	last_activity_at FROM sessions`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (persist.SessionRow, error) {
	var r persist.SessionRow
	var created, lastActivity string
	err := sc.Scan(&r.ID, &r.Provider, &r.IntegrationMode, &r.Status, &r.Phase,
		&r.EndReason, &r.ProjectPath, &r.Branch, &r.Model, &r.CustomName,
		&r.Summary, &r.FirstPrompt, &r.ApprovalPolicy, &r.SandboxMode,
		&r.ForkedFrom, &r.WorkstreamID, &r.TerminalSessionID,
		&r.PromptCount, &r.ToolCount, &created, &lastActivity)
	if err != nil {
		return r, err
	}
	r.CreatedAt = parseTime(created)
	r.LastActivityAt = parseTime(lastActivity)
	return r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func sqlValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return formatTime(t)
	}
	return v
}

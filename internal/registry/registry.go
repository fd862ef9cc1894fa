// Package registry maps session ids to running actors and owns the
// list-level event bus. Lookups and snapshot reads are lock-free; no
// coarse global mutex exists anywhere on the read path.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/robdel12/orbitdock/internal/actor"
	"github.com/robdel12/orbitdock/internal/connector"
	"github.com/robdel12/orbitdock/internal/events"
	"github.com/robdel12/orbitdock/internal/persist"
	"github.com/robdel12/orbitdock/internal/session"
	"github.com/robdel12/orbitdock/internal/store"
)

// ListBusCapacity is the per-receiver buffer of the list event bus.
const ListBusCapacity = 64

var (
	// ErrNotFound means no live actor and no stored session for the id.
	ErrNotFound = errors.New("registry: session not found")
	// ErrExists means a session with the requested id is already live.
	ErrExists = errors.New("registry: session already exists")
)

// Registry owns all session actors.
type Registry struct {
	ctx      context.Context
	sessions sync.Map // session id → *actor.Handle
	list     *actor.Broadcaster
	db       *store.Store
	writer   *store.Writer
	factory  connector.Factory
}

// New creates a registry. ctx is the lifetime of all actors spawned
// through it.
func New(ctx context.Context, db *store.Store, writer *store.Writer, factory connector.Factory) *Registry {
	return &Registry{
		ctx:     ctx,
		list:    actor.NewBroadcaster(ListBusCapacity),
		db:      db,
		writer:  writer,
		factory: factory,
	}
}

// SpawnConfig describes a session to create.
type SpawnConfig struct {
	ID                string // assigned when empty
	Provider          session.Provider
	IntegrationMode   session.IntegrationMode
	ProjectPath       string
	Branch            string
	Model             string
	ApprovalPolicy    string
	SandboxMode       string
	CustomName        string
	WorkstreamID      string
	TerminalSessionID string
	ForkedFrom        string
}

// Spawn creates a session: initial state, connector, actor, storage
// upsert, and a session_added event on the list bus.
func (r *Registry) Spawn(ctx context.Context, cfg SpawnConfig) (*actor.Handle, error) {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	st := session.New(id, cfg.Provider, cfg.IntegrationMode, session.Meta{
		ProjectPath:       cfg.ProjectPath,
		Branch:            cfg.Branch,
		Model:             cfg.Model,
		CustomName:        cfg.CustomName,
		ApprovalPolicy:    cfg.ApprovalPolicy,
		SandboxMode:       cfg.SandboxMode,
		WorkstreamID:      cfg.WorkstreamID,
		TerminalSessionID: cfg.TerminalSessionID,
		ForkedFrom:        cfg.ForkedFrom,
		CreatedAt:         now,
		LastActivityAt:    now,
	})
	return r.spawnState(ctx, st, nil, true)
}

// spawnState registers an actor for st. When persistNew is set the full
// session row is enqueued; extraOps follow it in the same FIFO.
func (r *Registry) spawnState(ctx context.Context, st session.State, extraOps []persist.Op, persistNew bool) (*actor.Handle, error) {
	conn, err := r.factory.New(r.ctx, connector.Config{
		SessionID:      st.ID,
		Provider:       st.Provider,
		ProjectPath:    st.Meta.ProjectPath,
		Model:          st.Meta.Model,
		ApprovalPolicy: st.Meta.ApprovalPolicy,
		SandboxMode:    st.Meta.SandboxMode,
	})
	if err != nil {
		return nil, fmt.Errorf("build connector: %w", err)
	}
	return r.register(ctx, st, conn, extraOps, persistNew)
}

func (r *Registry) register(ctx context.Context, st session.State, conn connector.Connector, extraOps []persist.Op, persistNew bool) (*actor.Handle, error) {
	h := actor.Start(r.ctx, st, conn, r.writer, actor.Options{OnFatal: r.dropFailed})
	if _, loaded := r.sessions.LoadOrStore(st.ID, h); loaded {
		h.Stop()
		return nil, ErrExists
	}

	if persistNew {
		if err := r.writer.Enqueue(ctx, persist.Op{
			Kind:      persist.OpUpsertSession,
			SessionID: st.ID,
			Session:   stateRow(st),
		}); err != nil {
			slog.Warn("enqueue session upsert", "session_id", st.ID, "error", err)
		}
	}
	for _, op := range extraOps {
		if err := r.writer.Enqueue(ctx, op); err != nil {
			slog.Warn("enqueue session op", "session_id", st.ID, "op", op.Kind, "error", err)
		}
	}

	r.publishList(events.EventSessionAdded, st.ID, session.SnapshotPayload{Session: h.Snapshot()})
	return h, nil
}

// Get returns the live handle for id.
func (r *Registry) Get(id string) (*actor.Handle, bool) {
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*actor.Handle), true
}

// Send routes an input to a session's inbox.
func (r *Registry) Send(ctx context.Context, id string, in session.Input) error {
	h, ok := r.Get(id)
	if !ok {
		return ErrNotFound
	}
	return h.Send(ctx, in)
}

// Snapshot reads a session's published snapshot. Lock-free.
func (r *Registry) Snapshot(id string) (*session.Snapshot, bool) {
	h, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	return h.Snapshot(), true
}

// Summaries reads every live session's snapshot, newest first.
func (r *Registry) Summaries() []*session.Snapshot {
	out := []*session.Snapshot{}
	r.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*actor.Handle).Snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Meta.CreatedAt.After(out[j].Meta.CreatedAt)
	})
	return out
}

// SubscribeList attaches a receiver to the list bus.
func (r *Registry) SubscribeList() *actor.Receiver {
	return r.list.Subscribe()
}

// ListFrame builds a sessions_list frame of the current summaries.
func (r *Registry) ListFrame() ([]byte, error) {
	return events.MarshalFrame(events.EventSessionsList, "", nil,
		session.ListPayload{Sessions: r.Summaries()})
}

// Remove shuts a session's actor down and drops it from the map. Durable
// state remains in storage.
func (r *Registry) Remove(ctx context.Context, id string) error {
	v, ok := r.sessions.LoadAndDelete(id)
	if !ok {
		return ErrNotFound
	}
	h := v.(*actor.Handle)
	if err := h.Shutdown(ctx); err != nil {
		slog.Warn("session shutdown", "session_id", id, "error", err)
	}
	r.publishList(events.EventSessionRemoved, id, session.RemovedPayload{})
	return nil
}

// dropFailed is the actor's fatal hook: the session already emitted its
// terminal event; here the handle just leaves the map.
func (r *Registry) dropFailed(id string) {
	if _, ok := r.sessions.LoadAndDelete(id); ok {
		r.publishList(events.EventSessionRemoved, id, session.RemovedPayload{})
	}
}

// Restore rebuilds actors for every stored active session: phase idle,
// revision zero, empty ring, history loaded for snapshot+history replies.
// Restored sessions get detached connectors until a provider reattaches.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	rows, err := r.db.ActiveSessions()
	if err != nil {
		return 0, fmt.Errorf("load active sessions: %w", err)
	}

	restored := 0
	for _, row := range rows {
		st, err := r.loadState(row)
		if err != nil {
			slog.Warn("restore session", "session_id", row.ID, "error", err)
			continue
		}
		if _, err := r.register(ctx, st, connector.NewDetached(), nil, false); err != nil {
			slog.Warn("register restored session", "session_id", row.ID, "error", err)
			continue
		}
		restored++
	}
	return restored, nil
}

// Resume returns the live handle for id, or revives the session from
// storage with a fresh connector.
func (r *Registry) Resume(ctx context.Context, id string) (*actor.Handle, error) {
	if h, ok := r.Get(id); ok {
		return h, nil
	}
	row, err := r.db.GetSession(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	st, err := r.loadState(*row)
	if err != nil {
		return nil, err
	}
	// A resumed session is active again regardless of how it ended.
	st.Status = session.StatusActive
	st.Phase = session.PhaseIdle
	st.EndReason = ""
	extra := []persist.Op{{
		Kind:      persist.OpUpdateSessionFields,
		SessionID: st.ID,
		Fields:    map[string]any{"status": st.Status, "phase": st.Phase, "end_reason": ""},
	}}
	return r.spawnState(ctx, st, extra, false)
}

// Fork creates a new session whose history is the source session's
// messages up to and including the nth user message (1-based).
func (r *Registry) Fork(ctx context.Context, sourceID string, nthUserMessage int) (*actor.Handle, error) {
	src, ok := r.Get(sourceID)
	if !ok {
		return nil, ErrNotFound
	}
	history, err := src.History(ctx)
	if err != nil {
		return nil, fmt.Errorf("read source history: %w", err)
	}
	snap := src.Snapshot()

	id := uuid.NewString()
	now := time.Now()
	meta := snap.Meta
	meta.CreatedAt = now
	meta.LastActivityAt = now
	meta.ForkedFrom = sourceID
	meta.CustomName = ""

	st := session.New(id, snap.Provider, snap.IntegrationMode, meta)
	var ops []persist.Op
	for _, msg := range messagesUpTo(history, nthUserMessage) {
		msg.ID = uuid.NewString()
		msg.SessionID = id
		st.Messages = append(st.Messages, msg)
		ops = append(ops, persist.Op{
			Kind:      persist.OpInsertMessage,
			SessionID: id,
			Message: &persist.MessageRow{
				ID:              msg.ID,
				SessionID:       id,
				Role:            string(msg.Role),
				Content:         msg.Content,
				ToolUseID:       msg.ToolUseID,
				ParentMessageID: msg.ParentMessageID,
				CreatedAt:       msg.CreatedAt,
				UpdatedAt:       msg.UpdatedAt,
			},
		})
	}
	return r.spawnState(ctx, st, ops, true)
}

// messagesUpTo returns msgs up to and including the nth user message.
func messagesUpTo(msgs []session.Message, nth int) []session.Message {
	if nth <= 0 {
		return nil
	}
	seen := 0
	for i, m := range msgs {
		if m.Role == session.RoleUser {
			seen++
			if seen == nth {
				return msgs[:i+1]
			}
		}
	}
	return msgs
}

// SweepEnded removes ended sessions idle for longer than grace. Returns
// how many were evicted.
func (r *Registry) SweepEnded(ctx context.Context, grace time.Duration, now time.Time) int {
	evicted := 0
	r.sessions.Range(func(k, v any) bool {
		snap := v.(*actor.Handle).Snapshot()
		if snap.Status == session.StatusEnded && now.Sub(snap.Meta.LastActivityAt) > grace {
			if err := r.Remove(ctx, k.(string)); err == nil {
				evicted++
			}
		}
		return true
	})
	if evicted > 0 {
		slog.Info("evicted ended sessions", "count", evicted)
	}
	return evicted
}

// Shutdown delivers end-of-life to every actor and waits for all of them.
func (r *Registry) Shutdown(ctx context.Context) {
	var wg sync.WaitGroup
	r.sessions.Range(func(_, v any) bool {
		h := v.(*actor.Handle)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.Shutdown(ctx); err != nil {
				slog.Warn("actor shutdown", "session_id", h.ID(), "error", err)
			}
		}()
		return true
	})
	wg.Wait()
	r.list.Close()
}

func (r *Registry) loadState(row persist.SessionRow) (session.State, error) {
	msgs, err := r.db.Messages(row.ID)
	if err != nil {
		return session.State{}, fmt.Errorf("load messages: %w", err)
	}
	tokens, err := r.db.Tokens(row.ID)
	if err != nil {
		return session.State{}, fmt.Errorf("load tokens: %w", err)
	}

	st := session.State{
		ID:              row.ID,
		Revision:        0,
		Phase:           session.PhaseIdle,
		Provider:        session.Provider(row.Provider),
		IntegrationMode: session.IntegrationMode(row.IntegrationMode),
		Status:          session.Status(row.Status),
		EndReason:       row.EndReason,
		PromptCount:     row.PromptCount,
		ToolCount:       row.ToolCount,
		Meta: session.Meta{
			ProjectPath:       row.ProjectPath,
			Branch:            row.Branch,
			Model:             row.Model,
			CustomName:        row.CustomName,
			Summary:           row.Summary,
			FirstPrompt:       row.FirstPrompt,
			ApprovalPolicy:    row.ApprovalPolicy,
			SandboxMode:       row.SandboxMode,
			ForkedFrom:        row.ForkedFrom,
			WorkstreamID:      row.WorkstreamID,
			TerminalSessionID: row.TerminalSessionID,
			CreatedAt:         row.CreatedAt,
			LastActivityAt:    row.LastActivityAt,
		},
		Tokens: session.TokenUsage{
			Input:     tokens.InputTokens,
			Cached:    tokens.CachedTokens,
			Output:    tokens.OutputTokens,
			Reasoning: tokens.ReasoningTokens,
			Total:     tokens.TotalTokens,
		},
	}
	for _, m := range msgs {
		st.Messages = append(st.Messages, session.Message{
			ID:              m.ID,
			SessionID:       m.SessionID,
			Role:            session.Role(m.Role),
			Content:         m.Content,
			ToolUseID:       m.ToolUseID,
			ParentMessageID: m.ParentMessageID,
			CreatedAt:       m.CreatedAt,
			UpdatedAt:       m.UpdatedAt,
		})
	}
	return st, nil
}

func (r *Registry) publishList(t events.EventType, sessionID string, payload any) {
	frame, err := events.MarshalFrame(t, sessionID, nil, payload)
	if err != nil {
		slog.Error("marshal list frame", "type", t, "error", err)
		return
	}
	r.list.Send(frame)
}

func stateRow(st session.State) *persist.SessionRow {
	return &persist.SessionRow{
		ID:                st.ID,
		Provider:          string(st.Provider),
		IntegrationMode:   string(st.IntegrationMode),
		Status:            string(st.Status),
		Phase:             string(st.Phase),
		EndReason:         st.EndReason,
		ProjectPath:       st.Meta.ProjectPath,
		Branch:            st.Meta.Branch,
		Model:             st.Meta.Model,
		CustomName:        st.Meta.CustomName,
		Summary:           st.Meta.Summary,
		FirstPrompt:       st.Meta.FirstPrompt,
		ApprovalPolicy:    st.Meta.ApprovalPolicy,
		SandboxMode:       st.Meta.SandboxMode,
		ForkedFrom:        st.Meta.ForkedFrom,
		WorkstreamID:      st.Meta.WorkstreamID,
		TerminalSessionID: st.Meta.TerminalSessionID,
		PromptCount:       st.PromptCount,
		ToolCount:         st.ToolCount,
		CreatedAt:         st.Meta.CreatedAt,
		LastActivityAt:    st.Meta.LastActivityAt,
	}
}

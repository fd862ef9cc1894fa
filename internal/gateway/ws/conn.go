package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/robdel12/orbitdock/internal/actor"
	"github.com/robdel12/orbitdock/internal/auth"
	"github.com/robdel12/orbitdock/internal/events"
	"github.com/robdel12/orbitdock/internal/persist"
	"github.com/robdel12/orbitdock/internal/registry"
	"github.com/robdel12/orbitdock/internal/session"
	"github.com/robdel12/orbitdock/internal/store"
)

// StatusUnauthorized is the close code sent when token auth fails.
const StatusUnauthorized = websocket.StatusCode(4401)

// listSubKey keys the list subscription in a connection's forwarder map.
const listSubKey = "_list"

// outboundBuffer is the per-connection writer queue. Senders block when
// it fills, which pushes backpressure into the forwarders and ultimately
// surfaces as broadcast lag for this connection only.
const outboundBuffer = 256

// Gateway accepts WebSocket connections and bridges them to the registry.
type Gateway struct {
	reg         *registry.Registry
	writer      *store.Writer
	authToken   string
	idleTimeout time.Duration
	version     string
}

// NewGateway builds the WebSocket gateway. authToken empty disables auth.
func NewGateway(reg *registry.Registry, writer *store.Writer, authToken string, idleTimeout time.Duration, version string) *Gateway {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	return &Gateway{
		reg:         reg,
		writer:      writer,
		authToken:   authToken,
		idleTimeout: idleTimeout,
		version:     version,
	}
}

// Authorized checks the request's token (query parameter or bearer
// header) against the configured one.
func (g *Gateway) Authorized(r *http.Request) bool {
	if g.authToken == "" {
		return true
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		const prefix = "Bearer "
		if h := r.Header.Get("Authorization"); len(h) > len(prefix) && h[:len(prefix)] == prefix {
			token = h[len(prefix):]
		}
	}
	return auth.Equal(token, g.authToken)
}

// ServeWS upgrades the connection and runs its read loop until the client
// goes away or idles out. Session actors are untouched by disconnects.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local control plane; origin checks add nothing
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	if !g.Authorized(r) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		data := events.ErrorFrame(events.CodeUnauthorized, "missing or invalid token", "")
		_ = sock.Write(ctx, websocket.MessageText, data)
		cancel()
		sock.Close(StatusUnauthorized, "unauthorized")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{
		g:      g,
		ws:     sock,
		ctx:    ctx,
		cancel: cancel,
		out:    make(chan []byte, outboundBuffer),
		subs:   make(map[string]*actor.Receiver),
	}
	c.run()
}

type conn struct {
	g      *Gateway
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	out    chan []byte

	mu   sync.Mutex
	subs map[string]*actor.Receiver
}

func (c *conn) run() {
	defer c.teardown()

	go c.writeLoop()

	hello, err := events.MarshalFrame(events.EventHello, "", nil, events.HelloPayload{
		Version:         c.g.version,
		ProtocolVersion: ProtocolVersion,
	})
	if err == nil {
		c.send(hello)
	}

	c.readLoop()
}

func (c *conn) teardown() {
	c.cancel()
	c.mu.Lock()
	for key, rcv := range c.subs {
		delete(c.subs, key)
		rcv.Close()
	}
	c.mu.Unlock()
	c.ws.Close(websocket.StatusNormalClosure, "")
}

func (c *conn) readLoop() {
	for {
		readCtx, cancel := context.WithTimeout(c.ctx, c.g.idleTimeout)
		_, data, err := c.ws.Read(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				slog.Debug("ws connection idled out")
			}
			return
		}

		msg, err := ParseClientMessage(data)
		if err != nil {
			c.sendError(events.CodeInvalidPayload, err.Error(), "")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case data := <-c.out:
			if err := c.ws.Write(c.ctx, websocket.MessageText, data); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// send queues a frame for the single writer. Blocks when the queue is
// full; that backpressure is what eventually trips broadcast lag for a
// slow client.
func (c *conn) send(data []byte) {
	select {
	case c.out <- data:
	case <-c.ctx.Done():
	}
}

func (c *conn) sendError(code events.ErrorCode, message, sessionID string) {
	c.send(events.ErrorFrame(code, message, sessionID))
}

func (c *conn) dispatch(msg ClientMessage) {
	switch msg.Type {
	case MsgSubscribeList:
		c.handleSubscribeList()
	case MsgSubscribeSession:
		c.handleSubscribeSession(msg)
	case MsgUnsubscribeSession:
		c.dropSub(msg.SessionID)

	case MsgCreateSession:
		c.handleCreateSession(msg)
	case MsgResumeSession:
		c.handleResumeSession(msg)
	case MsgForkSession:
		c.handleForkSession(msg)

	case MsgSendMessage:
		c.sendInput(msg.SessionID, session.UserSentMessage{
			MessageID:   uuid.NewString(),
			Content:     msg.Content,
			Attachments: msg.Attachments,
		})
	case MsgSteerTurn:
		c.sendInput(msg.SessionID, session.UserSteered{Content: msg.Content})
	case MsgApproveTool:
		c.handleApproveTool(msg)
	case MsgAnswerQuestion:
		c.sendInput(msg.SessionID, session.UserAnsweredQuestion{
			RequestID: msg.RequestID,
			Answer:    msg.Answer,
		})
	case MsgInterruptSession:
		c.sendInput(msg.SessionID, session.UserInterrupted{})
	case MsgEndSession:
		c.sendInput(msg.SessionID, session.UserEndedSession{})

	case MsgCompactContext:
		c.drive(msg.SessionID, session.ConnectorCall{Kind: session.CallCompactContext})
	case MsgUndoLastTurn:
		c.drive(msg.SessionID, session.ConnectorCall{Kind: session.CallUndoLastTurn})
	case MsgRollbackTurns:
		if msg.NumTurns <= 0 {
			c.sendError(events.CodeInvalidPayload, "num_turns must be positive", msg.SessionID)
			return
		}
		c.drive(msg.SessionID, session.ConnectorCall{Kind: session.CallRollbackTurns, Turns: msg.NumTurns})

	case MsgAddReviewComment, MsgUpdateReviewComment, MsgDeleteReviewComment:
		c.handleReviewComment(msg)

	case MsgClaudeSessionStart, MsgClaudeSessionEnd, MsgClaudeStatusEvent,
		MsgClaudeToolEvent, MsgClaudeSubagentEvent:
		c.handleClaudeEvent(msg)

	default:
		c.sendError(events.CodeInvalidPayload, "unknown message type: "+msg.Type, "")
	}
}

func (c *conn) handleSubscribeList() {
	frame, err := c.g.reg.ListFrame()
	if err != nil {
		c.sendError(events.CodeInternal, "build sessions list", "")
		return
	}
	rcv := c.g.reg.SubscribeList()
	c.addSub(listSubKey, rcv)
	c.send(frame)
	go c.forward(listSubKey, "", rcv)
}

func (c *conn) handleSubscribeSession(msg ClientMessage) {
	h, ok := c.g.reg.Get(msg.SessionID)
	if !ok {
		c.sendError(events.CodeUnknownSession, "", msg.SessionID)
		return
	}

	res, err := h.Subscribe(c.ctx, msg.SinceRevision)
	if err != nil {
		c.sendError(events.CodeUnknownSession, err.Error(), msg.SessionID)
		return
	}
	if res.Lagged {
		// The requested baseline left the ring; the client must take a
		// fresh snapshot by resubscribing without since_revision.
		c.sendError(events.CodeLagged, "", msg.SessionID)
		return
	}

	c.addSub(msg.SessionID, res.Receiver)
	for _, frame := range res.Frames {
		c.send(frame)
	}
	go c.forward(msg.SessionID, msg.SessionID, res.Receiver)
}

func (c *conn) handleCreateSession(msg ClientMessage) {
	provider := session.Provider(msg.Provider)
	if provider == "" {
		provider = session.ProviderCodex
	}
	h, err := c.g.reg.Spawn(c.ctx, registry.SpawnConfig{
		Provider:          provider,
		IntegrationMode:   session.IntegrationDirect,
		ProjectPath:       msg.ProjectPath,
		Branch:            msg.Branch,
		Model:             msg.Model,
		ApprovalPolicy:    msg.ApprovalPolicy,
		SandboxMode:       msg.SandboxMode,
		CustomName:        msg.CustomName,
		WorkstreamID:      msg.WorkstreamID,
		TerminalSessionID: msg.TerminalSessionID,
	})
	if err != nil {
		c.sendError(events.CodeInternal, err.Error(), "")
		return
	}
	c.sendSnapshot(h)
}

func (c *conn) handleResumeSession(msg ClientMessage) {
	h, err := c.g.reg.Resume(c.ctx, msg.SessionID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.sendError(events.CodeUnknownSession, "", msg.SessionID)
			return
		}
		c.sendError(events.CodeInternal, err.Error(), msg.SessionID)
		return
	}
	c.sendSnapshot(h)
}

func (c *conn) handleForkSession(msg ClientMessage) {
	if msg.NthUserMessage <= 0 {
		c.sendError(events.CodeInvalidPayload, "nth_user_message must be positive", "")
		return
	}
	h, err := c.g.reg.Fork(c.ctx, msg.SourceSessionID, msg.NthUserMessage)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.sendError(events.CodeUnknownSession, "", msg.SourceSessionID)
			return
		}
		c.sendError(events.CodeInternal, err.Error(), msg.SourceSessionID)
		return
	}
	c.sendSnapshot(h)
}

func (c *conn) handleApproveTool(msg ClientMessage) {
	switch msg.Decision {
	case "approved", "approved_for_session", "approved_always":
		c.sendInput(msg.SessionID, session.UserApproved{
			RequestID:    msg.RequestID,
			AmendedInput: msg.AmendedInput,
			Scope:        session.ApprovalScope(msg.Decision),
		})
	case "denied":
		c.sendInput(msg.SessionID, session.UserDenied{
			RequestID: msg.RequestID,
			Reason:    msg.Reason,
		})
	default:
		c.sendError(events.CodeInvalidPayload, "unknown decision: "+msg.Decision, msg.SessionID)
	}
}

func (c *conn) handleReviewComment(msg ClientMessage) {
	if _, ok := c.g.reg.Get(msg.SessionID); !ok {
		c.sendError(events.CodeUnknownSession, "", msg.SessionID)
		return
	}

	now := time.Now()
	var op persist.Op
	switch msg.Type {
	case MsgAddReviewComment:
		op = persist.Op{
			Kind:      persist.OpInsertReviewComment,
			SessionID: msg.SessionID,
			Comment: &persist.CommentRow{
				ID:        uuid.NewString(),
				SessionID: msg.SessionID,
				FilePath:  msg.FilePath,
				Line:      msg.Line,
				Body:      msg.Body,
				CreatedAt: now,
				UpdatedAt: now,
			},
		}
	case MsgUpdateReviewComment:
		resolved := msg.Resolved != nil && *msg.Resolved
		op = persist.Op{
			Kind:      persist.OpUpdateReviewComment,
			SessionID: msg.SessionID,
			CommentID: msg.CommentID,
			Comment: &persist.CommentRow{
				Body:      msg.Body,
				Resolved:  resolved,
				UpdatedAt: now,
			},
		}
	case MsgDeleteReviewComment:
		op = persist.Op{
			Kind:      persist.OpDeleteReviewComment,
			SessionID: msg.SessionID,
			CommentID: msg.CommentID,
		}
	}

	if err := c.g.writer.Enqueue(c.ctx, op); err != nil {
		c.sendError(events.CodeInternal, err.Error(), msg.SessionID)
	}
}

// sendInput routes a client action to the owning actor.
func (c *conn) sendInput(sessionID string, in session.Input) {
	err := c.g.reg.Send(c.ctx, sessionID, in)
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, actor.ErrClosed):
		c.sendError(events.CodeUnknownSession, "", sessionID)
	default:
		c.sendError(events.CodeInternal, err.Error(), sessionID)
	}
}

func (c *conn) drive(sessionID string, call session.ConnectorCall) {
	h, ok := c.g.reg.Get(sessionID)
	if !ok {
		c.sendError(events.CodeUnknownSession, "", sessionID)
		return
	}
	if err := h.Drive(c.ctx, call); err != nil {
		c.sendError(events.CodeInternal, err.Error(), sessionID)
	}
}

func (c *conn) sendSnapshot(h *actor.Handle) {
	snap := h.Snapshot()
	frame, err := events.MarshalFrame(events.EventSessionSnapshot, snap.ID, nil,
		session.SnapshotPayload{Session: snap})
	if err != nil {
		c.sendError(events.CodeInternal, "marshal snapshot", snap.ID)
		return
	}
	c.send(frame)
}

// addSub registers a forwarder's receiver, replacing any previous
// subscription for the same key.
func (c *conn) addSub(key string, rcv *actor.Receiver) {
	c.mu.Lock()
	old, ok := c.subs[key]
	c.subs[key] = rcv
	c.mu.Unlock()
	if ok {
		old.Close()
	}
}

// dropSub unsubscribes; the forwarder exits on its closed channel.
func (c *conn) dropSub(key string) {
	c.mu.Lock()
	rcv, ok := c.subs[key]
	delete(c.subs, key)
	c.mu.Unlock()
	if ok {
		rcv.Close()
	}
}

// removeSub clears the map entry when a forwarder exits on its own, but
// only if the entry still refers to that receiver.
func (c *conn) removeSub(key string, rcv *actor.Receiver) {
	c.mu.Lock()
	if cur, ok := c.subs[key]; ok && cur == rcv {
		delete(c.subs, key)
	}
	c.mu.Unlock()
}

// forward pumps one broadcast receiver into the connection writer. When
// the receiver closes after a lag drop, the client gets an explicit
// lagged error and must resubscribe.
func (c *conn) forward(key, sessionID string, rcv *actor.Receiver) {
	defer c.removeSub(key, rcv)
	for {
		select {
		case data, ok := <-rcv.Ch():
			if !ok {
				if rcv.Lagged() {
					c.sendError(events.CodeLagged, "", sessionID)
				}
				return
			}
			c.send(data)
		case <-c.ctx.Done():
			return
		}
	}
}

// Package actor runs one goroutine per session. The actor owns the
// session state exclusively: every mutation arrives as a command on its
// inbox or an event from its connector, flows through the pure transition,
// and leaves as ordered effects. Readers see the state only through an
// atomically published snapshot and the event broadcast.
package actor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robdel12/orbitdock/internal/connector"
	"github.com/robdel12/orbitdock/internal/events"
	"github.com/robdel12/orbitdock/internal/persist"
	"github.com/robdel12/orbitdock/internal/session"
)

// InboxCapacity bounds the command channel; senders block when full,
// exerting backpressure on that session only.
const InboxCapacity = 64

// ErrClosed is returned when sending to an actor that has shut down.
var ErrClosed = errors.New("actor: closed")

// PersistQueue is where the actor enqueues storage commands. Enqueue may
// block when the writer is saturated.
type PersistQueue interface {
	Enqueue(ctx context.Context, op persist.Op) error
}

// SubscribeResult is the reply to a subscription command. Frames carries
// the backlog (snapshot + history, or ring replay) built atomically with
// receiver attachment, so no event can fall between backlog and live.
type SubscribeResult struct {
	Frames   [][]byte
	Receiver *Receiver
	Lagged   bool
}

type command interface{ isCommand() }

type inputCmd struct {
	in session.Input
}

type subscribeCmd struct {
	since *uint64
	reply chan SubscribeResult
}

type historyCmd struct {
	reply chan []session.Message
}

type setNameCmd struct {
	name  string
	reply chan error
}

type endLocallyCmd struct {
	reason string
}

type driveCmd struct {
	call  session.ConnectorCall
	reply chan error
}

type shutdownCmd struct{}

func (inputCmd) isCommand()      {}
func (subscribeCmd) isCommand()  {}
func (historyCmd) isCommand()    {}
func (setNameCmd) isCommand()    {}
func (endLocallyCmd) isCommand() {}
func (driveCmd) isCommand()      {}
func (shutdownCmd) isCommand()   {}

// Actor owns one session.
type Actor struct {
	id       string
	state    session.State
	conn     connector.Connector
	queue    PersistQueue
	ring     *EventRing
	bcast    *Broadcaster
	snapshot atomic.Pointer[session.Snapshot]

	commands chan command
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	// onFatal is invoked (outside the loop) if the actor dies
	// unexpectedly; the registry uses it to drop the handle.
	onFatal func(id string)
}

// Options configures Start.
type Options struct {
	RingSize       int
	ReceiverBuffer int
	OnFatal        func(id string)
}

// Start spawns the actor goroutine for st and returns its handle.
func Start(parent context.Context, st session.State, conn connector.Connector, queue PersistQueue, opts Options) *Handle {
	ctx, cancel := context.WithCancel(parent)
	a := &Actor{
		id:       st.ID,
		state:    st,
		conn:     conn,
		queue:    queue,
		ring:     NewEventRing(opts.RingSize),
		bcast:    NewBroadcaster(opts.ReceiverBuffer),
		commands: make(chan command, InboxCapacity),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		onFatal:  opts.OnFatal,
	}
	a.snapshot.Store(a.state.TakeSnapshot())
	go a.run()
	return &Handle{a: a}
}

func (a *Actor) run() {
	defer close(a.done)
	defer a.bcast.Close()
	defer a.conn.Close()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("session actor panicked", "session_id", a.id, "panic", r)
			a.failTerminally()
		}
	}()

	connEvents := a.conn.Events()
	for {
		select {
		case <-a.ctx.Done():
			a.checkpoint()
			return

		case cmd := <-a.commands:
			if _, ok := cmd.(shutdownCmd); ok {
				a.checkpoint()
				return
			}
			a.handle(cmd)

		case in, ok := <-connEvents:
			if !ok {
				// Provider went away; the inbox keeps the actor alive
				// for snapshot and history reads.
				connEvents = nil
				continue
			}
			a.apply(in)
			a.publishSnapshot()
		}
	}
}

func (a *Actor) handle(cmd command) {
	switch cmd := cmd.(type) {
	case inputCmd:
		a.apply(cmd.in)

	case subscribeCmd:
		cmd.reply <- a.subscribe(cmd.since)

	case historyCmd:
		msgs := make([]session.Message, len(a.state.Messages))
		copy(msgs, a.state.Messages)
		cmd.reply <- msgs

	case setNameCmd:
		a.apply(session.ThreadNameUpdated{Name: cmd.name})
		cmd.reply <- nil

	case endLocallyCmd:
		a.apply(session.SessionEnded{Reason: cmd.reason})

	case driveCmd:
		err := a.invoke(cmd.call)
		if err != nil {
			a.apply(session.Error{Class: string(events.CodeInternal), Message: err.Error()})
		}
		cmd.reply <- err
	}
	a.publishSnapshot()
}

// apply runs one input through the transition and executes the resulting
// effects in order.
func (a *Actor) apply(in session.Input) {
	next, effects := session.Transition(a.state, in, time.Now())
	a.state = next
	if len(effects) == 0 {
		slog.Debug("session input ignored", "session_id", a.id, "phase", a.state.Phase)
		return
	}

	var connErr error
	for _, eff := range effects {
		switch eff := eff.(type) {
		case session.Persist:
			if err := a.queue.Enqueue(a.ctx, eff.Op); err != nil {
				slog.Warn("enqueue persist op", "session_id", a.id, "op", eff.Op.Kind, "error", err)
			}

		case session.Emit:
			a.publish(eff)

		case session.Connector:
			if err := a.invoke(eff.Call); err != nil && connErr == nil {
				slog.Warn("connector call failed",
					"session_id", a.id, "call", eff.Call.Kind, "error", err)
				connErr = err
			}
		}
	}

	// A connector failure becomes a regular error input, applied only
	// after this input's effects are fully executed so revisions stay in
	// emission order. It cannot take the actor down.
	if connErr != nil {
		a.apply(session.Error{Class: string(events.CodeInternal), Message: connErr.Error()})
	}
}

// publish serializes the event twice: the replay frame carries its
// revision at the top level and goes into the ring; the live frame omits
// it and goes to subscribers.
func (a *Actor) publish(e session.Emit) {
	replay, err := events.MarshalFrame(e.Type, a.id, &e.Revision, e.Payload)
	if err != nil {
		slog.Error("marshal replay frame", "session_id", a.id, "type", e.Type, "error", err)
		return
	}
	live, err := events.MarshalFrame(e.Type, a.id, nil, e.Payload)
	if err != nil {
		slog.Error("marshal live frame", "session_id", a.id, "type", e.Type, "error", err)
		return
	}
	a.ring.Append(e.Revision, replay)
	a.bcast.Send(live)
}

func (a *Actor) invoke(c session.ConnectorCall) error {
	switch c.Kind {
	case session.CallSendMessage:
		return a.conn.SendMessage(a.ctx, c.Content, c.Attachments)
	case session.CallSteer:
		return a.conn.Steer(a.ctx, c.Content)
	case session.CallApprove:
		return a.conn.Approve(a.ctx, c.RequestID, c.Amended, c.Scope)
	case session.CallDeny:
		return a.conn.Deny(a.ctx, c.RequestID, c.Reason)
	case session.CallAnswer:
		return a.conn.Answer(a.ctx, c.RequestID, c.Answer)
	case session.CallInterrupt:
		return a.conn.Interrupt(a.ctx)
	case session.CallEnd:
		return a.conn.End(a.ctx)
	case session.CallCompactContext:
		return a.conn.CompactContext(a.ctx)
	case session.CallUndoLastTurn:
		return a.conn.UndoLastTurn(a.ctx)
	case session.CallRollbackTurns:
		return a.conn.RollbackTurns(a.ctx, c.Turns)
	}
	return nil
}

// subscribe builds the backlog and attaches a receiver in one step, under
// the actor's single-threaded execution, so the frame sequence seen by
// the subscriber is gapless.
func (a *Actor) subscribe(since *uint64) SubscribeResult {
	var res SubscribeResult

	if since == nil {
		snap, err := events.MarshalFrame(events.EventSessionSnapshot, a.id, nil,
			session.SnapshotPayload{Session: a.state.TakeSnapshot()})
		if err != nil {
			slog.Error("marshal snapshot frame", "session_id", a.id, "error", err)
			return res
		}
		res.Frames = append(res.Frames, snap)
		for _, msg := range a.state.Messages {
			frame, err := events.MarshalFrame(events.EventMessageAppended, a.id, nil,
				session.MessageAppendedPayload{Message: msg})
			if err != nil {
				continue
			}
			res.Frames = append(res.Frames, frame)
		}
	} else if *since < a.state.Revision {
		frames, ok := a.ring.Since(*since)
		if !ok {
			res.Lagged = true
			return res
		}
		res.Frames = frames
	}

	res.Receiver = a.bcast.Subscribe()
	return res
}

func (a *Actor) publishSnapshot() {
	a.snapshot.Store(a.state.TakeSnapshot())
}

// checkpoint persists a final activity stamp on graceful shutdown.
func (a *Actor) checkpoint() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	op := persist.Op{
		Kind:      persist.OpUpdateSessionFields,
		SessionID: a.id,
		Fields:    map[string]any{"last_activity_at": time.Now()},
	}
	if err := a.queue.Enqueue(ctx, op); err != nil {
		slog.Warn("final checkpoint", "session_id", a.id, "error", err)
	}
}

// failTerminally reports an unexpected actor death as a session_ended
// event and detaches the handle from the registry.
func (a *Actor) failTerminally() {
	next, effects := session.Transition(a.state, session.SessionEnded{Reason: "internal_error"}, time.Now())
	a.state = next
	for _, eff := range effects {
		if emit, ok := eff.(session.Emit); ok {
			a.publish(emit)
		}
	}
	a.publishSnapshot()
	if a.onFatal != nil {
		a.onFatal(a.id)
	}
}

// Handle is the registry's reference to a running actor.
type Handle struct {
	a *Actor
}

// ID returns the session id.
func (h *Handle) ID() string { return h.a.id }

// Snapshot reads the published snapshot pointer. Lock-free; never blocks
// the actor.
func (h *Handle) Snapshot() *session.Snapshot {
	return h.a.snapshot.Load()
}

func (h *Handle) send(ctx context.Context, cmd command) error {
	select {
	case <-h.a.done:
		return ErrClosed
	default:
	}
	select {
	case h.a.commands <- cmd:
		return nil
	case <-h.a.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send delivers an input to the actor. Blocks when the inbox is full.
func (h *Handle) Send(ctx context.Context, in session.Input) error {
	return h.send(ctx, inputCmd{in: in})
}

// Subscribe attaches a new subscriber. since is the last revision the
// caller has seen, or nil for a fresh snapshot plus history.
func (h *Handle) Subscribe(ctx context.Context, since *uint64) (SubscribeResult, error) {
	reply := make(chan SubscribeResult, 1)
	if err := h.send(ctx, subscribeCmd{since: since, reply: reply}); err != nil {
		return SubscribeResult{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-h.a.done:
		return SubscribeResult{}, ErrClosed
	case <-ctx.Done():
		return SubscribeResult{}, ctx.Err()
	}
}

// History returns a copy of the message log.
func (h *Handle) History(ctx context.Context) ([]session.Message, error) {
	reply := make(chan []session.Message, 1)
	if err := h.send(ctx, historyCmd{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case msgs := <-reply:
		return msgs, nil
	case <-h.a.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SetCustomName renames the session and waits for the rename to land.
func (h *Handle) SetCustomName(ctx context.Context, name string) error {
	reply := make(chan error, 1)
	if err := h.send(ctx, setNameCmd{name: name, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-h.a.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drive invokes a connector call directly, outside the transition. Used
// for context-management requests that mutate provider state only.
func (h *Handle) Drive(ctx context.Context, call session.ConnectorCall) error {
	reply := make(chan error, 1)
	if err := h.send(ctx, driveCmd{call: call, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-h.a.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EndLocally ends the session without driving the connector.
func (h *Handle) EndLocally(ctx context.Context, reason string) error {
	return h.send(ctx, endLocallyCmd{reason: reason})
}

// Shutdown asks the actor to checkpoint and exit, then waits for it.
func (h *Handle) Shutdown(ctx context.Context) error {
	if err := h.send(ctx, shutdownCmd{}); err != nil && !errors.Is(err, ErrClosed) {
		// Fall back to hard cancellation.
		h.a.cancel()
	}
	select {
	case <-h.a.done:
		return nil
	case <-ctx.Done():
		h.a.cancel()
		return ctx.Err()
	}
}

// Stop cancels the actor without waiting.
func (h *Handle) Stop() { h.a.cancel() }

// Done closes when the actor goroutine has exited.
func (h *Handle) Done() <-chan struct{} { return h.a.done }

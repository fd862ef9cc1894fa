package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/robdel12/orbitdock/internal/persist"
)

// Writer batching parameters: a batch closes at maxBatch commands or when
// flushWindow elapses after the first command, whichever comes first.
const (
	QueueCapacity = 1024
	maxBatch      = 32
	flushWindow   = 16 * time.Millisecond

	retryAttempts = 3
	retryBase     = 50 * time.Millisecond
)

// ErrWriterClosed is returned by Enqueue after Close.
var ErrWriterClosed = errors.New("store: writer closed")

// Writer is the single consumer of persistence commands. Ordering of ops
// for one session is preserved by channel FIFO; writes are fire-and-forget
// from the actors' perspective.
type Writer struct {
	store *Store
	ch    chan persist.Op
	quit  chan struct{}
	done  chan struct{}
}

// NewWriter creates a writer over store with the given queue capacity.
func NewWriter(store *Store, capacity int) *Writer {
	if capacity <= 0 {
		capacity = QueueCapacity
	}
	return &Writer{
		store: store,
		ch:    make(chan persist.Op, capacity),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the drain goroutine.
func (w *Writer) Start() {
	go w.run()
}

// Enqueue queues one op. It blocks when the queue is full, slowing only
// the calling actor.
func (w *Writer) Enqueue(ctx context.Context, op persist.Op) error {
	select {
	case <-w.quit:
		return ErrWriterClosed
	default:
	}
	select {
	case w.ch <- op:
		return nil
	case <-w.quit:
		return ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting ops, drains what was queued, and returns after
// the final flush.
func (w *Writer) Close() {
	select {
	case <-w.quit:
	default:
		close(w.quit)
	}
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)

	for {
		var op persist.Op
		select {
		case op = <-w.ch:
		case <-w.quit:
			w.drain()
			return
		}

		batch := []persist.Op{op}
		timer := time.NewTimer(flushWindow)
	fill:
		for len(batch) < maxBatch {
			select {
			case next := <-w.ch:
				batch = append(batch, next)
			case <-timer.C:
				break fill
			case <-w.quit:
				break fill
			}
		}
		timer.Stop()
		w.flush(batch)
	}
}

// drain flushes whatever is still queued at shutdown.
func (w *Writer) drain() {
	var batch []persist.Op
	for {
		select {
		case op := <-w.ch:
			batch = append(batch, op)
			if len(batch) >= maxBatch {
				w.flush(batch)
				batch = nil
			}
		default:
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

// flush writes one batch, retrying transient lock contention with bounded
// backoff. A batch that still fails is dropped: in-memory state stays
// authoritative until the next restart reloads from storage.
func (w *Writer) flush(batch []persist.Op) {
	var err error
	for attempt := 0; attempt <= retryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBase << (attempt - 1))
		}
		err = w.store.Apply(batch)
		if err == nil {
			return
		}
		if !isBusy(err) {
			break
		}
		slog.Debug("persistence batch retry", "attempt", attempt+1, "error", err)
	}
	slog.Error("persistence batch dropped", "ops", len(batch), "error", err)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

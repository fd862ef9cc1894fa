package actor

import (
	"fmt"
	"testing"
)

func fillRing(r *EventRing, from, to uint64) {
	for rev := from; rev <= to; rev++ {
		r.Append(rev, []byte(fmt.Sprintf(`{"revision":%d}`, rev)))
	}
}

func TestRingSinceContiguous(t *testing.T) {
	r := NewEventRing(10)
	fillRing(r, 1, 5)

	frames, ok := r.Since(2)
	if !ok {
		t.Fatal("expected replay to be possible")
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if string(frames[0]) != `{"revision":3}` || string(frames[2]) != `{"revision":5}` {
		t.Fatalf("frames out of order: %q .. %q", frames[0], frames[2])
	}
}

func TestRingSinceExactTail(t *testing.T) {
	r := NewEventRing(10)
	fillRing(r, 1, 5)

	frames, ok := r.Since(5)
	if !ok || len(frames) != 0 {
		t.Fatalf("caught-up subscriber should replay nothing: ok=%v n=%d", ok, len(frames))
	}
}

// After the ring wraps, a baseline whose successor was discarded must be
// refused so the client re-snapshots.
func TestRingWrapDiscardsOldest(t *testing.T) {
	r := NewEventRing(RingCapacity)
	fillRing(r, 1, RingCapacity+1) // 1001 events: revision 1 is gone

	oldest, ok := r.OldestRevision()
	if !ok || oldest != 2 {
		t.Fatalf("oldest after wrap: %d", oldest)
	}

	if _, ok := r.Since(0); ok {
		t.Fatal("replay from 0 should fail after wrap")
	}
	frames, ok := r.Since(1)
	if !ok {
		t.Fatal("replay from 1 should succeed: oldest entry is 2")
	}
	if len(frames) != RingCapacity {
		t.Fatalf("expected %d frames, got %d", RingCapacity, len(frames))
	}
}

func TestRingEmpty(t *testing.T) {
	r := NewEventRing(4)
	if _, ok := r.OldestRevision(); ok {
		t.Fatal("empty ring has no oldest revision")
	}
	if _, ok := r.Since(0); ok {
		t.Fatal("empty ring cannot replay")
	}
}

package actor

// RingCapacity is how many emitted events a session retains for replay.
const RingCapacity = 1000

type ringEntry struct {
	revision uint64
	data     []byte
}

// EventRing is a bounded buffer of pre-serialized replay frames, each
// tagged with the revision that produced it. It is a reconnection cache,
// not a recovery log: when a requested baseline has been overwritten the
// caller signals lagged and the client re-snapshots.
//
// The ring is owned by a single actor goroutine and is not synchronized.
type EventRing struct {
	entries []ringEntry
	size    int
	pos     int
	count   int
}

// NewEventRing creates a ring holding up to size entries.
func NewEventRing(size int) *EventRing {
	if size <= 0 {
		size = RingCapacity
	}
	return &EventRing{entries: make([]ringEntry, size), size: size}
}

// Append records one frame, discarding the oldest when full.
func (r *EventRing) Append(revision uint64, data []byte) {
	r.entries[r.pos] = ringEntry{revision: revision, data: data}
	r.pos = (r.pos + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// OldestRevision returns the lowest retained revision.
func (r *EventRing) OldestRevision() (uint64, bool) {
	if r.count == 0 {
		return 0, false
	}
	start := (r.pos - r.count + r.size) % r.size
	return r.entries[start].revision, true
}

// Since returns, in order, every retained frame with revision > rev. The
// second result is false when the gap exceeds the ring: the entry for
// rev+1 has been discarded and replay would be incomplete.
func (r *EventRing) Since(rev uint64) ([][]byte, bool) {
	oldest, ok := r.OldestRevision()
	if !ok {
		return nil, false
	}
	if oldest > rev+1 {
		return nil, false
	}

	var out [][]byte
	start := (r.pos - r.count + r.size) % r.size
	for i := 0; i < r.count; i++ {
		e := r.entries[(start+i)%r.size]
		if e.revision > rev {
			out = append(out, e.data)
		}
	}
	return out, true
}

// Len reports how many frames the ring currently holds.
func (r *EventRing) Len() int { return r.count }

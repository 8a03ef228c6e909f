// Package circuit implements the reliable transport over one UDP
// socket: per-remote circuits, sequence and duplicate tracking,
// acknowledgment with retransmission, keep-alive, and datagram routing.
package circuit

import "sync/atomic"

// SeqGen is the per-circuit outbound sequence number generator.
// It is shared between caller goroutines and the circuit's timer loop,
// so all operations are atomic.
type SeqGen struct {
	val atomic.Uint32
}

// NewSeqGen creates a new sequence generator starting at 0.
// The first call to Next() returns 1.
func NewSeqGen() *SeqGen {
	return &SeqGen{}
}

// Next returns the next sequence number. Wrapping past 2^32 is a valid
// long-session event; comparisons use SeqNewer.
func (s *SeqGen) Next() uint32 {
	return s.val.Add(1)
}

// SeqNewer reports whether a is newer than b under modulo-2^32
// arithmetic: the high bit of the difference decides old versus new, so
// 0x00000005 is newer than 0xFFFFFFF0 across a wrap.
func SeqNewer(a, b uint32) bool {
	return int32(a-b) > 0
}

// Verdict classifies an inbound sequence number.
type Verdict int

const (
	Fresh     Verdict = iota // first sighting, accept and dispatch
	Duplicate                // inside the window and already seen; re-ack, drop
	Stale                    // older than anything the window retains; drop
)

// DedupWindow is the bounded set of recently observed inbound sequence
// numbers. It is goroutine-local to the circuit's receive loop and
// needs no locking.
type DedupWindow struct {
	size int
	seen map[uint32]struct{}
	ring []uint32 // insertion order, oldest first once full
	head int
	full bool
}

// NewDedupWindow creates a window retaining the most recent size
// distinct sequence numbers.
func NewDedupWindow(size int) *DedupWindow {
	return &DedupWindow{
		size: size,
		seen: make(map[uint32]struct{}, size),
		ring: make([]uint32, size),
	}
}

// Observe classifies seq and, when Fresh, records it, evicting the
// oldest retained entry if the window is full. Anything older than the
// eviction floor is Stale: it either was already delivered and has
// rolled out of the window, or arrived too late to tell.
func (w *DedupWindow) Observe(seq uint32) Verdict {
	if _, ok := w.seen[seq]; ok {
		return Duplicate
	}
	if w.full {
		oldest := w.ring[w.head]
		if SeqNewer(oldest, seq) {
			return Stale
		}
		delete(w.seen, oldest)
	}
	w.seen[seq] = struct{}{}
	w.ring[w.head] = seq
	w.head++
	if w.head == w.size {
		w.head = 0
		w.full = true
	}
	return Fresh
}

// Len returns how many sequence numbers the window currently retains.
func (w *DedupWindow) Len() int {
	return len(w.seen)
}

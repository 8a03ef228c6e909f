package circuit

import (
	"sync"
	"time"

	"github.com/gridlink/gridlink/internal/protocol"
)

// ackEntry is one outstanding reliable send: the exact serialized
// datagram (needed verbatim for retransmission), when it first went
// out, when it last went out, and how often it has been retried.
type ackEntry struct {
	seq       uint32
	raw       []byte
	firstSent time.Time
	lastSent  time.Time
	retries   int
}

// ackEngine owns both directions of acknowledgment state for one
// circuit: outbound reliable packets awaiting acks, and inbound
// sequence numbers we owe acks for. Senders and the circuit's timer
// loop touch it concurrently, so every method locks.
type ackEngine struct {
	mu      sync.Mutex
	pending map[uint32]*ackEntry
	inbound []uint32 // acks owed to the remote, in arrival order
}

func newAckEngine() *ackEngine {
	return &ackEngine{pending: make(map[uint32]*ackEntry)}
}

// register records a reliable send awaiting acknowledgment.
func (e *ackEngine) register(seq uint32, raw []byte, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[seq] = &ackEntry{seq: seq, raw: raw, firstSent: now, lastSent: now}
}

// ack retires the entry for seq. Acks for unknown sequence numbers are
// ignored; duplicate acks and acks for already-retired entries are
// normal on a lossy link.
func (e *ackEngine) ack(seq uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[seq]; !ok {
		return false
	}
	delete(e.pending, seq)
	return true
}

// scan promotes entries older than interval to retransmission and
// retires entries that have exhausted maxRetries. Retransmissions are
// the original bytes with the Resent flag set in place; Reliable stays
// set. Returned slices are safe for the caller to use without the lock.
func (e *ackEngine) scan(now time.Time, interval time.Duration, maxRetries int) (resend []*ackEntry, failed []uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for seq, ent := range e.pending {
		if now.Sub(ent.lastSent) < interval {
			continue
		}
		if ent.retries >= maxRetries {
			delete(e.pending, seq)
			failed = append(failed, seq)
			continue
		}
		ent.raw[0] |= byte(protocol.FlagResent)
		ent.retries++
		ent.lastSent = now
		resend = append(resend, ent)
	}
	return resend, failed
}

// queueInbound records a received reliable sequence number we owe an
// ack for. Called again for duplicates: the remote may not have seen
// our first ack.
func (e *ackEngine) queueInbound(seq uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inbound = append(e.inbound, seq)
}

// takeInbound removes and returns up to max owed acks for piggybacking
// or a dedicated PacketAck flush. Returns nil when none are owed.
func (e *ackEngine) takeInbound(max int) []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.inbound) == 0 || max <= 0 {
		return nil
	}
	n := min(max, len(e.inbound))
	out := make([]uint32, n)
	copy(out, e.inbound[:n])
	e.inbound = e.inbound[n:]
	return out
}

// oldestUnacked returns the sequence number that has waited longest for
// an ack, and false when nothing is pending. Advertised in keep-alive
// probes so the remote can retire stale bookkeeping.
func (e *ackEngine) oldestUnacked() (uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var oldest *ackEntry
	for _, ent := range e.pending {
		if oldest == nil || ent.firstSent.Before(oldest.firstSent) {
			oldest = ent
		}
	}
	if oldest == nil {
		return 0, false
	}
	return oldest.seq, true
}

// pendingCount returns the number of reliable sends still awaiting acks.
func (e *ackEngine) pendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// abandon drops all state. Used on forced close; pending entries are
// abandoned, not flushed.
func (e *ackEngine) abandon() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = make(map[uint32]*ackEntry)
	e.inbound = nil
}

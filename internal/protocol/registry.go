package protocol

import (
	"fmt"
	"sync"
)

// Message is one schema entry: the identity of a message plus the
// framing hints the transport needs. Field-level body schemas belong to
// the domain managers; the transport only needs the identity, the
// zero-coding preference for outbound encoding, and an optional fixed
// body length for validation.
type Message struct {
	Name      string
	Frequency Frequency
	ID        uint32
	Reliable  bool // sent reliable by default
	ZeroCoded bool // worth attempting zero-coding on send
	BodyLen   int  // exact body length, or -1 when variable
}

type messageKey struct {
	freq Frequency
	id   uint32
}

// Registry maps (frequency, id) to its Message schema. Lookups happen
// on the receive path, so reads take an RLock only.
type Registry struct {
	mu   sync.RWMutex
	byID map[messageKey]Message
}

// NewRegistry returns a registry pre-seeded with the circuit-control
// messages the transport itself owns. Domain managers register their
// own schemas on top at load time.
func NewRegistry() *Registry {
	r := &Registry{byID: make(map[messageKey]Message)}
	for _, m := range builtinMessages {
		r.byID[messageKey{m.Frequency, m.ID}] = m
	}
	return r
}

// Register adds or replaces a schema entry.
func (r *Registry) Register(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[messageKey{m.Frequency, m.ID}] = m
}

// Lookup returns the schema for a (frequency, id) pair.
func (r *Registry) Lookup(freq Frequency, id uint32) (Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[messageKey{freq, id}]
	return m, ok
}

// Validate checks a decoded packet against the registry: the id must be
// known and a fixed-length body must match exactly. Used where strict
// routing is required; the circuit discards on failure.
func (r *Registry) Validate(pkt *Packet) error {
	m, ok := r.Lookup(pkt.Frequency, pkt.ID)
	if !ok {
		return fmt.Errorf("%w: %s %d", ErrUnknownMessage, pkt.Frequency, pkt.ID)
	}
	if m.BodyLen >= 0 && len(pkt.Body) != m.BodyLen {
		return fmt.Errorf("%w: %s body is %d bytes, schema wants %d",
			ErrBadLength, m.Name, len(pkt.Body), m.BodyLen)
	}
	return nil
}

// Name returns the schema name for a packet, or a hex placeholder for
// ids nothing has registered.
func (r *Registry) Name(pkt *Packet) string {
	if m, ok := r.Lookup(pkt.Frequency, pkt.ID); ok {
		return m.Name
	}
	return fmt.Sprintf("%s-0x%X", pkt.Frequency, pkt.ID)
}

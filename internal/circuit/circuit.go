package circuit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridlink/gridlink/internal/config"
	"github.com/gridlink/gridlink/internal/protocol"
	"github.com/gridlink/gridlink/internal/util"
)

// State is the circuit lifecycle position.
type State int32

const (
	Connecting State = iota // UseCircuitCode sent, awaiting its ack
	Active                  // bidirectional traffic flowing
	Closing                 // graceful teardown, draining reliable sends
	Closed                  // terminal, no further I/O
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Active:
		return "Active"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	}
	return "Unknown"
}

// CloseReason records why a circuit reached Closed, for the benefit of
// upper-layer reconnection logic.
type CloseReason int

const (
	ReasonNone        CloseReason = iota
	ReasonLoggedOut               // explicit graceful logout
	ReasonTimedOut                // handshake or keep-alive deadline missed
	ReasonDisabled                // remote sent CloseCircuit or equivalent kick
	ReasonSocketError             // OS-level send/receive failure
)

func (r CloseReason) String() string {
	switch r {
	case ReasonLoggedOut:
		return "LoggedOut"
	case ReasonTimedOut:
		return "TimedOut"
	case ReasonDisabled:
		return "Disabled"
	case ReasonSocketError:
		return "SocketError"
	}
	return "None"
}

// ErrCircuitClosed is returned by Send once a circuit has reached
// Closing or Closed.
var ErrCircuitClosed = errors.New("circuit: closed")

// Wire is the serialized datagram writer a circuit sends through. The
// Manager implements it over the shared UDP socket.
type Wire interface {
	WriteTo(addr *net.UDPAddr, data []byte) error
}

// hooks are the manager-side callbacks a circuit notifies. The packet
// hook runs on the circuit's own goroutine and must not block: stalling
// it stalls the receive path and manufactures keep-alive timeouts.
type hooks struct {
	state   func(c *Circuit, from, to State, reason CloseReason)
	failure func(c *Circuit, seq uint32)
	packet  func(c *Circuit, pkt *protocol.Packet)
}

// closingGrace bounds how long a graceful logout waits for outstanding
// reliable sends to drain before forcing teardown.
const closingGrace = 2 * time.Second

// Circuit is one logical session to one remote endpoint, multiplexed
// with its siblings over the Manager's single UDP socket.
type Circuit struct {
	addr    *net.UDPAddr
	code    uint32
	session uuid.UUID
	agent   uuid.UUID

	cfg   config.Transport
	reg   *protocol.Registry
	wire  Wire
	hooks hooks

	seq   *SeqGen
	dedup *DedupWindow
	acks  *ackEngine

	inbox chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	ready     chan struct{}
	readyOnce sync.Once

	mu           sync.Mutex
	state        State
	reason       CloseReason
	handshakeSeq uint32
	opened       time.Time
	closingSince time.Time

	lastRecv         time.Time
	lastSend         time.Time
	lastReliableSend time.Time

	pingID     uint8
	lastPingAt time.Time
	rtt        time.Duration
}

func newCircuit(parent context.Context, cfg config.Transport, reg *protocol.Registry,
	wire Wire, addr *net.UDPAddr, code uint32, session, agent uuid.UUID, h hooks) *Circuit {
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	return &Circuit{
		addr:     addr,
		code:     code,
		session:  session,
		agent:    agent,
		cfg:      cfg,
		reg:      reg,
		wire:     wire,
		hooks:    h,
		seq:      NewSeqGen(),
		dedup:    NewDedupWindow(cfg.DedupWindow),
		acks:     newAckEngine(),
		inbox:    make(chan []byte, cfg.InboxSize),
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
		state:    Connecting,
		opened:   now,
		lastRecv: now,
		lastSend: now,
	}
}

// start sends the opening handshake and launches the circuit goroutine.
func (c *Circuit) start() error {
	pkt := protocol.NewUseCircuitCode(c.code, c.session, c.agent)
	seq, err := c.send(pkt, true)
	if err != nil {
		c.close(ReasonSocketError)
		return err
	}
	c.mu.Lock()
	c.handshakeSeq = seq
	c.mu.Unlock()

	go c.run()
	return nil
}

// Addr returns the remote endpoint this circuit is bound to.
func (c *Circuit) Addr() *net.UDPAddr { return c.addr }

// Code returns the circuit code presented at open.
func (c *Circuit) Code() uint32 { return c.code }

// State returns the current lifecycle state.
func (c *Circuit) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reason returns why the circuit closed, or ReasonNone while it lives.
func (c *Circuit) Reason() CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Ready is closed once the handshake ack promotes the circuit to Active.
func (c *Circuit) Ready() <-chan struct{} { return c.ready }

// Done is closed when the circuit reaches Closed.
func (c *Circuit) Done() <-chan struct{} { return c.ctx.Done() }

// RTT returns the last measured ping round-trip time, zero before the
// first completed ping.
func (c *Circuit) RTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt
}

// PendingReliable returns how many reliable sends still await acks.
func (c *Circuit) PendingReliable() int { return c.acks.pendingCount() }

// Send stamps, frames, and transmits a message. Reliable sends are
// registered for retransmission until acked. Safe to call from any
// goroutine; returns the assigned sequence number.
func (c *Circuit) Send(pkt *protocol.Packet, reliable bool) (uint32, error) {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st == Closing || st == Closed {
		return 0, fmt.Errorf("%w (state %s)", ErrCircuitClosed, st)
	}
	return c.send(pkt, reliable)
}

// SendMessage frames a message for the domain managers' send surface:
// identity plus opaque body bytes. Zero-coding is attempted when the
// registered schema marks the message as worth compressing.
func (c *Circuit) SendMessage(freq protocol.Frequency, id uint32, body []byte, reliable bool) (uint32, error) {
	pkt := &protocol.Packet{Frequency: freq, ID: id, Body: body}
	if m, ok := c.reg.Lookup(freq, id); ok && m.ZeroCoded {
		pkt.Flags |= protocol.FlagZeroCoded
	}
	return c.Send(pkt, reliable)
}

// send is the internal path, also used by the handshake and teardown
// while the public gate is shut.
func (c *Circuit) send(pkt *protocol.Packet, reliable bool) (uint32, error) {
	if reliable {
		pkt.Flags |= protocol.FlagReliable
	}
	pkt.Sequence = c.seq.Next()

	// Piggyback owed acks on anything that is not itself an ack packet.
	if pkt.ID != protocol.PacketAckID || pkt.Frequency != protocol.Fixed {
		room := (protocol.MaxPacketSize - protocol.HeaderSize - len(pkt.Extra) - 4 - len(pkt.Body) - 1) / 4
		pkt.Acks = c.acks.takeInbound(min(room, protocol.MaxAppendedAcks))
	}

	data, err := protocol.Encode(pkt)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	if reliable {
		c.acks.register(pkt.Sequence, data, now)
	}
	if err := c.wire.WriteTo(c.addr, data); err != nil {
		util.LogError("[%s] socket write failed: %v", c.addr, err)
		c.close(ReasonSocketError)
		return 0, err
	}

	util.Stats.AddSent(len(data))
	c.mu.Lock()
	c.lastSend = now
	if reliable {
		c.lastReliableSend = now
	}
	c.mu.Unlock()
	return pkt.Sequence, nil
}

// Logout starts a graceful teardown: LogoutRequest goes out reliable,
// the state moves to Closing, and the timer loop finishes the close
// once pending sends drain or the grace period lapses.
func (c *Circuit) Logout() {
	c.mu.Lock()
	if c.state != Connecting && c.state != Active {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.state = Closing
	c.closingSince = time.Now()
	c.mu.Unlock()

	c.hooks.state(c, from, Closing, ReasonNone)
	if _, err := c.send(protocol.NewLogoutRequest(c.agent, c.session), true); err != nil {
		return // send already closed the circuit
	}
}

// close is the single terminal transition. Safe to call from any
// goroutine and concurrently with in-flight sends; later calls are
// no-ops. Pending ack entries are abandoned, not flushed.
func (c *Circuit) close(reason CloseReason) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.state = Closed
	c.reason = reason
	c.mu.Unlock()

	c.acks.abandon()
	c.cancel()
	c.hooks.state(c, from, Closed, reason)
	util.LogInfo("[%s] circuit closed (%s)", c.addr, reason)
}

// enqueue hands a raw datagram from the socket reader to the circuit
// goroutine. Drops when the inbox is full rather than stall the reader;
// a reliable sender will retransmit.
func (c *Circuit) enqueue(data []byte) {
	select {
	case c.inbox <- data:
	default:
		util.LogWarning("[%s] inbox full, dropping datagram", c.addr)
	}
}

// run is the circuit goroutine: it processes inbound datagrams in wire
// order and drives the retry, ack-flush, keep-alive, and timeout checks
// off one ticker.
func (c *Circuit) run() {
	tick := c.cfg.RetryInterval() / 4
	if tick < 5*time.Millisecond {
		tick = 5 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.inbox:
			c.handleDatagram(data)
		case <-ticker.C:
			c.onTick(time.Now())
		case <-c.ctx.Done():
			return
		}
	}
}

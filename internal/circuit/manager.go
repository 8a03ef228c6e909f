package circuit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/gridlink/gridlink/internal/config"
	"github.com/gridlink/gridlink/internal/protocol"
	"github.com/gridlink/gridlink/internal/util"
)

// Handler receives a decoded packet that survived duplicate filtering
// and ack consumption. Handlers run on the owning circuit's goroutine
// and must hand blocking work off rather than stall the receive loop.
type Handler func(c *Circuit, pkt *protocol.Packet)

// StateHandler observes circuit lifecycle transitions.
type StateHandler func(c *Circuit, from, to State, reason CloseReason)

// FailureHandler observes reliable sends that exhausted their retries.
type FailureHandler func(c *Circuit, seq uint32)

type subKey struct {
	freq protocol.Frequency
	id   uint32
}

// Manager owns the one UDP socket, the circuits multiplexed over it,
// and the subscription table that routes surviving packets to domain
// managers. A client may hold circuits to more than one simulator at a
// time during region handoff.
type Manager struct {
	cfg  config.Transport
	reg  *protocol.Registry
	conn *net.UDPConn

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	circuits map[string]*Circuit

	subMu       sync.RWMutex
	subs        map[subKey][]Handler
	anySubs     []Handler
	stateSubs   []StateHandler
	failureSubs []FailureHandler
}

// NewManager binds a UDP socket on an ephemeral local port and starts
// the socket-reader goroutine. The manager lives until Close or until
// ctx is cancelled.
func NewManager(parent context.Context, cfg config.Transport, reg *protocol.Registry) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("circuit: bind failed: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	m := &Manager{
		cfg:      cfg,
		reg:      reg,
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		circuits: make(map[string]*Circuit),
		subs:     make(map[subKey][]Handler),
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go m.readLoop()

	return m, nil
}

// Registry returns the message schema table shared by all circuits.
func (m *Manager) Registry() *protocol.Registry { return m.reg }

// LocalAddr returns the bound UDP address.
func (m *Manager) LocalAddr() net.Addr { return m.conn.LocalAddr() }

// OpenCircuit starts a circuit to the given simulator endpoint,
// presenting the circuit code and session identity issued at login.
// The returned circuit is Connecting; wait on Ready() for Active.
func (m *Manager) OpenCircuit(addr string, code uint32, session, agent uuid.UUID) (*Circuit, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("circuit: bad remote address %q: %w", addr, err)
	}

	c := newCircuit(m.ctx, m.cfg, m.reg, m, udpAddr, code, session, agent, hooks{
		state:   m.onState,
		failure: m.onFailure,
		packet:  m.dispatch,
	})

	m.mu.Lock()
	if _, exists := m.circuits[udpAddr.String()]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("circuit: already open to %s", udpAddr)
	}
	m.circuits[udpAddr.String()] = c
	m.mu.Unlock()

	util.LogInfo("[%s] opening circuit (code %d)", udpAddr, code)
	if err := c.start(); err != nil {
		return nil, err
	}
	return c, nil
}

// CloseCircuit forces a circuit down immediately, notifying the remote
// with an unreliable CloseCircuit. Use Circuit.Logout for the graceful
// draining variant.
func (m *Manager) CloseCircuit(c *Circuit) {
	if c.State() == Closed {
		return
	}
	c.send(protocol.NewCloseCircuit(), false)
	c.close(ReasonLoggedOut)
}

// Circuits returns a snapshot of the currently open circuits.
func (m *Manager) Circuits() []*Circuit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Circuit, 0, len(m.circuits))
	for _, c := range m.circuits {
		out = append(out, c)
	}
	return out
}

// Close tears down every circuit and releases the socket.
func (m *Manager) Close() {
	for _, c := range m.Circuits() {
		m.CloseCircuit(c)
	}
	m.cancel()
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

// Subscribe registers a handler for one message id. Multiple handlers
// per id are invoked in registration order.
func (m *Manager) Subscribe(freq protocol.Frequency, id uint32, h Handler) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	k := subKey{freq, id}
	m.subs[k] = append(m.subs[k], h)
}

// SubscribeAll registers a handler for every surviving packet,
// regardless of id. Runs after the id-specific handlers.
func (m *Manager) SubscribeAll(h Handler) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.anySubs = append(m.anySubs, h)
}

// OnState registers an observer for circuit lifecycle transitions.
func (m *Manager) OnState(h StateHandler) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.stateSubs = append(m.stateSubs, h)
}

// OnDeliveryFailure registers an observer for reliable sends that gave up.
func (m *Manager) OnDeliveryFailure(h FailureHandler) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.failureSubs = append(m.failureSubs, h)
}

func (m *Manager) dispatch(c *Circuit, pkt *protocol.Packet) {
	m.subMu.RLock()
	hs := m.subs[subKey{pkt.Frequency, pkt.ID}]
	any := m.anySubs
	m.subMu.RUnlock()

	for _, h := range hs {
		h(c, pkt)
	}
	for _, h := range any {
		h(c, pkt)
	}
}

func (m *Manager) onState(c *Circuit, from, to State, reason CloseReason) {
	if to == Closed {
		m.mu.Lock()
		delete(m.circuits, c.addr.String())
		m.mu.Unlock()
	}

	m.subMu.RLock()
	hs := m.stateSubs
	m.subMu.RUnlock()
	for _, h := range hs {
		h(c, from, to, reason)
	}
}

func (m *Manager) onFailure(c *Circuit, seq uint32) {
	m.subMu.RLock()
	hs := m.failureSubs
	m.subMu.RUnlock()
	for _, h := range hs {
		h(c, seq)
	}
}

// ---------------------------------------------------------------------------
// Socket I/O
// ---------------------------------------------------------------------------

// WriteTo serializes datagram writes across all circuits sharing the
// socket, preserving per-circuit send ordering.
func (m *Manager) WriteTo(addr *net.UDPAddr, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_, err := m.conn.WriteToUDP(data, addr)
	return err
}

// readLoop is the single socket-reader goroutine. It routes each
// datagram to the circuit matching its source address; datagrams from
// unknown addresses are dropped as the anti-spoofing baseline.
func (m *Manager) readLoop() {
	buf := make([]byte, 65535)
	for {
		n, src, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-m.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			// Socket death is fatal to every circuit on it.
			util.LogError("socket read failed: %v", err)
			for _, c := range m.Circuits() {
				c.close(ReasonSocketError)
			}
			return
		}

		m.mu.Lock()
		c, ok := m.circuits[src.String()]
		m.mu.Unlock()
		if !ok {
			util.LogDebug("dropping datagram from unknown source %s", src)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		c.enqueue(data)
	}
}

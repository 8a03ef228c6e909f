// Package inspector exposes a live protocol tap: decoded packet
// summaries and circuit lifecycle events streamed as JSON over a
// WebSocket endpoint, for debugging against a real simulator.
package inspector

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gridlink/gridlink/internal/circuit"
	"github.com/gridlink/gridlink/internal/protocol"
	"github.com/gridlink/gridlink/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is one tap record. Kind is "packet", "state", or "failure".
type Event struct {
	Time     time.Time `json:"time"`
	Kind     string    `json:"kind"`
	Circuit  string    `json:"circuit"`
	Message  string    `json:"message,omitempty"`
	Sequence uint32    `json:"sequence,omitempty"`
	Size     int       `json:"size,omitempty"`
	Reliable bool      `json:"reliable,omitempty"`
	State    string    `json:"state,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// eventBufferSize bounds the publish queue; the tap drops events rather
// than slow the transport down.
const eventBufferSize = 256

// Server fans tap events out to any number of WebSocket viewers.
type Server struct {
	listener net.Listener
	events   chan Event

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewServer creates an idle tap server. Call Start and Attach.
func NewServer() *Server {
	return &Server{
		events:  make(chan Event, eventBufferSize),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Start begins listening on addr (":0" picks a random port) and returns
// the bound port. Viewers connect to ws://host:port/events.
func (s *Server) Start(ctx context.Context, addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("inspector: listen failed: %w", err)
	}
	s.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleWS)

	go func() {
		_ = http.Serve(listener, mux)
	}()
	go s.broadcastLoop(ctx)

	util.LogInfo("inspector listening on port %d", port)
	return port, nil
}

// Attach wires the tap into a circuit manager: every surviving packet,
// state transition, and delivery failure becomes an event.
func (s *Server) Attach(m *circuit.Manager) {
	reg := m.Registry()

	m.SubscribeAll(func(c *circuit.Circuit, pkt *protocol.Packet) {
		s.publish(Event{
			Time:     time.Now(),
			Kind:     "packet",
			Circuit:  c.Addr().String(),
			Message:  reg.Name(pkt),
			Sequence: pkt.Sequence,
			Size:     len(pkt.Body),
			Reliable: pkt.Reliable(),
		})
	})
	m.OnState(func(c *circuit.Circuit, from, to circuit.State, reason circuit.CloseReason) {
		s.publish(Event{
			Time:    time.Now(),
			Kind:    "state",
			Circuit: c.Addr().String(),
			State:   to.String(),
			Reason:  reason.String(),
		})
	})
	m.OnDeliveryFailure(func(c *circuit.Circuit, seq uint32) {
		s.publish(Event{
			Time:     time.Now(),
			Kind:     "failure",
			Circuit:  c.Addr().String(),
			Sequence: seq,
		})
	})
}

// Close stops accepting viewers and disconnects the current ones.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		conn.Close()
	}
	s.clients = make(map[*websocket.Conn]struct{})
}

// publish enqueues an event, dropping it when the buffer is full.
func (s *Server) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	// Reader goroutine whose only job is detecting viewer disconnect.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.drop(conn)
				return
			}
		}
	}()
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		conn.Close()
	}
}

// broadcastLoop is the single writer to every viewer connection.
func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		select {
		case ev := <-s.events:
			s.mu.Lock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.mu.Unlock()

			for _, conn := range conns {
				if err := conn.WriteJSON(ev); err != nil {
					s.drop(conn)
				}
			}
		case <-ctx.Done():
			s.Close()
			return
		}
	}
}

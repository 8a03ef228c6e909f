package circuit

import (
	"time"

	"github.com/gridlink/gridlink/internal/protocol"
	"github.com/gridlink/gridlink/internal/util"
)

// handleDatagram decodes, filters, and dispatches one inbound datagram.
// A malformed datagram is logged and dropped; it never ends the session.
func (c *Circuit) handleDatagram(data []byte) {
	pkt, err := protocol.Decode(data)
	if err != nil {
		util.Stats.AddMalformed()
		util.LogDebug("[%s] dropping undecodable datagram: %v", c.addr, err)
		return
	}

	util.Stats.AddRecv(len(data))
	c.mu.Lock()
	c.lastRecv = time.Now()
	c.mu.Unlock()

	switch c.dedup.Observe(pkt.Sequence) {
	case Duplicate:
		util.Stats.AddDuplicate()
		// Our first ack may have been lost — owe another one.
		if pkt.Reliable() {
			c.acks.queueInbound(pkt.Sequence)
		}
		util.LogDebug("[%s] duplicate seq %d dropped", c.addr, pkt.Sequence)
		return
	case Stale:
		util.Stats.AddDuplicate()
		util.LogDebug("[%s] stale seq %d dropped", c.addr, pkt.Sequence)
		return
	}

	for _, seq := range pkt.Acks {
		c.onAcked(seq)
	}

	if pkt.Reliable() {
		c.acks.queueInbound(pkt.Sequence)
	}

	if c.handleControl(pkt) {
		return
	}

	if err := c.reg.Validate(pkt); err != nil {
		util.Stats.AddMalformed()
		util.LogDebug("[%s] dropping packet: %v", c.addr, err)
		return
	}

	c.hooks.packet(c, pkt)
}

// handleControl consumes the transport-internal messages. Returns true
// when the packet was owned here and must not reach consumers.
func (c *Circuit) handleControl(pkt *protocol.Packet) bool {
	switch {
	case pkt.Frequency == protocol.Fixed && pkt.ID == protocol.PacketAckID:
		seqs, err := protocol.ParsePacketAck(pkt.Body)
		if err != nil {
			util.LogDebug("[%s] bad PacketAck: %v", c.addr, err)
			return true
		}
		for _, seq := range seqs {
			c.onAcked(seq)
		}
		return true

	case pkt.Frequency == protocol.High && pkt.ID == protocol.StartPingCheckID:
		id, err := protocol.PingID(pkt.Body)
		if err != nil {
			return true
		}
		if _, err := c.send(protocol.NewCompletePingCheck(id), false); err != nil {
			util.LogDebug("[%s] ping echo failed: %v", c.addr, err)
		}
		return true

	case pkt.Frequency == protocol.High && pkt.ID == protocol.CompletePingCheckID:
		id, err := protocol.PingID(pkt.Body)
		if err != nil {
			return true
		}
		c.mu.Lock()
		if id == c.pingID && !c.lastPingAt.IsZero() {
			c.rtt = time.Since(c.lastPingAt)
		}
		c.mu.Unlock()
		return true

	case pkt.Frequency == protocol.Fixed && pkt.ID == protocol.CloseCircuitID:
		util.LogInfo("[%s] remote disabled the circuit", c.addr)
		c.close(ReasonDisabled)
		return true
	}
	return false
}

// onAcked retires an outstanding reliable send. The handshake ack is
// what proves the remote accepted our circuit code.
func (c *Circuit) onAcked(seq uint32) {
	if !c.acks.ack(seq) {
		return
	}
	c.mu.Lock()
	promote := c.state == Connecting && seq == c.handshakeSeq
	if promote {
		c.state = Active
	}
	c.mu.Unlock()

	if promote {
		c.readyOnce.Do(func() { close(c.ready) })
		c.hooks.state(c, Connecting, Active, ReasonNone)
		util.LogInfo("[%s] circuit active", c.addr)
	}
}

// onTick drives retransmission, ack flushing, keep-alive, and the
// timeout checks. One shared cadence keeps the bookkeeping ordered
// relative to inbound processing on the circuit goroutine.
func (c *Circuit) onTick(now time.Time) {
	c.mu.Lock()
	st := c.state
	lastRecv := c.lastRecv
	lastSend := c.lastSend
	lastReliable := c.lastReliableSend
	opened := c.opened
	closingSince := c.closingSince
	c.mu.Unlock()

	if st == Closed {
		return
	}

	// Retransmission scan and give-up reporting.
	resend, failed := c.acks.scan(now, c.cfg.RetryInterval(), c.cfg.MaxRetries)
	for _, ent := range resend {
		if err := c.wire.WriteTo(c.addr, ent.raw); err != nil {
			util.LogError("[%s] resend write failed: %v", c.addr, err)
			c.close(ReasonSocketError)
			return
		}
		util.Stats.AddSent(len(ent.raw))
		util.Stats.AddResend()
		util.LogDebug("[%s] resent seq %d (attempt %d)", c.addr, ent.seq, ent.retries)
	}
	for _, seq := range failed {
		util.LogWarning("[%s] gave up on seq %d after %d retries", c.addr, seq, c.cfg.MaxRetries)
		c.hooks.failure(c, seq)
		c.mu.Lock()
		handshake := st == Connecting && seq == c.handshakeSeq
		c.mu.Unlock()
		if handshake {
			// The circuit never came up; nothing to keep alive.
			c.close(ReasonTimedOut)
			return
		}
	}

	switch st {
	case Connecting:
		if now.Sub(opened) > c.cfg.ConnectTimeout() {
			util.LogWarning("[%s] handshake timed out", c.addr)
			c.close(ReasonTimedOut)
			return
		}

	case Active:
		// Circuit death: no inbound traffic of any kind for too long.
		if now.Sub(lastRecv) > c.cfg.CircuitTimeout() {
			util.LogWarning("[%s] no inbound traffic for %s", c.addr, now.Sub(lastRecv).Round(time.Millisecond))
			c.close(ReasonTimedOut)
			return
		}
		// Keep-alive probe when we have been quiet on reliable traffic.
		if now.Sub(lastReliable) > c.cfg.PingInterval() {
			c.mu.Lock()
			c.pingID++
			id := c.pingID
			c.lastPingAt = now
			c.mu.Unlock()
			oldest, _ := c.acks.oldestUnacked()
			if _, err := c.send(protocol.NewStartPingCheck(id, oldest), true); err != nil {
				return
			}
		}

	case Closing:
		if c.acks.pendingCount() == 0 || now.Sub(closingSince) > closingGrace {
			c.send(protocol.NewCloseCircuit(), false)
			c.close(ReasonLoggedOut)
			return
		}
	}

	// Flush owed acks as a dedicated packet when no outgoing traffic
	// has carried them recently.
	if now.Sub(lastSend) > c.cfg.AckFlushInterval() {
		if acks := c.acks.takeInbound(protocol.MaxAppendedAcks); len(acks) > 0 {
			if _, err := c.send(protocol.NewPacketAck(acks), false); err != nil {
				return
			}
			util.LogDebug("[%s] flushed %d acks", c.addr, len(acks))
		}
	}
}

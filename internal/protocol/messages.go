package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Circuit-control message identifiers. These are the only messages the
// transport layer builds and consumes itself; everything else passes
// through as opaque body bytes.
const (
	StartPingCheckID    = 1   // High
	CompletePingCheckID = 2   // High
	UseCircuitCodeID    = 3   // Low
	LogoutRequestID     = 252 // Low
	PacketAckID         = 251 // Fixed
	CloseCircuitID      = 252 // Fixed
)

var builtinMessages = []Message{
	{Name: "StartPingCheck", Frequency: High, ID: StartPingCheckID, BodyLen: 5},
	{Name: "CompletePingCheck", Frequency: High, ID: CompletePingCheckID, BodyLen: 1},
	{Name: "UseCircuitCode", Frequency: Low, ID: UseCircuitCodeID, Reliable: true, BodyLen: 36},
	{Name: "LogoutRequest", Frequency: Low, ID: LogoutRequestID, Reliable: true, BodyLen: 32},
	{Name: "PacketAck", Frequency: Fixed, ID: PacketAckID, BodyLen: -1},
	{Name: "CloseCircuit", Frequency: Fixed, ID: CloseCircuitID, BodyLen: 0},
}

// NewUseCircuitCode builds the circuit-opening handshake packet: the
// circuit code issued at login plus the session and agent identifiers.
// Always reliable — its ack is what promotes the circuit to Active.
func NewUseCircuitCode(code uint32, sessionID, agentID uuid.UUID) *Packet {
	body := make([]byte, 0, 36)
	body = binary.BigEndian.AppendUint32(body, code)
	body = append(body, sessionID[:]...)
	body = append(body, agentID[:]...)
	return &Packet{
		Frequency: Low,
		ID:        UseCircuitCodeID,
		Flags:     FlagReliable,
		Body:      body,
	}
}

// NewPacketAck builds a standalone ack packet. Ack packets are never
// themselves reliable, or acks would beget acks forever.
func NewPacketAck(seqs []uint32) *Packet {
	body := make([]byte, 0, 1+len(seqs)*4)
	body = append(body, byte(len(seqs)))
	for _, s := range seqs {
		body = binary.BigEndian.AppendUint32(body, s)
	}
	return &Packet{Frequency: Fixed, ID: PacketAckID, Body: body}
}

// ParsePacketAck extracts the acked sequence numbers from a PacketAck body.
func ParsePacketAck(body []byte) ([]uint32, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: empty PacketAck body", ErrTruncated)
	}
	count := int(body[0])
	if len(body) < 1+count*4 {
		return nil, fmt.Errorf("%w: PacketAck claims %d acks in %d bytes", ErrTruncated, count, len(body))
	}
	seqs := make([]uint32, count)
	for i := range seqs {
		seqs[i] = binary.BigEndian.Uint32(body[1+i*4:])
	}
	return seqs, nil
}

// NewStartPingCheck builds the keep-alive probe. oldestUnacked lets the
// remote drop acks for anything older that it may still be retrying.
func NewStartPingCheck(pingID uint8, oldestUnacked uint32) *Packet {
	body := make([]byte, 5)
	body[0] = pingID
	binary.BigEndian.PutUint32(body[1:], oldestUnacked)
	return &Packet{Frequency: High, ID: StartPingCheckID, Body: body}
}

// NewCompletePingCheck echoes a ping probe back with its id.
func NewCompletePingCheck(pingID uint8) *Packet {
	return &Packet{Frequency: High, ID: CompletePingCheckID, Body: []byte{pingID}}
}

// PingID extracts the ping id byte shared by both ping-check messages.
func PingID(body []byte) (uint8, error) {
	if len(body) < 1 {
		return 0, fmt.Errorf("%w: empty ping-check body", ErrTruncated)
	}
	return body[0], nil
}

// NewLogoutRequest builds the graceful-logout packet.
func NewLogoutRequest(agentID, sessionID uuid.UUID) *Packet {
	body := make([]byte, 0, 32)
	body = append(body, agentID[:]...)
	body = append(body, sessionID[:]...)
	return &Packet{
		Frequency: Low,
		ID:        LogoutRequestID,
		Flags:     FlagReliable,
		Body:      body,
	}
}

// NewCloseCircuit builds the terminal teardown notification. Sent
// unreliable — the circuit is going away either way.
func NewCloseCircuit() *Packet {
	return &Packet{Frequency: Fixed, ID: CloseCircuitID}
}

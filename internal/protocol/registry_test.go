package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()

	m, ok := r.Lookup(Low, UseCircuitCodeID)
	if !ok {
		t.Fatal("UseCircuitCode not registered")
	}
	if m.Name != "UseCircuitCode" || !m.Reliable || m.BodyLen != 36 {
		t.Errorf("unexpected UseCircuitCode schema: %+v", m)
	}

	if _, ok := r.Lookup(Fixed, PacketAckID); !ok {
		t.Error("PacketAck not registered")
	}
	if _, ok := r.Lookup(High, 200); ok {
		t.Error("lookup of unregistered id succeeded")
	}
}

func TestRegistryValidate(t *testing.T) {
	r := NewRegistry()
	r.Register(Message{Name: "ChatFromViewer", Frequency: Low, ID: 80, BodyLen: 10})

	testCases := []struct {
		name    string
		pkt     *Packet
		wantErr error
	}{
		{"known variable length", &Packet{Frequency: Fixed, ID: PacketAckID, Body: []byte{0}}, nil},
		{"known exact length", &Packet{Frequency: Low, ID: 80, Body: make([]byte, 10)}, nil},
		{"length mismatch", &Packet{Frequency: Low, ID: 80, Body: make([]byte, 9)}, ErrBadLength},
		{"unknown id", &Packet{Frequency: Medium, ID: 77}, ErrUnknownMessage},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := r.Validate(tc.pkt)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate failed: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Validate error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestRegistryName(t *testing.T) {
	r := NewRegistry()
	if got := r.Name(&Packet{Frequency: Fixed, ID: CloseCircuitID}); got != "CloseCircuit" {
		t.Errorf("Name = %q, want CloseCircuit", got)
	}
	if got := r.Name(&Packet{Frequency: Medium, ID: 0x42}); got != "Medium-0x42" {
		t.Errorf("Name = %q, want Medium-0x42", got)
	}
}

func TestUseCircuitCodeBody(t *testing.T) {
	session := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	agent := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")

	pkt := NewUseCircuitCode(0x01020304, session, agent)
	if !pkt.Reliable() {
		t.Error("handshake packet must be reliable")
	}
	if len(pkt.Body) != 36 {
		t.Fatalf("body length = %d, want 36", len(pkt.Body))
	}
	if !bytes.Equal(pkt.Body[:4], []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("circuit code bytes = %X", pkt.Body[:4])
	}
	if !bytes.Equal(pkt.Body[4:20], session[:]) {
		t.Error("session id bytes mismatch")
	}
	if !bytes.Equal(pkt.Body[20:36], agent[:]) {
		t.Error("agent id bytes mismatch")
	}
}

func TestPacketAckRoundTrip(t *testing.T) {
	seqs := []uint32{1, 42, 0xFFFFFFF0}
	pkt := NewPacketAck(seqs)
	if pkt.Reliable() {
		t.Error("ack packets must not be reliable")
	}

	got, err := ParsePacketAck(pkt.Body)
	if err != nil {
		t.Fatalf("ParsePacketAck failed: %v", err)
	}
	if len(got) != len(seqs) {
		t.Fatalf("ack count = %d, want %d", len(got), len(seqs))
	}
	for i, s := range seqs {
		if got[i] != s {
			t.Errorf("ack %d = %d, want %d", i, got[i], s)
		}
	}
}

func TestParsePacketAckTruncated(t *testing.T) {
	testCases := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"count without entries", []byte{2, 0, 0, 0, 1}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParsePacketAck(tc.body); !errors.Is(err, ErrTruncated) {
				t.Fatalf("ParsePacketAck error = %v, want ErrTruncated", err)
			}
		})
	}
}

func TestPingCheckBodies(t *testing.T) {
	ping := NewStartPingCheck(7, 1234)
	if len(ping.Body) != 5 || ping.Body[0] != 7 {
		t.Errorf("StartPingCheck body = %X", ping.Body)
	}
	pong := NewCompletePingCheck(7)
	id, err := PingID(pong.Body)
	if err != nil || id != 7 {
		t.Errorf("PingID = (%d, %v), want (7, nil)", id, err)
	}
}

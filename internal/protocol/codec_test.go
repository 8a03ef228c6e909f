package protocol

import (
	"bytes"
	"errors"
	"testing"
)

// TestEncodeDecodeRoundTrip verifies that encoding and decoding are
// inverse operations across every frequency class and flag mix.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		pkt  *Packet
	}{
		{
			name: "High frequency with body",
			pkt: &Packet{
				Frequency: High,
				ID:        1,
				Sequence:  1,
				Body:      []byte("hello world"),
			},
		},
		{
			name: "High frequency boundary id 0xFE",
			pkt: &Packet{
				Frequency: High,
				ID:        0xFE,
				Sequence:  42,
				Body:      []byte{1, 2, 3},
			},
		},
		{
			name: "Medium frequency reliable",
			pkt: &Packet{
				Frequency: Medium,
				ID:        0x8B,
				Flags:     FlagReliable,
				Sequence:  9999,
				Body:      []byte{0xAA, 0xBB},
			},
		},
		{
			name: "Low frequency max id",
			pkt: &Packet{
				Frequency: Low,
				ID:        0xFEFF,
				Flags:     FlagReliable | FlagResent,
				Sequence:  0xFFFFFFFF,
				Body:      bytes.Repeat([]byte{7}, 512),
			},
		},
		{
			name: "Fixed frequency empty body",
			pkt: &Packet{
				Frequency: Fixed,
				ID:        CloseCircuitID,
				Sequence:  3,
			},
		},
		{
			name: "Low frequency with extra header",
			pkt: &Packet{
				Frequency: Low,
				ID:        UseCircuitCodeID,
				Sequence:  7,
				Extra:     []byte{0xDE, 0xAD},
				Body:      []byte("body"),
			},
		},
		{
			name: "zero-coded body with zero runs",
			pkt: &Packet{
				Frequency: Low,
				ID:        0x10,
				Flags:     FlagZeroCoded,
				Sequence:  88,
				Body:      append(bytes.Repeat([]byte{0}, 40), 0x5A),
			},
		},
		{
			name: "appended acks",
			pkt: &Packet{
				Frequency: High,
				ID:        12,
				Sequence:  500,
				Body:      []byte{1},
				Acks:      []uint32{42, 0xFFFFFFF0, 1},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := Encode(tc.pkt)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if decoded.Frequency != tc.pkt.Frequency {
				t.Errorf("Frequency mismatch: got %s, want %s", decoded.Frequency, tc.pkt.Frequency)
			}
			if decoded.ID != tc.pkt.ID {
				t.Errorf("ID mismatch: got %d, want %d", decoded.ID, tc.pkt.ID)
			}
			if decoded.Sequence != tc.pkt.Sequence {
				t.Errorf("Sequence mismatch: got %d, want %d", decoded.Sequence, tc.pkt.Sequence)
			}
			if decoded.Reliable() != tc.pkt.Reliable() {
				t.Errorf("Reliable mismatch: got %v, want %v", decoded.Reliable(), tc.pkt.Reliable())
			}
			if !bytes.Equal(decoded.Body, tc.pkt.Body) {
				t.Errorf("Body mismatch: got %v, want %v", decoded.Body, tc.pkt.Body)
			}
			if !bytes.Equal(decoded.Extra, tc.pkt.Extra) {
				t.Errorf("Extra mismatch: got %v, want %v", decoded.Extra, tc.pkt.Extra)
			}
			if len(decoded.Acks) != len(tc.pkt.Acks) {
				t.Fatalf("Acks length mismatch: got %d, want %d", len(decoded.Acks), len(tc.pkt.Acks))
			}
			for i, ack := range tc.pkt.Acks {
				if decoded.Acks[i] != ack {
					t.Errorf("Ack %d mismatch: got %d, want %d", i, decoded.Acks[i], ack)
				}
			}
		})
	}
}

// TestMessageIDWireBytes pins the 0xFF sentinel scheme byte-for-byte,
// since the encoding is the binding compatibility surface.
func TestMessageIDWireBytes(t *testing.T) {
	testCases := []struct {
		name string
		freq Frequency
		id   uint32
		want []byte
	}{
		{"High", High, 0x05, []byte{0x05}},
		{"Medium", Medium, 0x8B, []byte{0xFF, 0x8B}},
		{"Low", Low, 0x0123, []byte{0xFF, 0xFF, 0x01, 0x23}},
		{"Fixed", Fixed, 0xFB, []byte{0xFF, 0xFF, 0xFF, 0xFB}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := appendMessageID(nil, tc.freq, tc.id)
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("wire bytes mismatch: got %X, want %X", got, tc.want)
			}

			freq, id, n, err := readMessageID(tc.want)
			if err != nil {
				t.Fatalf("readMessageID failed: %v", err)
			}
			if freq != tc.freq || id != tc.id || n != len(tc.want) {
				t.Errorf("readMessageID = (%s, %d, %d), want (%s, %d, %d)",
					freq, id, n, tc.freq, tc.id, len(tc.want))
			}
		})
	}
}

// TestDecodeTruncated verifies that every class of short datagram
// produces ErrTruncated or ErrBadPrefix rather than a panic.
func TestDecodeTruncated(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"short header", []byte{0x00, 0x00, 0x00}, ErrTruncated},
		{"header only, no id", []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x00}, ErrTruncated},
		{"extra length overruns", []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x05}, ErrTruncated},
		{"lone 0xFF sentinel", []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0xFF}, ErrBadPrefix},
		{"fixed prefix without id", []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0xFF, 0xFF, 0xFF}, ErrBadPrefix},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.data)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Decode error = %v, want %v", err, tc.want)
			}
		})
	}
}

// TestDecodeAckTailTruncated covers an ack count byte that claims more
// acks than the datagram holds.
func TestDecodeAckTailTruncated(t *testing.T) {
	pkt := &Packet{Frequency: High, ID: 1, Sequence: 9, Acks: []uint32{7}}
	data, err := Encode(pkt)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	// Inflate the trailing count byte beyond what is present.
	data[len(data)-1] = 200

	if _, err := Decode(data); !errors.Is(err, ErrTruncated) {
		t.Fatalf("Decode error = %v, want ErrTruncated", err)
	}
}

// TestEncodeSkipsUnhelpfulZeroCoding verifies that a body with no zero
// runs is sent plain even when the caller asked for zero-coding.
func TestEncodeSkipsUnhelpfulZeroCoding(t *testing.T) {
	pkt := &Packet{
		Frequency: High,
		ID:        1,
		Flags:     FlagZeroCoded,
		Sequence:  5,
		Body:      []byte{1, 2, 3, 4, 5},
	}
	data, err := Encode(pkt)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if Flags(data[0])&FlagZeroCoded != 0 {
		t.Error("ZeroCoded flag survived on an incompressible body")
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decoded.Body, pkt.Body) {
		t.Errorf("Body mismatch: got %v, want %v", decoded.Body, pkt.Body)
	}
}

// TestDecodePreservesBody verifies the decoded body is not aliased to
// the input buffer; the read loop reuses its buffer between datagrams.
func TestDecodePreservesBody(t *testing.T) {
	pkt := &Packet{Frequency: High, ID: 1, Sequence: 10, Body: []byte("original")}
	data, err := Encode(pkt)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	for i := range data {
		data[i] = 0xFF
	}
	if !bytes.Equal(decoded.Body, []byte("original")) {
		t.Errorf("body was aliased to the input buffer: %v", decoded.Body)
	}
}

// TestEncodeRejectsOversize verifies the MTU guard.
func TestEncodeRejectsOversize(t *testing.T) {
	pkt := &Packet{
		Frequency: High,
		ID:        1,
		Sequence:  1,
		Body:      bytes.Repeat([]byte{9}, MaxPacketSize+1),
	}
	if _, err := Encode(pkt); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Encode error = %v, want ErrTooLarge", err)
	}
}

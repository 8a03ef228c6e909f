// Package protocol defines the LLUDP packet envelope: header flags,
// frequency-classed message identifiers, zero-coding, and appended acks.
package protocol

// Flags is the header flag byte.
type Flags uint8

// Header flag bits. The low nibble is unused by the protocol family.
const (
	FlagZeroCoded   Flags = 0x80 // body is run-length compressed
	FlagReliable    Flags = 0x40 // sender expects an ack
	FlagResent      Flags = 0x20 // retransmission of an earlier datagram
	FlagAckAppended Flags = 0x10 // ack list appended after the body
)

// Frequency selects how many bytes encode a message identifier.
type Frequency uint8

const (
	High   Frequency = iota // 1 byte, no prefix
	Medium                  // 0xFF + 1 byte
	Low                     // 0xFF 0xFF + 2 bytes
	Fixed                   // 0xFF 0xFF 0xFF + 1 byte
)

func (f Frequency) String() string {
	switch f {
	case High:
		return "High"
	case Medium:
		return "Medium"
	case Low:
		return "Low"
	case Fixed:
		return "Fixed"
	}
	return "Unknown"
}

// HeaderSize is the fixed header prefix: Flags(1) + Sequence(4) + ExtraLen(1).
// The variable-length extra bytes and message identifier follow it.
const HeaderSize = 6

// MaxPacketSize is the largest datagram the protocol family permits on
// the wire. Encode refuses to produce anything longer.
const MaxPacketSize = 1200

// MaxAppendedAcks bounds the ack list that fits the one-byte trailing count.
const MaxAppendedAcks = 255

// Packet is one decoded protocol message. Body is opaque to this layer;
// consumers interpret it against the message schema for (Frequency, ID).
type Packet struct {
	Frequency Frequency
	ID        uint32
	Flags     Flags
	Sequence  uint32
	Extra     []byte   // rarely used opaque bytes between header and id
	Body      []byte   // payload after the message identifier
	Acks      []uint32 // appended acks, in wire order
}

// Reliable reports whether the sender expects this packet to be acked.
func (p *Packet) Reliable() bool { return p.Flags&FlagReliable != 0 }

// Resent reports whether this packet is a retransmission.
func (p *Packet) Resent() bool { return p.Flags&FlagResent != 0 }

package protocol

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes a Packet into a datagram ready for the UDP socket.
//
// Layout: Flags(1) | Sequence(4, BE) | ExtraLen(1) | Extra | message id
// (frequency-dependent 0xFF prefix scheme) | Body | appended acks
// (4 bytes BE each) | ack count(1). The ZeroCoded flag compresses the
// body only; the AckAppended flag is derived from len(pkt.Acks).
func Encode(pkt *Packet) ([]byte, error) {
	if len(pkt.Extra) > 255 {
		return nil, fmt.Errorf("%w: extra header is %d bytes", ErrTooLarge, len(pkt.Extra))
	}
	// 0xFF is the sentinel; an id byte equal to it would shift the
	// decoder into the next frequency class.
	if (pkt.Frequency == High || pkt.Frequency == Medium) && pkt.ID >= 0xFF {
		return nil, fmt.Errorf("%w: id %d collides with the 0xFF sentinel", ErrBadPrefix, pkt.ID)
	}
	if len(pkt.Acks) > MaxAppendedAcks {
		return nil, fmt.Errorf("%w: %d appended acks", ErrTooLarge, len(pkt.Acks))
	}

	flags := pkt.Flags
	if len(pkt.Acks) > 0 {
		flags |= FlagAckAppended
	} else {
		flags &^= FlagAckAppended
	}

	body := pkt.Body
	if flags&FlagZeroCoded != 0 {
		coded := zeroEncode(body)
		if len(coded) < len(body) {
			body = coded
		} else {
			// Compression did not pay off — send plain.
			flags &^= FlagZeroCoded
		}
	}

	buf := make([]byte, 0, HeaderSize+len(pkt.Extra)+4+len(body)+len(pkt.Acks)*4+1)
	buf = append(buf, byte(flags))
	buf = binary.BigEndian.AppendUint32(buf, pkt.Sequence)
	buf = append(buf, byte(len(pkt.Extra)))
	buf = append(buf, pkt.Extra...)
	buf = appendMessageID(buf, pkt.Frequency, pkt.ID)
	buf = append(buf, body...)
	if len(pkt.Acks) > 0 {
		for _, seq := range pkt.Acks {
			buf = binary.BigEndian.AppendUint32(buf, seq)
		}
		buf = append(buf, byte(len(pkt.Acks)))
	}

	if len(buf) > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(buf), MaxPacketSize)
	}
	return buf, nil
}

// Decode parses a datagram into a Packet. Every failure wraps a codec
// sentinel error; the caller discards the datagram and carries on.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrTruncated, len(data), HeaderSize)
	}

	pkt := &Packet{
		Flags:    Flags(data[0]),
		Sequence: binary.BigEndian.Uint32(data[1:5]),
	}

	extraLen := int(data[5])
	off := HeaderSize
	if len(data) < off+extraLen {
		return nil, fmt.Errorf("%w: extra header wants %d bytes, %d remain", ErrTruncated, extraLen, len(data)-off)
	}
	if extraLen > 0 {
		pkt.Extra = make([]byte, extraLen)
		copy(pkt.Extra, data[off:off+extraLen])
	}
	off += extraLen

	freq, id, n, err := readMessageID(data[off:])
	if err != nil {
		return nil, err
	}
	pkt.Frequency = freq
	pkt.ID = id
	off += n

	rest := data[off:]

	// Appended acks live at the tail, after the body, regardless of
	// zero-coding: a count byte last, preceded by count 4-byte BE
	// sequence numbers, consumed from the end backward.
	if pkt.Flags&FlagAckAppended != 0 {
		if len(rest) < 1 {
			return nil, fmt.Errorf("%w: ack-appended flag with no ack count", ErrTruncated)
		}
		count := int(rest[len(rest)-1])
		tail := count*4 + 1
		if len(rest) < tail {
			return nil, fmt.Errorf("%w: ack count %d wants %d tail bytes, %d remain", ErrTruncated, count, tail, len(rest))
		}
		pkt.Acks = make([]uint32, count)
		end := len(rest) - 1
		for i := count - 1; i >= 0; i-- {
			pkt.Acks[i] = binary.BigEndian.Uint32(rest[end-4 : end])
			end -= 4
		}
		rest = rest[:len(rest)-tail]
	}

	if pkt.Flags&FlagZeroCoded != 0 {
		body, err := zeroDecode(rest)
		if err != nil {
			return nil, err
		}
		pkt.Body = body
	} else if len(rest) > 0 {
		pkt.Body = make([]byte, len(rest))
		copy(pkt.Body, rest)
	}

	return pkt, nil
}

// appendMessageID writes the frequency-dependent identifier encoding:
// High ids are a bare byte; each lower frequency adds leading 0xFF
// sentinel bytes so the decoder can disambiguate by peeking.
func appendMessageID(buf []byte, freq Frequency, id uint32) []byte {
	switch freq {
	case High:
		return append(buf, byte(id))
	case Medium:
		return append(buf, 0xFF, byte(id))
	case Low:
		buf = append(buf, 0xFF, 0xFF)
		return binary.BigEndian.AppendUint16(buf, uint16(id))
	default: // Fixed
		return append(buf, 0xFF, 0xFF, 0xFF, byte(id))
	}
}

// readMessageID peeks successive leading 0xFF bytes to pick the
// frequency class, then consumes the id. Returns bytes consumed.
func readMessageID(data []byte) (Frequency, uint32, int, error) {
	if len(data) < 1 {
		return 0, 0, 0, fmt.Errorf("%w: missing message id", ErrTruncated)
	}
	if data[0] != 0xFF {
		return High, uint32(data[0]), 1, nil
	}
	if len(data) < 2 {
		return 0, 0, 0, fmt.Errorf("%w: lone 0xFF sentinel", ErrBadPrefix)
	}
	if data[1] != 0xFF {
		return Medium, uint32(data[1]), 2, nil
	}
	if len(data) < 3 {
		return 0, 0, 0, fmt.Errorf("%w: 0xFF 0xFF with no id bytes", ErrBadPrefix)
	}
	if data[2] != 0xFF {
		if len(data) < 4 {
			return 0, 0, 0, fmt.Errorf("%w: low-frequency id truncated", ErrBadPrefix)
		}
		return Low, uint32(binary.BigEndian.Uint16(data[2:4])), 4, nil
	}
	if len(data) < 4 {
		return 0, 0, 0, fmt.Errorf("%w: fixed-frequency id truncated", ErrBadPrefix)
	}
	return Fixed, uint32(data[3]), 4, nil
}

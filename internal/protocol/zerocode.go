package protocol

import "fmt"

// Zero-coding is the protocol family's run-length compression for packet
// bodies: a literal 0x00 is followed by a count byte expanding to 1-255
// zero bytes, runs longer than 255 are split across multiple pairs, and
// every non-zero byte is emitted verbatim. It is applied to the body
// only, never to the header, message identifier, or appended acks.

// zeroEncode compresses src. The result may be longer than src when the
// input has few zero runs; callers should compare lengths and skip the
// ZeroCoded flag when compression does not pay off.
func zeroEncode(src []byte) []byte {
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		if src[i] != 0 {
			out = append(out, src[i])
			i++
			continue
		}
		run := 0
		for i < len(src) && src[i] == 0 {
			run++
			i++
		}
		for run > 255 {
			out = append(out, 0x00, 0xFF)
			run -= 255
		}
		out = append(out, 0x00, byte(run))
	}
	return out
}

// zeroDecode expands src. A 0x00 literal with no following count byte is
// an underrun; a zero count byte is malformed since every pair must
// expand to at least one zero.
func zeroDecode(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src)*2)
	for i := 0; i < len(src); i++ {
		b := src[i]
		if b != 0 {
			out = append(out, b)
			continue
		}
		i++
		if i >= len(src) {
			return nil, fmt.Errorf("%w: dangling zero literal at offset %d", ErrZeroCoding, i-1)
		}
		count := int(src[i])
		if count == 0 {
			return nil, fmt.Errorf("%w: zero count byte at offset %d", ErrZeroCoding, i)
		}
		for n := 0; n < count; n++ {
			out = append(out, 0)
		}
	}
	return out, nil
}

package protocol

import (
	"bytes"
	"errors"
	"testing"
)

// TestZeroEncodeLongRun verifies the run-splitting grammar: 300
// consecutive zero bytes compress to two count-byte segments (255 + 45).
func TestZeroEncodeLongRun(t *testing.T) {
	body := make([]byte, 300)
	coded := zeroEncode(body)

	want := []byte{0x00, 0xFF, 0x00, 0x2D}
	if !bytes.Equal(coded, want) {
		t.Fatalf("zeroEncode(300 zeros) = %X, want %X", coded, want)
	}

	decoded, err := zeroDecode(coded)
	if err != nil {
		t.Fatalf("zeroDecode failed: %v", err)
	}
	if len(decoded) != 300 {
		t.Fatalf("decoded length = %d, want 300", len(decoded))
	}
	for i, b := range decoded {
		if b != 0 {
			t.Fatalf("decoded[%d] = %d, want 0", i, b)
		}
	}
}

// TestZeroCodeRoundTrip covers mixed bodies.
func TestZeroCodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"no zeros", []byte{1, 2, 3, 4}},
		{"single zero", []byte{0}},
		{"leading run", append(make([]byte, 10), 0xAB, 0xCD)},
		{"trailing run", append([]byte{0xAB, 0xCD}, make([]byte, 10)...)},
		{"interleaved", []byte{1, 0, 2, 0, 0, 3, 0, 0, 0, 4}},
		{"exactly 255 zeros", make([]byte, 255)},
		{"256 zeros", make([]byte, 256)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := zeroDecode(zeroEncode(tc.body))
			if err != nil {
				t.Fatalf("zeroDecode failed: %v", err)
			}
			if !bytes.Equal(decoded, tc.body) && !(len(decoded) == 0 && len(tc.body) == 0) {
				t.Errorf("round trip mismatch: got %v, want %v", decoded, tc.body)
			}
		})
	}
}

// TestZeroDecodeMalformed verifies the underrun errors.
func TestZeroDecodeMalformed(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{"dangling zero literal", []byte{0x01, 0x00}},
		{"zero count byte", []byte{0x00, 0x00}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := zeroDecode(tc.data); !errors.Is(err, ErrZeroCoding) {
				t.Fatalf("zeroDecode error = %v, want ErrZeroCoding", err)
			}
		})
	}
}

package circuit

import "testing"

func TestSeqGenStartsAtOne(t *testing.T) {
	s := NewSeqGen()
	if got := s.Next(); got != 1 {
		t.Fatalf("first Next() = %d, want 1", got)
	}
	if got := s.Next(); got != 2 {
		t.Fatalf("second Next() = %d, want 2", got)
	}
}

// TestSeqNewerWraparound verifies modulo-2^32 ordering: a small value
// just past the wrap is newer than a huge value just before it.
func TestSeqNewerWraparound(t *testing.T) {
	testCases := []struct {
		name string
		a, b uint32
		want bool
	}{
		{"simple newer", 10, 5, true},
		{"simple older", 5, 10, false},
		{"equal", 7, 7, false},
		{"wrap: 5 newer than 0xFFFFFFF0", 0x00000005, 0xFFFFFFF0, true},
		{"wrap: 0xFFFFFFF0 older than 5", 0xFFFFFFF0, 0x00000005, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SeqNewer(tc.a, tc.b); got != tc.want {
				t.Errorf("SeqNewer(%#x, %#x) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestDedupWindowVerdicts(t *testing.T) {
	w := NewDedupWindow(4)

	if v := w.Observe(1); v != Fresh {
		t.Fatalf("first sighting = %v, want Fresh", v)
	}
	if v := w.Observe(1); v != Duplicate {
		t.Fatalf("second sighting = %v, want Duplicate", v)
	}
	for _, seq := range []uint32{2, 3, 4} {
		if v := w.Observe(seq); v != Fresh {
			t.Fatalf("Observe(%d) = %v, want Fresh", seq, v)
		}
	}

	// Window holds {1,2,3,4}. 5 evicts 1.
	if v := w.Observe(5); v != Fresh {
		t.Fatalf("Observe(5) = %v, want Fresh", v)
	}
	if v := w.Observe(1); v != Stale {
		t.Fatalf("evicted sequence = %v, want Stale", v)
	}
	if v := w.Observe(3); v != Duplicate {
		t.Fatalf("retained sequence = %v, want Duplicate", v)
	}
	if got := w.Len(); got != 4 {
		t.Fatalf("Len() = %d, want 4", got)
	}
}

// TestDedupWindowAcrossWrap verifies the window keeps working when the
// remote's sequence counter wraps past 2^32.
func TestDedupWindowAcrossWrap(t *testing.T) {
	w := NewDedupWindow(8)
	seqs := []uint32{0xFFFFFFFD, 0xFFFFFFFE, 0xFFFFFFFF, 0, 1, 2}
	for _, seq := range seqs {
		if v := w.Observe(seq); v != Fresh {
			t.Fatalf("Observe(%#x) = %v, want Fresh", seq, v)
		}
	}
	if v := w.Observe(0xFFFFFFFE); v != Duplicate {
		t.Fatalf("pre-wrap duplicate = %v, want Duplicate", v)
	}
	if v := w.Observe(1); v != Duplicate {
		t.Fatalf("post-wrap duplicate = %v, want Duplicate", v)
	}
}

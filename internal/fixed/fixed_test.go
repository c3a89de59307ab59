package fixed

import "testing"

func TestSmlabbUsesLowHalfwords(t *testing.T) {
	// upper halfword of a must be ignored
	got := Smlabb(0x7fff0000|10, 2, 5)
	if got != 25 {
		t.Fatalf("unexpected smlabb result: %d", got)
	}
	if got := Smlabb(-3, 4, 0); got != -12 {
		t.Fatalf("unexpected signed smlabb result: %d", got)
	}
}

func TestSmulbbSignExtends(t *testing.T) {
	if got := Smulbb(0xffff, 2); got != -2 {
		t.Fatalf("expected 0xffff to be treated as -1, got %d", got)
	}
}

func TestShiftDownTruncatesTowardNegativeInfinity(t *testing.T) {
	cases := []struct {
		v    int32
		pos  uint32
		want int32
	}{
		{v: 100 * 128, pos: 8, want: 50},
		{v: 3, pos: 1, want: 1},
		{v: -3, pos: 1, want: -2},
		{v: -1, pos: 4, want: -1},
	}
	for _, tc := range cases {
		if got := ShiftDown(tc.v, tc.pos); got != tc.want {
			t.Fatalf("ShiftDown(%d, %d)=%d want=%d", tc.v, tc.pos, got, tc.want)
		}
	}
}

func TestToFixSaturates(t *testing.T) {
	if got := ToFix(0.5, 8, 32); got != 128 {
		t.Fatalf("unexpected 0.5 in q8: %d", got)
	}
	if got := ToFix(10, 7, 8); got != 127 {
		t.Fatalf("expected positive saturation, got %d", got)
	}
	if got := ToFix(-10, 7, 8); got != -128 {
		t.Fatalf("expected negative saturation, got %d", got)
	}
}

func TestFixedPointFor(t *testing.T) {
	// max |w| = 1.5 needs one integer bit: 7 - 1 = 6 fractional bits
	if got := FixedPointFor(1.5, 8); got != 6 {
		t.Fatalf("unexpected fixed point position: %d", got)
	}
	if got := FixedPointFor(0.2, 8); got != 9 {
		t.Fatalf("unexpected fixed point position for small weights: %d", got)
	}
}

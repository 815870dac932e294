package bore

import (
	"math"
	"testing"
)

func TestCalcBurstPenaltyZero(t *testing.T) {
	if got := calcBurstPenalty(0); got != 0 {
		t.Fatalf("expected zero penalty for zero burst time, got %d", got)
	}
}

func TestCalcBurstPenaltyBelowTolerance(t *testing.T) {
	// 25 free doublings: anything at or below 2^24 ns stays penalty-free.
	if got := calcBurstPenalty(1 << 24); got != 0 {
		t.Fatalf("expected zero penalty at tolerance boundary, got %d", got)
	}
	if got := calcBurstPenalty(1 << 25); got == 0 {
		t.Fatalf("expected positive penalty one doubling past tolerance, got 0")
	}
}

func TestCalcBurstPenaltyGolden(t *testing.T) {
	// Regression anchor for the fixed-point pipeline.
	if got := calcBurstPenalty(1 << 30); got != 76320 {
		t.Fatalf("expected penalty 76320 for a 2^30 ns burst, got %d", got)
	}
}

func TestCalcBurstPenaltyMonotonic(t *testing.T) {
	prev := uint32(0)
	for shift := uint(20); shift < 64; shift++ {
		got := calcBurstPenalty(1 << shift)
		if got < prev {
			t.Fatalf("penalty decreased at 2^%d: %d -> %d", shift, prev, got)
		}
		if got > MaxPenalty {
			t.Fatalf("penalty %d exceeds MaxPenalty %d", got, MaxPenalty)
		}
		prev = got
	}
}

func TestCalcBurstPenaltyClamp(t *testing.T) {
	if got := calcBurstPenalty(math.MaxUint64); got != MaxPenalty {
		t.Fatalf("expected clamp to %d, got %d", MaxPenalty, got)
	}
}

func TestLog2p1Fixed(t *testing.T) {
	if got := log2p1Fixed(0, PenaltyShift); got != 0 {
		t.Fatalf("expected 0 for input 0, got %d", got)
	}
	if got := log2p1Fixed(1, PenaltyShift); got != 1<<PenaltyShift {
		t.Fatalf("expected %d for input 1, got %d", 1<<PenaltyShift, got)
	}
	if got := log2p1Fixed(2, PenaltyShift); got != 2<<PenaltyShift {
		t.Fatalf("expected %d for input 2, got %d", 2<<PenaltyShift, got)
	}
	// 3 = 2^1 * 1.5: exponent 2, mantissa half the fraction range.
	want := uint32(2<<PenaltyShift | 1<<(PenaltyShift-1))
	if got := log2p1Fixed(3, PenaltyShift); got != want {
		t.Fatalf("expected %d for input 3, got %d", want, got)
	}
}

func TestBinarySmooth(t *testing.T) {
	// Moves toward the target by ceil(diff/dumper).
	if got := binarySmooth(100, 0, 8); got != 13 {
		t.Fatalf("expected 13, got %d", got)
	}
	if got := binarySmooth(0, 100, 8); got != 87 {
		t.Fatalf("expected 87, got %d", got)
	}
	if got := binarySmooth(50, 50, 8); got != 50 {
		t.Fatalf("expected unchanged value 50, got %d", got)
	}
	// A window of 1 tracks the target exactly.
	if got := binarySmooth(12345, 7, 1); got != 12345 {
		t.Fatalf("expected full step to 12345, got %d", got)
	}
}

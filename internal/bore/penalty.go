package bore

import "math/bits"

// Burst penalty curve parameters. Penalty values are fixed point with
// PenaltyShift fractional bits.
const (
	// PenaltyOffset is the number of runtime doublings a burst accumulates
	// before any penalty applies.
	PenaltyOffset = 25
	// PenaltyScale stretches the penalty curve in 1/1024 units.
	PenaltyScale = 3180
	// PenaltyShift is the number of fractional bits in penalty values; the
	// burst score is the integer part of the applied penalty.
	PenaltyShift = 12
	// Smoothness caps the smoothing window grown on each burst restart.
	Smoothness = 40
	// MaxPenalty is the saturation bound of the penalty curve.
	MaxPenalty = (Smoothness << PenaltyShift) - 1
	// CacheLifetime bounds the age of inheritance cache entries, in ns.
	CacheLifetime = 100_000_000
)

// Fair priority index space. Effective priorities index the weight tables:
// 0 is nice -20, 20 is nice 0, 39 is nice 19.
const (
	// MaxRTPrio is the offset between static priority values and the fair
	// priority index space.
	MaxRTPrio = 100
	// NiceWidth is the number of fair priority levels.
	NiceWidth = 40
	// DefaultPrio is the static priority of a nice-0 task.
	DefaultPrio = MaxRTPrio + NiceWidth/2
)

// log2p1Fixed returns log2(v)+1 in fixed point with fp fractional bits,
// or 0 when v is 0. The integer part is the 1-based position of the
// highest set bit; the fraction is the next fp bits below it.
func log2p1Fixed(v uint64, fp uint) uint32 {
	if v == 0 {
		return 0
	}
	exponent := uint(bits.Len64(v))
	mantissa := uint32(v << (64 - exponent) << 1 >> (64 - fp))
	return uint32(exponent)<<fp | mantissa
}

// calcBurstPenalty maps accumulated burst time to a penalty: logarithmic
// in the burst length, zero for anything below the tolerance offset,
// scaled by PenaltyScale/1024 and clamped to MaxPenalty.
func calcBurstPenalty(burstTime uint64) uint32 {
	greed := int32(log2p1Fixed(burstTime, PenaltyShift))
	tolerance := int32(PenaltyOffset << PenaltyShift)

	penalty := greed - tolerance
	if penalty < 0 {
		penalty = 0
	}
	scaled := penalty * PenaltyScale >> 10

	if scaled > MaxPenalty {
		return MaxPenalty
	}
	return uint32(scaled)
}

// binarySmooth moves old toward target by |target-old|/dumper rounded up,
// so the step stays nonzero while any difference remains. dumper must be
// at least 1.
func binarySmooth(target, old uint32, dumper uint8) uint32 {
	var absDiff uint32
	if target > old {
		absDiff = target - old
	} else {
		absDiff = old - target
	}

	adjDiff := absDiff / uint32(dumper)
	if absDiff%uint32(dumper) != 0 {
		adjDiff++
	}

	if target > old {
		return old + adjDiff
	}
	return old - adjDiff
}

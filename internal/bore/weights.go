package bore

import "math/bits"

// prioToWeight maps a fair priority index to its scheduling weight.
// Nice 0 (index 20) weighs 1024; each step changes CPU share by ~25%.
var prioToWeight = [NiceWidth]uint32{
	88761, 71755, 56483, 46273, 36291,
	29154, 23254, 18705, 14949, 11916,
	9548, 7620, 6100, 4904, 3906,
	3121, 2501, 1991, 1586, 1277,
	1024, 820, 655, 526, 423,
	335, 272, 215, 172, 137,
	110, 87, 70, 56, 45,
	36, 29, 23, 18, 15,
}

// prioToWmult holds 2^32/weight per priority index, so dividing by a
// weight becomes a multiply and shift.
var prioToWmult = [NiceWidth]uint32{
	48388, 59856, 76040, 92818, 118348,
	147320, 184698, 229616, 287308, 360437,
	449829, 563644, 704093, 875809, 1099582,
	1376151, 1717300, 2157191, 2708050, 3363326,
	4194304, 5237765, 6557202, 8165337, 10153587,
	12820798, 15790321, 19976592, 24970740, 31350126,
	39045157, 49367440, 61356676, 76695844, 95443717,
	119304647, 148102320, 186737708, 238609294, 286331153,
}

// WeightOf returns the scheduling weight of an effective priority.
func WeightOf(prio uint8) uint32 {
	return prioToWeight[prio]
}

// InverseWeightOf returns the inverse weight multiplier of an effective
// priority.
func InverseWeightOf(prio uint8) uint32 {
	return prioToWmult[prio]
}

// mulShr returns (a*mul)>>shift computed through a 128-bit intermediate.
func mulShr(a uint64, mul uint32, shift uint) uint64 {
	hi, lo := bits.Mul64(a, uint64(mul))
	return hi<<(64-shift) | lo>>shift
}

// CalcDeltaFair converts a wall-clock runtime delta to virtual time at
// the weight of the given effective priority: delta * 1024 / weight,
// computed as a multiply by the inverse weight.
func CalcDeltaFair(deltaNs uint64, prio uint8) uint64 {
	return mulShr(deltaNs, prioToWmult[prio], 22)
}

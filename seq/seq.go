// Package seq implements the wrap-safe 32-bit sequence number arithmetic
// TCP needs to compare seq/ack values across the 2^32 wraparound point
// (spec.md §4.7.7).
package seq

// LT reports whether a is before b, modulo 2^32.
func LT(a, b uint32) bool { return int32(a-b) < 0 }

// LE reports whether a is at or before b, modulo 2^32.
func LE(a, b uint32) bool { return int32(a-b) <= 0 }

// GT reports whether a is after b, modulo 2^32.
func GT(a, b uint32) bool { return int32(a-b) > 0 }

// GE reports whether a is at or after b, modulo 2^32.
func GE(a, b uint32) bool { return int32(a-b) >= 0 }

// Within reports whether x falls in the closed interval [lo, hi]. When
// lo <= hi (no wrap) this is the ordinary range test; when lo > hi the
// interval is interpreted as wrapping through 0, i.e. [lo, 2^32) ∪ [0, hi].
func Within(x, lo, hi uint32) bool {
	if lo <= hi {
		return GE(x, lo) && LE(x, hi)
	}
	return GE(x, lo) || LE(x, hi)
}

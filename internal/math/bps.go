package math

import "math/bits"

// BpsDenominator is the basis-point scale used for premium rates.
const BpsDenominator = 10_000

// MulBps computes floor(amount * rateBps / 10_000) in full 128-bit
// precision so large amounts cannot overflow int64 intermediates.
// rateBps must be in [0, BpsDenominator]; callers enforce this via
// parameter validation.
func MulBps(amount, rateBps int64) int64 {
	hi, lo := bits.Mul64(uint64(amount), uint64(rateBps))
	// With rateBps <= 10_000 and amount < 2^63, hi stays below the
	// denominator, so Div64 cannot panic.
	quo, _ := bits.Div64(hi, lo, BpsDenominator)
	return int64(quo)
}

// ValidBpsRate reports whether rateBps is a usable premium rate. The full
// inclusive range is allowed: 0 prices a free product, BpsDenominator a
// premium equal to coverage.
func ValidBpsRate(rateBps int64) bool {
	return rateBps >= 0 && rateBps <= BpsDenominator
}

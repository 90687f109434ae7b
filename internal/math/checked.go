// Package math provides checked integer arithmetic for escrow accounting.
// All amounts and counters are uint64; overflow is a hard failure, never a wrap.
package math

import "errors"

var (
	// ErrOverflow is returned when a checked addition would wrap.
	ErrOverflow = errors.New("arithmetic overflow")

	// ErrUnderflow is returned when a checked subtraction would go negative.
	ErrUnderflow = errors.New("arithmetic underflow")
)

// AddU64 returns a+b, failing with ErrOverflow instead of wrapping.
func AddU64(a, b uint64) (uint64, error) {
	if a > ^uint64(0)-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// SubU64 returns a-b, failing with ErrUnderflow if b > a.
func SubU64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// Inc returns c+1 for a monotonic counter. Same failure mode as AddU64.
func Inc(c uint64) (uint64, error) {
	return AddU64(c, 1)
}

package math

import (
	"math/big"
	"sync"
)

// Intermediate products of two uint64 operands need 128 bits. big.Ints are
// pooled to keep the hot claim path allocation-free in the common case.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetUint64(0)
	int128Pool.Put(v)
}

// ProportionalShare computes floor(amount * totalPool / winningPool), the
// pari-mutuel payout for a winning stake of `amount` against a two-sided
// pool. The multiplication is done at 128-bit width; division truncates
// toward zero. Truncation dust stays in escrow and is not redistributed.
//
// A zero winningPool is degenerate (no recorded stake on the winning side);
// the stake is returned as-is rather than dividing by zero.
func ProportionalShare(amount, totalPool, winningPool uint64) (uint64, error) {
	if winningPool == 0 {
		return amount, nil
	}

	num := getInt128()
	defer putInt128(num)

	num.SetUint64(amount)
	mul := getInt128()
	defer putInt128(mul)
	mul.SetUint64(totalPool)

	num.Mul(num, mul)
	mul.SetUint64(winningPool)
	num.Quo(num, mul)

	if !num.IsUint64() {
		// Unreachable when amount <= winningPool, kept as a guard.
		return 0, ErrOverflow
	}
	return num.Uint64(), nil
}

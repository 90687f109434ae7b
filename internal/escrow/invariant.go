package escrow

import (
	"fmt"

	"PredMarket/internal/math"
)

// ClaimedStake is a winning bet that has already been paid out, as seen by
// the reconciler.
type ClaimedStake struct {
	Amount uint64
}

// ExpectedBalance recomputes what an event's escrow must hold:
// total pool, minus the payout of every claimed winning stake, minus funds
// taken by emergency withdrawal. Truncation dust from payout flooring is
// part of the expected balance, not a discrepancy.
func ExpectedBalance(totals PoolTotals, outcome bool, claimed []ClaimedStake, withdrawn uint64) (uint64, error) {
	balance, err := totals.Total()
	if err != nil {
		return 0, err
	}

	var acct Accountant
	for _, c := range claimed {
		payout, err := acct.ComputePayout(c.Amount, totals, outcome)
		if err != nil {
			return 0, err
		}
		balance, err = math.SubU64(balance, payout)
		if err != nil {
			return 0, fmt.Errorf("claimed payouts exceed pool: %w", err)
		}
	}

	balance, err = math.SubU64(balance, withdrawn)
	if err != nil {
		return 0, fmt.Errorf("withdrawals exceed remaining escrow: %w", err)
	}
	return balance, nil
}

// CheckConservation fails if the observed escrow balance disagrees with the
// reconstructed one. This is the system's central safety invariant.
func CheckConservation(observed uint64, totals PoolTotals, outcome bool, claimed []ClaimedStake, withdrawn uint64) error {
	want, err := ExpectedBalance(totals, outcome, claimed, withdrawn)
	if err != nil {
		return err
	}
	if observed != want {
		return fmt.Errorf("escrow conservation violated: balance=%d, expected=%d", observed, want)
	}
	return nil
}

// Package escrow computes the fund movements behind bet placement, payout,
// and withdrawal, and owns the pool-conservation arithmetic. It plans
// transfers; the store commits them together with the record mutations.
package escrow

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"PredMarket/internal/math"
	"PredMarket/internal/store"
)

var (
	// ErrInsufficientBalance is returned when a withdrawal exceeds the
	// escrow balance.
	ErrInsufficientBalance = errors.New("insufficient escrow balance")

	// ErrNoBalance is returned when an emergency withdrawal finds an empty
	// escrow.
	ErrNoBalance = errors.New("no balance to withdraw")
)

// PoolTotals is the accumulated stake per side of one event.
type PoolTotals struct {
	Yes uint64
	No  uint64
}

// Total returns the full two-sided pool, checked.
func (p PoolTotals) Total() (uint64, error) {
	return math.AddU64(p.Yes, p.No)
}

// Winning returns the pool of the resolved side.
func (p PoolTotals) Winning(outcome bool) uint64 {
	if outcome {
		return p.Yes
	}
	return p.No
}

// Accountant plans fund movements. It is stateless; every method is a pure
// computation over its inputs.
type Accountant struct{}

// Deposit plans moving a stake from the bettor's account into the event's
// escrow. The caller's balance decreases and escrow increases by the same
// amount in the same commit unit — no funds created or destroyed.
func (Accountant) Deposit(bettor uuid.UUID, eventID uint64, amount uint64) store.Transfer {
	return store.Transfer{
		From:   store.UserAccount(bettor),
		To:     store.EscrowAccount(eventID),
		Amount: amount,
	}
}

// ComputePayout returns the pari-mutuel payout for a winning stake:
// floor(stake * total_pool / winning_pool), with the zero-winning-pool
// degenerate case returning the stake itself.
func (Accountant) ComputePayout(stake uint64, totals PoolTotals, outcome bool) (uint64, error) {
	total, err := totals.Total()
	if err != nil {
		return 0, fmt.Errorf("pool total: %w", err)
	}
	return math.ProportionalShare(stake, total, totals.Winning(outcome))
}

// Withdraw plans moving amount out of an event's escrow to a destination
// account, failing ErrInsufficientBalance if the escrow cannot cover it.
func (Accountant) Withdraw(eventID uint64, balance, amount uint64, dest uuid.UUID) (store.Transfer, error) {
	if _, err := math.SubU64(balance, amount); err != nil {
		return store.Transfer{}, fmt.Errorf("escrow %d holds %d, need %d: %w",
			eventID, balance, amount, ErrInsufficientBalance)
	}
	return store.Transfer{
		From:   store.EscrowAccount(eventID),
		To:     store.UserAccount(dest),
		Amount: amount,
	}, nil
}

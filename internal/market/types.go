// Package market implements the settlement state machine for binary-outcome
// prediction markets: event/bet lifecycle, pooled-stake accounting, and the
// six externally callable operations.
package market

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PredMarket/internal/escrow"
)

// MaxNameLen bounds event names, in bytes.
const MaxNameLen = 200

// Record keys in the ledger store. Numeric ids are zero-padded so Scan
// returns them in issue order.
const (
	StateKey       = "state"
	EventKeyPrefix = "event:"
	BetKeyPrefix   = "bet:"
)

// EventKey returns the record key of an event.
func EventKey(id uint64) string {
	return fmt.Sprintf("%s%020d", EventKeyPrefix, id)
}

// BetKey returns the record key of a bet.
func BetKey(id uint64) string {
	return fmt.Sprintf("%s%020d", BetKeyPrefix, id)
}

// Counter is the deployment singleton: the admin identity and the two
// monotonic id counters. Created once by Initialize, mutated only by the
// counter-increment paths, never destroyed.
type Counter struct {
	Admin        uuid.UUID `json:"admin"`
	EventCounter uint64    `json:"event_counter"`
	BetCounter   uint64    `json:"bet_counter"`
}

// Event is one binary-outcome market. Totals accumulate with every accepted
// bet; Resolved flips exactly once and the record is immutable after that
// except for escrow movements it no longer observes.
type Event struct {
	EventID        uint64    `json:"event_id"`
	Name           string    `json:"name"`
	EndTime        time.Time `json:"end_time"`
	Resolved       bool      `json:"resolved"`
	Outcome        bool      `json:"outcome"` // meaningful only once Resolved
	TotalYesBets   uint64    `json:"total_yes_bets"`
	TotalNoBets    uint64    `json:"total_no_bets"`
	TotalYesAmount uint64    `json:"total_yes_amount"`
	TotalNoAmount  uint64    `json:"total_no_amount"`
	Creator        uuid.UUID `json:"creator"`
}

// Totals returns the event's per-side pool view for the accountant.
func (e *Event) Totals() escrow.PoolTotals {
	return escrow.PoolTotals{Yes: e.TotalYesAmount, No: e.TotalNoAmount}
}

// Bet is one party's stake on one side of an event. Amount, Outcome, and
// Bettor are immutable after placement; Claimed flips false→true exactly
// once on successful payout.
type Bet struct {
	BetID   uint64    `json:"bet_id"`
	EventID uint64    `json:"event_id"`
	Bettor  uuid.UUID `json:"bettor"`
	Outcome bool      `json:"outcome"`
	Amount  uint64    `json:"amount"`
	Claimed bool      `json:"claimed"`
}

// DecodeCounter parses a stored Counter record.
func DecodeCounter(data []byte) (*Counter, error) {
	var c Counter
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode counter record: %w", err)
	}
	return &c, nil
}

// DecodeEvent parses a stored Event record.
func DecodeEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode event record: %w", err)
	}
	return &e, nil
}

// DecodeBet parses a stored Bet record.
func DecodeBet(data []byte) (*Bet, error) {
	var b Bet
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bet record: %w", err)
	}
	return &b, nil
}

func encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

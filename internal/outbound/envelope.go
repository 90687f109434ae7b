// Package outbound defines the settlement events published to downstream
// consumers after an operation commits. Delivery is best-effort; the record
// store remains the source of truth.
package outbound

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the settlement operation an envelope describes.
type Kind string

const (
	KindMarketInitialized   Kind = "market_initialized"
	KindEventCreated        Kind = "event_created"
	KindBetPlaced           Kind = "bet_placed"
	KindEventResolved       Kind = "event_resolved"
	KindWinningsClaimed     Kind = "winnings_claimed"
	KindEmergencyWithdrawal Kind = "emergency_withdrawal"
)

// Envelope wraps one committed operation for publication. Sequence is a
// process-local ordering hint, monotonic within a service instance.
type Envelope struct {
	Sequence  int64       `json:"sequence"`
	Kind      Kind        `json:"kind"`
	EventID   *uint64     `json:"event_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// MarketInitialized is emitted once, when the deployment singleton is
// created.
type MarketInitialized struct {
	Admin uuid.UUID `json:"admin"`
}

// EventCreated is emitted when an admin opens a new market.
type EventCreated struct {
	EventID uint64    `json:"event_id"`
	Name    string    `json:"name"`
	EndTime time.Time `json:"end_time"`
	Creator uuid.UUID `json:"creator"`
}

// BetPlaced is emitted when a stake lands in escrow.
type BetPlaced struct {
	BetID   uint64    `json:"bet_id"`
	EventID uint64    `json:"event_id"`
	Bettor  uuid.UUID `json:"bettor"`
	Outcome bool      `json:"outcome"`
	Amount  uint64    `json:"amount"`
}

// EventResolved is emitted on the one-way open→resolved transition.
type EventResolved struct {
	EventID uint64 `json:"event_id"`
	Outcome bool   `json:"outcome"`
}

// WinningsClaimed is emitted when a winning bet is paid out.
type WinningsClaimed struct {
	BetID   uint64    `json:"bet_id"`
	EventID uint64    `json:"event_id"`
	Bettor  uuid.UUID `json:"bettor"`
	Payout  uint64    `json:"payout"`
}

// EmergencyWithdrawal is emitted when the admin drains an event's escrow.
type EmergencyWithdrawal struct {
	EventID uint64    `json:"event_id"`
	Admin   uuid.UUID `json:"admin"`
	Amount  uint64    `json:"amount"`
}

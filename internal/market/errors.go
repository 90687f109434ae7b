package market

import (
	"errors"

	"PredMarket/internal/auth"
	"PredMarket/internal/escrow"
	"PredMarket/internal/math"
	"PredMarket/internal/store"
)

// Operation failures. Every error is terminal for the attempted operation:
// no retry, no partial commit. Authorization, arithmetic, and resource
// failures reuse the sentinels of the packages that detect them
// (auth.ErrUnauthorized, math.ErrOverflow, store.ErrNotFound, ...).
var (
	ErrAlreadyInitialized   = errors.New("market already initialized")
	ErrInvalidEndTime       = errors.New("end time must be in the future")
	ErrNameTooLong          = errors.New("event name too long")
	ErrEventDoesNotExist    = errors.New("event does not exist")
	ErrEventAlreadyResolved = errors.New("event has already been resolved")
	ErrEventNotResolved     = errors.New("event has not been resolved yet")
	ErrBettingClosed        = errors.New("betting period has ended")
	ErrInvalidAmount        = errors.New("bet amount must be greater than zero")
	ErrAlreadyClaimed       = errors.New("winnings have already been claimed")
	ErrLosingBet            = errors.New("bet is on the losing outcome")
)

// Reason maps an operation error to a short label for rejection metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, ErrInvalidEndTime):
		return "invalid_end_time"
	case errors.Is(err, ErrNameTooLong):
		return "name_too_long"
	case errors.Is(err, ErrEventDoesNotExist):
		return "event_does_not_exist"
	case errors.Is(err, ErrEventAlreadyResolved):
		return "event_already_resolved"
	case errors.Is(err, ErrEventNotResolved):
		return "event_not_resolved"
	case errors.Is(err, ErrBettingClosed):
		return "betting_closed"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrLosingBet):
		return "losing_bet"
	case errors.Is(err, escrow.ErrNoBalance):
		return "no_balance"
	case errors.Is(err, escrow.ErrInsufficientBalance):
		return "insufficient_escrow"
	case errors.Is(err, store.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, math.ErrOverflow):
		return "overflow"
	case errors.Is(err, math.ErrUnderflow):
		return "underflow"
	default:
		return "internal"
	}
}

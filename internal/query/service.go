// Package query serves read-only views of the market: events, bets, escrow
// balances, and the conservation reconciliation. Reads go through an
// optional Redis cache; the store stays the source of truth.
package query

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"PredMarket/internal/escrow"
	"PredMarket/internal/market"
	"PredMarket/internal/store"
)

// Service answers queries against the record store.
type Service struct {
	store store.Store
	cache *EventCache // may be nil
}

func NewService(st store.Store, cache *EventCache) *Service {
	return &Service{store: st, cache: cache}
}

// MarketStatus is the deployment-level view: admin plus issued counters.
type MarketStatus struct {
	Admin        uuid.UUID `json:"admin"`
	EventCounter uint64    `json:"event_counter"`
	BetCounter   uint64    `json:"bet_counter"`
}

// EscrowStatus is the per-event fund view, including the reconciliation
// verdict when the event is resolved.
type EscrowStatus struct {
	EventID      uint64 `json:"event_id"`
	Balance      uint64 `json:"balance"`
	Conservation string `json:"conservation"` // "ok", "violated", or "unresolved"
	Detail       string `json:"detail,omitempty"`
}

// GetMarket returns the deployment singleton.
func (s *Service) GetMarket(ctx context.Context) (*MarketStatus, error) {
	rec, err := s.store.Read(ctx, market.StateKey)
	if err != nil {
		return nil, fmt.Errorf("market state: %w", err)
	}
	c, err := market.DecodeCounter(rec.Data)
	if err != nil {
		return nil, err
	}
	return &MarketStatus{
		Admin:        c.Admin,
		EventCounter: c.EventCounter,
		BetCounter:   c.BetCounter,
	}, nil
}

// GetEvent returns one event, through the cache when present.
func (s *Service) GetEvent(ctx context.Context, eventID uint64) (*market.Event, error) {
	if s.cache != nil {
		if ev, err := s.cache.Get(ctx, eventID); err == nil {
			return ev, nil
		}
	}

	rec, err := s.store.Read(ctx, market.EventKey(eventID))
	if err != nil {
		return nil, fmt.Errorf("event %d: %w", eventID, err)
	}
	ev, err := market.DecodeEvent(rec.Data)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, ev)
	}
	return ev, nil
}

// GetBet returns one bet.
func (s *Service) GetBet(ctx context.Context, betID uint64) (*market.Bet, error) {
	rec, err := s.store.Read(ctx, market.BetKey(betID))
	if err != nil {
		return nil, fmt.Errorf("bet %d: %w", betID, err)
	}
	return market.DecodeBet(rec.Data)
}

// ListEvents returns every event in id order.
func (s *Service) ListEvents(ctx context.Context) ([]*market.Event, error) {
	recs, err := s.store.Scan(ctx, market.EventKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	events := make([]*market.Event, 0, len(recs))
	for _, rec := range recs {
		ev, err := market.DecodeEvent(rec.Data)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// ListEventBets returns every bet on one event in id order.
func (s *Service) ListEventBets(ctx context.Context, eventID uint64) ([]*market.Bet, error) {
	if _, err := s.store.Read(ctx, market.EventKey(eventID)); err != nil {
		return nil, fmt.Errorf("event %d: %w", eventID, err)
	}

	recs, err := s.store.Scan(ctx, market.BetKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan bets: %w", err)
	}
	var bets []*market.Bet
	for _, rec := range recs {
		b, err := market.DecodeBet(rec.Data)
		if err != nil {
			return nil, err
		}
		if b.EventID == eventID {
			bets = append(bets, b)
		}
	}
	return bets, nil
}

// UserBalance returns a user's fund account balance.
func (s *Service) UserBalance(ctx context.Context, user uuid.UUID) (uint64, error) {
	return s.store.Balance(ctx, store.UserAccount(user))
}

// GetEscrow returns an event's escrow balance and, once the event is
// resolved, reconciles it against the recomputed expectation. An emergency
// withdrawal shows up as a violation here on purpose: the reconciler reports
// what the pools alone can no longer explain.
func (s *Service) GetEscrow(ctx context.Context, eventID uint64) (*EscrowStatus, error) {
	ev, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	balance, err := s.store.Balance(ctx, store.EscrowAccount(eventID))
	if err != nil {
		return nil, fmt.Errorf("escrow %d: %w", eventID, err)
	}

	status := &EscrowStatus{EventID: eventID, Balance: balance, Conservation: "unresolved"}
	if !ev.Resolved {
		return status, nil
	}

	claimed, err := s.claimedStakes(ctx, ev)
	if err != nil {
		return nil, err
	}
	if err := escrow.CheckConservation(balance, ev.Totals(), ev.Outcome, claimed, 0); err != nil {
		status.Conservation = "violated"
		status.Detail = err.Error()
	} else {
		status.Conservation = "ok"
	}
	return status, nil
}

func (s *Service) claimedStakes(ctx context.Context, ev *market.Event) ([]escrow.ClaimedStake, error) {
	bets, err := s.ListEventBets(ctx, ev.EventID)
	if err != nil {
		return nil, err
	}
	var claimed []escrow.ClaimedStake
	for _, b := range bets {
		if b.Claimed && b.Outcome == ev.Outcome {
			claimed = append(claimed, escrow.ClaimedStake{Amount: b.Amount})
		}
	}
	return claimed, nil
}

// InvalidateEvent drops an event from the cache after a write.
func (s *Service) InvalidateEvent(ctx context.Context, eventID uint64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, eventID)
	}
}

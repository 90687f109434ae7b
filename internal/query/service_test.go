package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PredMarket/internal/market"
	"PredMarket/internal/store"
)

func setupMarket(t *testing.T) (*Service, *market.Engine, *store.MemoryStore, uuid.UUID) {
	t.Helper()
	st := store.NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return now })

	engine := market.NewEngine(st, zerolog.Nop(), nil, nil)
	admin := uuid.New()
	if err := engine.Initialize(context.Background(), admin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return NewService(st, nil), engine, st, admin
}

func TestGetMarket(t *testing.T) {
	svc, engine, st, admin := setupMarket(t)
	ctx := context.Background()

	status, err := svc.GetMarket(ctx)
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if status.Admin != admin || status.EventCounter != 0 || status.BetCounter != 0 {
		t.Fatalf("fresh market status: %+v", status)
	}

	if _, err := engine.CreateEvent(ctx, admin, "event", st.Now().Add(time.Hour)); err != nil {
		t.Fatalf("create event: %v", err)
	}
	status, err = svc.GetMarket(ctx)
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if status.EventCounter != 1 {
		t.Fatalf("event counter: got %d, want 1", status.EventCounter)
	}
}

func TestListEventBets(t *testing.T) {
	svc, engine, st, admin := setupMarket(t)
	ctx := context.Background()

	e1, err := engine.CreateEvent(ctx, admin, "first", st.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	e2, err := engine.CreateEvent(ctx, admin, "second", st.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	bettor := uuid.New()
	if err := st.Credit(ctx, store.UserAccount(bettor), 300); err != nil {
		t.Fatalf("credit: %v", err)
	}
	for _, placement := range []struct {
		event   uint64
		outcome bool
		amount  uint64
	}{
		{e1, true, 100},
		{e2, false, 50},
		{e1, false, 150},
	} {
		if _, err := engine.PlaceBet(ctx, bettor, placement.event, placement.outcome, placement.amount); err != nil {
			t.Fatalf("place bet on event %d: %v", placement.event, err)
		}
	}

	bets, err := svc.ListEventBets(ctx, e1)
	if err != nil {
		t.Fatalf("list bets: %v", err)
	}
	if len(bets) != 2 {
		t.Fatalf("bets on event %d: got %d, want 2", e1, len(bets))
	}
	if bets[0].BetID != 1 || bets[1].BetID != 3 {
		t.Fatalf("bet ids: got %d, %d, want 1, 3", bets[0].BetID, bets[1].BetID)
	}

	if _, err := svc.ListEventBets(ctx, 99); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("list bets of unknown event: got %v, want ErrNotFound", err)
	}
}

func TestGetEscrowConservation(t *testing.T) {
	svc, engine, st, admin := setupMarket(t)
	ctx := context.Background()

	eventID, err := engine.CreateEvent(ctx, admin, "event", st.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	winner, loser := uuid.New(), uuid.New()
	st.Credit(ctx, store.UserAccount(winner), 100)
	st.Credit(ctx, store.UserAccount(loser), 50)

	winBet, err := engine.PlaceBet(ctx, winner, eventID, true, 100)
	if err != nil {
		t.Fatalf("winner bet: %v", err)
	}
	if _, err := engine.PlaceBet(ctx, loser, eventID, false, 50); err != nil {
		t.Fatalf("loser bet: %v", err)
	}

	status, err := svc.GetEscrow(ctx, eventID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if status.Balance != 150 || status.Conservation != "unresolved" {
		t.Fatalf("escrow before resolve: %+v", status)
	}

	if err := engine.ResolveEvent(ctx, admin, eventID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := engine.ClaimWinnings(ctx, winner, eventID, winBet.BetID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	status, err = svc.GetEscrow(ctx, eventID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if status.Conservation != "ok" {
		t.Fatalf("conservation after claim: %+v", status)
	}
	if status.Balance != 0 {
		t.Fatalf("escrow after full claim: got %d, want 0", status.Balance)
	}
}

func TestGetEscrowReportsDrainAsViolation(t *testing.T) {
	svc, engine, st, admin := setupMarket(t)
	ctx := context.Background()

	eventID, err := engine.CreateEvent(ctx, admin, "event", st.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	bettor := uuid.New()
	st.Credit(ctx, store.UserAccount(bettor), 100)
	if _, err := engine.PlaceBet(ctx, bettor, eventID, true, 100); err != nil {
		t.Fatalf("place bet: %v", err)
	}
	if _, err := engine.EmergencyWithdraw(ctx, admin, eventID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := engine.ResolveEvent(ctx, admin, eventID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	status, err := svc.GetEscrow(ctx, eventID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if status.Conservation != "violated" {
		t.Fatalf("drained escrow should reconcile as violated: %+v", status)
	}
}

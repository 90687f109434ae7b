package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PredMarket/internal/auth"
	"PredMarket/internal/escrow"
	"PredMarket/internal/outbound"
	"PredMarket/internal/store"
)

type fixture struct {
	engine *Engine
	store  *store.MemoryStore
	admin  uuid.UUID
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewMemoryStore(),
		admin: uuid.New(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store.SetClock(func() time.Time { return f.now })
	f.engine = NewEngine(f.store, zerolog.Nop(), nil, nil)
	if err := f.engine.Initialize(context.Background(), f.admin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) fund(t *testing.T, user uuid.UUID, amount uint64) {
	t.Helper()
	if err := f.store.Credit(context.Background(), store.UserAccount(user), amount); err != nil {
		t.Fatalf("credit %s: %v", user, err)
	}
}

func (f *fixture) createEvent(t *testing.T, name string, open time.Duration) uint64 {
	t.Helper()
	id, err := f.engine.CreateEvent(context.Background(), f.admin, name, f.now.Add(open))
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return id
}

func (f *fixture) userBalance(t *testing.T, user uuid.UUID) uint64 {
	t.Helper()
	bal, err := f.store.Balance(context.Background(), store.UserAccount(user))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func (f *fixture) escrowBalance(t *testing.T, eventID uint64) uint64 {
	t.Helper()
	bal, err := f.store.Balance(context.Background(), store.EscrowAccount(eventID))
	if err != nil {
		t.Fatalf("escrow balance: %v", err)
	}
	return bal
}

func TestInitializeOnce(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Initialize(context.Background(), uuid.New())
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second initialize: got %v, want ErrAlreadyInitialized", err)
	}
}

func TestCreateEventValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.CreateEvent(ctx, uuid.New(), "btc above 100k", f.now.Add(time.Hour)); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("non-admin create: got %v, want ErrUnauthorized", err)
	}
	if _, err := f.engine.CreateEvent(ctx, f.admin, "past", f.now); !errors.Is(err, ErrInvalidEndTime) {
		t.Fatalf("end_time == now: got %v, want ErrInvalidEndTime", err)
	}
	if _, err := f.engine.CreateEvent(ctx, f.admin, "past", f.now.Add(-time.Minute)); !errors.Is(err, ErrInvalidEndTime) {
		t.Fatalf("past end_time: got %v, want ErrInvalidEndTime", err)
	}

	long := make([]byte, MaxNameLen+1)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := f.engine.CreateEvent(ctx, f.admin, string(long), f.now.Add(time.Hour)); !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("201-byte name: got %v, want ErrNameTooLong", err)
	}

	// Exactly MaxNameLen bytes is allowed.
	if _, err := f.engine.CreateEvent(ctx, f.admin, string(long[:MaxNameLen]), f.now.Add(time.Hour)); err != nil {
		t.Fatalf("200-byte name rejected: %v", err)
	}
}

func TestEventIDsMonotonic(t *testing.T) {
	f := newFixture(t)
	for want := uint64(1); want <= 3; want++ {
		got := f.createEvent(t, "event", time.Hour)
		if got != want {
			t.Fatalf("event id: got %d, want %d", got, want)
		}
	}
}

func TestPlaceBetValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bettor := uuid.New()
	f.fund(t, bettor, 1000)
	eventID := f.createEvent(t, "event", time.Hour)

	if _, err := f.engine.PlaceBet(ctx, bettor, eventID+1, true, 100); !errors.Is(err, ErrEventDoesNotExist) {
		t.Fatalf("unknown event: got %v, want ErrEventDoesNotExist", err)
	}
	if _, err := f.engine.PlaceBet(ctx, bettor, 0, true, 100); !errors.Is(err, ErrEventDoesNotExist) {
		t.Fatalf("event zero: got %v, want ErrEventDoesNotExist", err)
	}
	if _, err := f.engine.PlaceBet(ctx, bettor, eventID, true, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v, want ErrInvalidAmount", err)
	}

	// Betting closes exactly at end_time.
	f.advance(time.Hour)
	if _, err := f.engine.PlaceBet(ctx, bettor, eventID, true, 100); !errors.Is(err, ErrBettingClosed) {
		t.Fatalf("bet at deadline: got %v, want ErrBettingClosed", err)
	}
}

func TestPlaceBetRejectedAfterResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bettor := uuid.New()
	f.fund(t, bettor, 1000)
	eventID := f.createEvent(t, "event", time.Hour)

	if err := f.engine.ResolveEvent(ctx, f.admin, eventID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Resolved wins over the still-open deadline.
	if _, err := f.engine.PlaceBet(ctx, bettor, eventID, true, 100); !errors.Is(err, ErrEventAlreadyResolved) {
		t.Fatalf("bet after resolve: got %v, want ErrEventAlreadyResolved", err)
	}
}

func TestPlaceBetMovesStakeIntoEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bettor := uuid.New()
	f.fund(t, bettor, 250)
	eventID := f.createEvent(t, "event", time.Hour)

	bet, err := f.engine.PlaceBet(ctx, bettor, eventID, true, 100)
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}
	if bet.BetID != 1 || bet.EventID != eventID || bet.Amount != 100 || !bet.Outcome || bet.Claimed {
		t.Fatalf("unexpected bet record: %+v", bet)
	}
	if got := f.userBalance(t, bettor); got != 150 {
		t.Fatalf("bettor balance after stake: got %d, want 150", got)
	}
	if got := f.escrowBalance(t, eventID); got != 100 {
		t.Fatalf("escrow after stake: got %d, want 100", got)
	}

	rec, err := f.store.Read(ctx, EventKey(eventID))
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	ev, err := DecodeEvent(rec.Data)
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.TotalYesBets != 1 || ev.TotalYesAmount != 100 || ev.TotalNoBets != 0 || ev.TotalNoAmount != 0 {
		t.Fatalf("event totals: %+v", ev)
	}
}

func TestPlaceBetInsufficientFundsLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bettor := uuid.New()
	f.fund(t, bettor, 50)
	eventID := f.createEvent(t, "event", time.Hour)

	if _, err := f.engine.PlaceBet(ctx, bettor, eventID, true, 100); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("underfunded bet: got %v, want ErrInsufficientFunds", err)
	}

	// The rejected commit must not have touched counters, totals, or escrow.
	if got := f.escrowBalance(t, eventID); got != 0 {
		t.Fatalf("escrow after rejected bet: got %d, want 0", got)
	}
	rec, err := f.store.Read(ctx, StateKey)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	state, err := DecodeCounter(rec.Data)
	if err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.BetCounter != 0 {
		t.Fatalf("bet counter after rejected bet: got %d, want 0", state.BetCounter)
	}
	if _, err := f.store.Read(ctx, BetKey(1)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("bet record after rejected bet: got %v, want ErrNotFound", err)
	}
}

func TestResolveEventValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eventID := f.createEvent(t, "event", time.Hour)

	if err := f.engine.ResolveEvent(ctx, uuid.New(), eventID, true); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("non-admin resolve: got %v, want ErrUnauthorized", err)
	}
	if err := f.engine.ResolveEvent(ctx, f.admin, eventID+1, true); !errors.Is(err, ErrEventDoesNotExist) {
		t.Fatalf("resolve unknown event: got %v, want ErrEventDoesNotExist", err)
	}
	if err := f.engine.ResolveEvent(ctx, f.admin, eventID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Resolution is one-way, even to the same outcome.
	if err := f.engine.ResolveEvent(ctx, f.admin, eventID, true); !errors.Is(err, ErrEventAlreadyResolved) {
		t.Fatalf("re-resolve: got %v, want ErrEventAlreadyResolved", err)
	}

	rec, err := f.store.Read(ctx, EventKey(eventID))
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	ev, err := DecodeEvent(rec.Data)
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if !ev.Resolved || !ev.Outcome {
		t.Fatalf("event after resolve: %+v", ev)
	}
}

// TestSettlementLifecycle walks the worked scenario end to end: 100 on yes,
// 50 on no, resolve yes, the winner collects the full 150 pool and the loser
// collects nothing.
func TestSettlementLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	winner, loser := uuid.New(), uuid.New()
	f.fund(t, winner, 100)
	f.fund(t, loser, 50)
	eventID := f.createEvent(t, "rain tomorrow", time.Hour)

	winBet, err := f.engine.PlaceBet(ctx, winner, eventID, true, 100)
	if err != nil {
		t.Fatalf("winner bet: %v", err)
	}
	loseBet, err := f.engine.PlaceBet(ctx, loser, eventID, false, 50)
	if err != nil {
		t.Fatalf("loser bet: %v", err)
	}
	if got := f.escrowBalance(t, eventID); got != 150 {
		t.Fatalf("escrow after bets: got %d, want 150", got)
	}

	// Claims before resolution fail regardless of side.
	if _, err := f.engine.ClaimWinnings(ctx, winner, eventID, winBet.BetID); !errors.Is(err, ErrEventNotResolved) {
		t.Fatalf("claim before resolve: got %v, want ErrEventNotResolved", err)
	}

	f.advance(2 * time.Hour)
	if err := f.engine.ResolveEvent(ctx, f.admin, eventID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	payout, err := f.engine.ClaimWinnings(ctx, winner, eventID, winBet.BetID)
	if err != nil {
		t.Fatalf("winner claim: %v", err)
	}
	if payout != 150 {
		t.Fatalf("winner payout: got %d, want 150", payout)
	}
	if got := f.userBalance(t, winner); got != 150 {
		t.Fatalf("winner balance: got %d, want 150", got)
	}
	if got := f.escrowBalance(t, eventID); got != 0 {
		t.Fatalf("escrow after claim: got %d, want 0", got)
	}

	if _, err := f.engine.ClaimWinnings(ctx, loser, eventID, loseBet.BetID); !errors.Is(err, ErrLosingBet) {
		t.Fatalf("loser claim: got %v, want ErrLosingBet", err)
	}
	if got := f.userBalance(t, loser); got != 0 {
		t.Fatalf("loser balance: got %d, want 0", got)
	}
}

func TestClaimChecksInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bettor, stranger := uuid.New(), uuid.New()
	f.fund(t, bettor, 100)
	eventID := f.createEvent(t, "event", time.Hour)
	otherID := f.createEvent(t, "other", time.Hour)

	bet, err := f.engine.PlaceBet(ctx, bettor, eventID, false, 100)
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}

	if _, err := f.engine.ClaimWinnings(ctx, bettor, eventID+5, bet.BetID); !errors.Is(err, ErrEventDoesNotExist) {
		t.Fatalf("claim on unknown event: got %v, want ErrEventDoesNotExist", err)
	}
	if _, err := f.engine.ClaimWinnings(ctx, bettor, eventID, bet.BetID+5); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("claim unknown bet: got %v, want ErrNotFound", err)
	}
	// Bet paired with the wrong event reads as not found.
	if _, err := f.engine.ClaimWinnings(ctx, bettor, otherID, bet.BetID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("claim against wrong event: got %v, want ErrNotFound", err)
	}
	// Resolution is checked before identity or side.
	if _, err := f.engine.ClaimWinnings(ctx, stranger, eventID, bet.BetID); !errors.Is(err, ErrEventNotResolved) {
		t.Fatalf("stranger claim unresolved: got %v, want ErrEventNotResolved", err)
	}

	if err := f.engine.ResolveEvent(ctx, f.admin, eventID, false); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Identity is checked before the win/lose test.
	if _, err := f.engine.ClaimWinnings(ctx, stranger, eventID, bet.BetID); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("stranger claim: got %v, want ErrUnauthorized", err)
	}
}

func TestClaimIsIdempotentFailureAfterPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bettor := uuid.New()
	f.fund(t, bettor, 100)
	eventID := f.createEvent(t, "event", time.Hour)
	bet, err := f.engine.PlaceBet(ctx, bettor, eventID, true, 100)
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}
	if err := f.engine.ResolveEvent(ctx, f.admin, eventID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := f.engine.ClaimWinnings(ctx, bettor, eventID, bet.BetID); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := f.engine.ClaimWinnings(ctx, bettor, eventID, bet.BetID); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second claim: got %v, want ErrAlreadyClaimed", err)
	}
	if got := f.userBalance(t, bettor); got != 100 {
		t.Fatalf("balance after double claim attempt: got %d, want 100", got)
	}
}

// TestProportionalPayoutsWithDust splits a 100-unit total pool across three
// winning stakes of 10 on a 30-unit winning side. Each winner floors to 33
// and one dust unit stays in escrow.
func TestProportionalPayoutsWithDust(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eventID := f.createEvent(t, "event", time.Hour)

	winners := make([]uuid.UUID, 3)
	betIDs := make([]uint64, 3)
	for i := range winners {
		winners[i] = uuid.New()
		f.fund(t, winners[i], 10)
		bet, err := f.engine.PlaceBet(ctx, winners[i], eventID, true, 10)
		if err != nil {
			t.Fatalf("winner %d bet: %v", i, err)
		}
		betIDs[i] = bet.BetID
	}
	loser := uuid.New()
	f.fund(t, loser, 70)
	if _, err := f.engine.PlaceBet(ctx, loser, eventID, false, 70); err != nil {
		t.Fatalf("loser bet: %v", err)
	}

	if err := f.engine.ResolveEvent(ctx, f.admin, eventID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var paid uint64
	for i, w := range winners {
		payout, err := f.engine.ClaimWinnings(ctx, w, eventID, betIDs[i])
		if err != nil {
			t.Fatalf("winner %d claim: %v", i, err)
		}
		if payout != 33 {
			t.Fatalf("winner %d payout: got %d, want 33", i, payout)
		}
		paid += payout
	}

	dust := f.escrowBalance(t, eventID)
	if paid+dust != 100 {
		t.Fatalf("conservation broken: paid %d + dust %d != 100", paid, dust)
	}
	if dust != 1 {
		t.Fatalf("dust: got %d, want 1", dust)
	}

	if err := escrow.CheckConservation(dust,
		escrow.PoolTotals{Yes: 30, No: 70}, true,
		[]escrow.ClaimedStake{{Amount: 10}, {Amount: 10}, {Amount: 10}}, 0); err != nil {
		t.Fatalf("conservation check: %v", err)
	}
}

// Resolving onto an empty side leaves the losing stakes stranded in escrow;
// only an emergency withdrawal can recover them.
func TestResolveOntoEmptySideStrandsPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bettor := uuid.New()
	f.fund(t, bettor, 80)
	eventID := f.createEvent(t, "event", time.Hour)
	bet, err := f.engine.PlaceBet(ctx, bettor, eventID, false, 80)
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}
	// Resolves YES; the NO bettor lost, but there is nobody on the YES side
	// to claim. The losing stake stays in escrow.
	if err := f.engine.ResolveEvent(ctx, f.admin, eventID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := f.engine.ClaimWinnings(ctx, bettor, eventID, bet.BetID); !errors.Is(err, ErrLosingBet) {
		t.Fatalf("losing claim: got %v, want ErrLosingBet", err)
	}
	if got := f.escrowBalance(t, eventID); got != 80 {
		t.Fatalf("stranded escrow: got %d, want 80", got)
	}
}

func TestEmergencyWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bettor := uuid.New()
	f.fund(t, bettor, 200)
	eventID := f.createEvent(t, "event", time.Hour)
	bet, err := f.engine.PlaceBet(ctx, bettor, eventID, true, 200)
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}

	if _, err := f.engine.EmergencyWithdraw(ctx, bettor, eventID); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("non-admin withdraw: got %v, want ErrUnauthorized", err)
	}

	got, err := f.engine.EmergencyWithdraw(ctx, f.admin, eventID)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got != 200 {
		t.Fatalf("withdrawn: got %d, want 200", got)
	}
	if bal := f.userBalance(t, f.admin); bal != 200 {
		t.Fatalf("admin balance: got %d, want 200", bal)
	}
	if bal := f.escrowBalance(t, eventID); bal != 0 {
		t.Fatalf("escrow after drain: got %d, want 0", bal)
	}

	// Empty escrow cannot be drained again.
	if _, err := f.engine.EmergencyWithdraw(ctx, f.admin, eventID); !errors.Is(err, escrow.ErrNoBalance) {
		t.Fatalf("second withdraw: got %v, want ErrNoBalance", err)
	}

	// A winning claim after the drain fails on escrow balance, not on the
	// bet's own state.
	if err := f.engine.ResolveEvent(ctx, f.admin, eventID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := f.engine.ClaimWinnings(ctx, bettor, eventID, bet.BetID); !errors.Is(err, escrow.ErrInsufficientBalance) {
		t.Fatalf("claim after drain: got %v, want ErrInsufficientBalance", err)
	}
}

func TestOutboundEnvelopes(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return now })
	ch := make(chan outbound.Envelope, 16)
	engine := NewEngine(st, zerolog.Nop(), nil, ch)
	ctx := context.Background()
	admin, bettor := uuid.New(), uuid.New()

	if err := engine.Initialize(ctx, admin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := st.Credit(ctx, store.UserAccount(bettor), 100); err != nil {
		t.Fatalf("credit: %v", err)
	}
	eventID, err := engine.CreateEvent(ctx, admin, "event", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	bet, err := engine.PlaceBet(ctx, bettor, eventID, true, 100)
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}
	if err := engine.ResolveEvent(ctx, admin, eventID, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := engine.ClaimWinnings(ctx, bettor, eventID, bet.BetID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	wantKinds := []outbound.Kind{
		outbound.KindMarketInitialized,
		outbound.KindEventCreated,
		outbound.KindBetPlaced,
		outbound.KindEventResolved,
		outbound.KindWinningsClaimed,
	}
	for i, want := range wantKinds {
		select {
		case env := <-ch:
			if env.Kind != want {
				t.Fatalf("envelope %d: got kind %q, want %q", i, env.Kind, want)
			}
			if env.Sequence != int64(i+1) {
				t.Fatalf("envelope %d: got sequence %d, want %d", i, env.Sequence, i+1)
			}
		default:
			t.Fatalf("missing envelope %d (%q)", i, want)
		}
	}
}

// After a restart the engine must continue numbering from the last durable
// sequence, never reissue one the settlement log already holds.
func TestOutboundSequenceResumes(t *testing.T) {
	st := store.NewMemoryStore()
	ch := make(chan outbound.Envelope, 4)
	engine := NewEngine(st, zerolog.Nop(), nil, ch)
	engine.RestoreSequence(7)

	if err := engine.Initialize(context.Background(), uuid.New()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	select {
	case env := <-ch:
		if env.Sequence != 8 {
			t.Fatalf("got sequence %d after restore at 7, want 8", env.Sequence)
		}
	default:
		t.Fatal("no envelope emitted")
	}
}

// A full outbound channel must never block or fail settlement.
func TestOutboundFullChannelDrops(t *testing.T) {
	st := store.NewMemoryStore()
	ch := make(chan outbound.Envelope) // unbuffered, nobody reading
	engine := NewEngine(st, zerolog.Nop(), nil, ch)

	if err := engine.Initialize(context.Background(), uuid.New()); err != nil {
		t.Fatalf("initialize with blocked channel: %v", err)
	}
}

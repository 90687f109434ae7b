package market

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PredMarket/internal/auth"
	"PredMarket/internal/escrow"
	"PredMarket/internal/math"
	"PredMarket/internal/observability"
	"PredMarket/internal/outbound"
	"PredMarket/internal/store"
)

// Engine is the market state machine. Every external call enters here; the
// engine validates against current records, plans fund movements through the
// escrow accountant, and commits all mutations as one atomic unit against
// the store. The engine itself holds no market state, so a lost concurrent
// race surfaces as store.ErrConflict and the caller retries.
type Engine struct {
	store    store.Store
	acct     escrow.Accountant
	log      zerolog.Logger
	metrics  *observability.Metrics
	outbound chan<- outbound.Envelope
	sequence atomic.Int64
}

// NewEngine creates an Engine. metrics and outboundCh may be nil; both are
// optional side channels.
func NewEngine(
	st store.Store,
	logger zerolog.Logger,
	metrics *observability.Metrics,
	outboundCh chan<- outbound.Envelope,
) *Engine {
	return &Engine{
		store:    st,
		log:      logger,
		metrics:  metrics,
		outbound: outboundCh,
	}
}

// RestoreSequence advances the outbound sequence counter to seq, the highest
// sequence already durable in the settlement log. Envelopes emitted after a
// restart then continue the numbering instead of reissuing logged sequences,
// which the log's conflict-skipping insert would silently drop.
func (e *Engine) RestoreSequence(seq int64) {
	e.sequence.Store(seq)
}

// Initialize creates the deployment singleton with both counters at zero and
// establishes admin as the sole authority for admin-gated operations.
func (e *Engine) Initialize(ctx context.Context, admin uuid.UUID) error {
	op := e.begin("initialize")

	data, err := encode(Counter{Admin: admin})
	if err != nil {
		return op.fail(err)
	}
	if err := e.store.Create(ctx, StateKey, data); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return op.fail(ErrAlreadyInitialized)
		}
		return op.fail(err)
	}

	e.log.Info().Str("admin", admin.String()).Msg("market initialized")
	e.emit(outbound.KindMarketInitialized, nil, outbound.MarketInitialized{Admin: admin})
	op.done()
	return nil
}

// CreateEvent opens a new market. Admin-only; the betting deadline must be
// strictly in the future and the name within MaxNameLen bytes. Returns the
// freshly issued event id.
func (e *Engine) CreateEvent(ctx context.Context, caller uuid.UUID, name string, endTime time.Time) (uint64, error) {
	op := e.begin("create_event")

	state, stateRec, err := e.readCounter(ctx)
	if err != nil {
		return 0, op.fail(err)
	}
	if err := auth.RequireIdentity(caller, state.Admin); err != nil {
		return 0, op.fail(err)
	}
	if !endTime.After(e.store.Now()) {
		return 0, op.fail(fmt.Errorf("end_time %s: %w", endTime.Format(time.RFC3339), ErrInvalidEndTime))
	}
	if len(name) > MaxNameLen {
		return 0, op.fail(fmt.Errorf("name is %d bytes, max %d: %w", len(name), MaxNameLen, ErrNameTooLong))
	}

	state.EventCounter, err = math.Inc(state.EventCounter)
	if err != nil {
		return 0, op.fail(fmt.Errorf("event counter: %w", err))
	}
	eventID := state.EventCounter

	event := Event{
		EventID: eventID,
		Name:    name,
		EndTime: endTime.UTC(),
		Creator: caller,
	}

	txn, err := planTxn(
		update(StateKey, stateRec.Version, state),
		create(EventKey(eventID), event),
	)
	if err != nil {
		return 0, op.fail(err)
	}
	if err := e.store.Commit(ctx, txn); err != nil {
		return 0, op.fail(err)
	}

	e.log.Info().
		Uint64("event_id", eventID).
		Str("name", name).
		Time("end_time", event.EndTime).
		Msg("event created")
	e.emit(outbound.KindEventCreated, &eventID, outbound.EventCreated{
		EventID: eventID,
		Name:    name,
		EndTime: event.EndTime,
		Creator: caller,
	})
	op.done()
	return eventID, nil
}

// PlaceBet stakes amount on one side of an open event. The bet record, the
// event totals, the bet counter, and the escrow deposit commit together or
// not at all — a partial application would break pool conservation.
func (e *Engine) PlaceBet(ctx context.Context, caller uuid.UUID, eventID uint64, outcome bool, amount uint64) (*Bet, error) {
	op := e.begin("place_bet")

	state, stateRec, err := e.readCounter(ctx)
	if err != nil {
		return nil, op.fail(err)
	}
	if eventID == 0 || eventID > state.EventCounter {
		return nil, op.fail(fmt.Errorf("event %d: %w", eventID, ErrEventDoesNotExist))
	}

	event, eventRec, err := e.readEvent(ctx, eventID)
	if err != nil {
		return nil, op.fail(err)
	}
	if event.Resolved {
		return nil, op.fail(fmt.Errorf("event %d: %w", eventID, ErrEventAlreadyResolved))
	}
	if !e.store.Now().Before(event.EndTime) {
		return nil, op.fail(fmt.Errorf("event %d closed at %s: %w",
			eventID, event.EndTime.Format(time.RFC3339), ErrBettingClosed))
	}
	if amount == 0 {
		return nil, op.fail(ErrInvalidAmount)
	}

	state.BetCounter, err = math.Inc(state.BetCounter)
	if err != nil {
		return nil, op.fail(fmt.Errorf("bet counter: %w", err))
	}
	betID := state.BetCounter

	if outcome {
		if event.TotalYesBets, err = math.Inc(event.TotalYesBets); err != nil {
			return nil, op.fail(fmt.Errorf("yes bet count: %w", err))
		}
		if event.TotalYesAmount, err = math.AddU64(event.TotalYesAmount, amount); err != nil {
			return nil, op.fail(fmt.Errorf("yes pool: %w", err))
		}
	} else {
		if event.TotalNoBets, err = math.Inc(event.TotalNoBets); err != nil {
			return nil, op.fail(fmt.Errorf("no bet count: %w", err))
		}
		if event.TotalNoAmount, err = math.AddU64(event.TotalNoAmount, amount); err != nil {
			return nil, op.fail(fmt.Errorf("no pool: %w", err))
		}
	}

	bet := Bet{
		BetID:   betID,
		EventID: eventID,
		Bettor:  caller,
		Outcome: outcome,
		Amount:  amount,
	}

	txn, err := planTxn(
		update(StateKey, stateRec.Version, state),
		update(EventKey(eventID), eventRec.Version, event),
		create(BetKey(betID), bet),
	)
	if err != nil {
		return nil, op.fail(err)
	}
	txn.Transfers = append(txn.Transfers, e.acct.Deposit(caller, eventID, amount))

	if err := e.store.Commit(ctx, txn); err != nil {
		return nil, op.fail(err)
	}

	if e.metrics != nil {
		e.metrics.EscrowDeposits.Add(float64(amount))
	}
	e.log.Info().
		Uint64("bet_id", betID).
		Uint64("event_id", eventID).
		Str("bettor", caller.String()).
		Bool("outcome", outcome).
		Uint64("amount", amount).
		Msg("bet placed")
	e.emit(outbound.KindBetPlaced, &eventID, outbound.BetPlaced{
		BetID:   betID,
		EventID: eventID,
		Bettor:  caller,
		Outcome: outcome,
		Amount:  amount,
	})
	op.done()
	return &bet, nil
}

// ResolveEvent fixes an event's final outcome. Admin-only, irreversible,
// succeeds at most once per event; no funds move.
func (e *Engine) ResolveEvent(ctx context.Context, caller uuid.UUID, eventID uint64, outcome bool) error {
	op := e.begin("resolve_event")

	state, _, err := e.readCounter(ctx)
	if err != nil {
		return op.fail(err)
	}
	if err := auth.RequireIdentity(caller, state.Admin); err != nil {
		return op.fail(err)
	}

	event, eventRec, err := e.readEvent(ctx, eventID)
	if err != nil {
		return op.fail(err)
	}
	if event.Resolved {
		return op.fail(fmt.Errorf("event %d: %w", eventID, ErrEventAlreadyResolved))
	}

	event.Resolved = true
	event.Outcome = outcome

	txn, err := planTxn(update(EventKey(eventID), eventRec.Version, event))
	if err != nil {
		return op.fail(err)
	}
	if err := e.store.Commit(ctx, txn); err != nil {
		return op.fail(err)
	}

	e.log.Info().Uint64("event_id", eventID).Bool("outcome", outcome).Msg("event resolved")
	e.emit(outbound.KindEventResolved, &eventID, outbound.EventResolved{EventID: eventID, Outcome: outcome})
	op.done()
	return nil
}

// ClaimWinnings pays a winning bettor their proportional share of the pool
// and marks the bet claimed. A second claim of the same bet always fails
// ErrAlreadyClaimed and never double-pays.
func (e *Engine) ClaimWinnings(ctx context.Context, caller uuid.UUID, eventID, betID uint64) (uint64, error) {
	op := e.begin("claim_winnings")

	event, _, err := e.readEvent(ctx, eventID)
	if err != nil {
		return 0, op.fail(err)
	}
	bet, betRec, err := e.readBet(ctx, betID)
	if err != nil {
		return 0, op.fail(err)
	}
	if bet.EventID != eventID {
		return 0, op.fail(fmt.Errorf("bet %d belongs to event %d, not %d: %w",
			betID, bet.EventID, eventID, store.ErrNotFound))
	}

	// Check order matches the settlement contract: resolution state first,
	// then claim state, then identity, then win/lose.
	if !event.Resolved {
		return 0, op.fail(fmt.Errorf("event %d: %w", eventID, ErrEventNotResolved))
	}
	if bet.Claimed {
		return 0, op.fail(fmt.Errorf("bet %d: %w", betID, ErrAlreadyClaimed))
	}
	if err := auth.RequireIdentity(caller, bet.Bettor); err != nil {
		return 0, op.fail(err)
	}
	if bet.Outcome != event.Outcome {
		return 0, op.fail(fmt.Errorf("bet %d: %w", betID, ErrLosingBet))
	}

	payout, err := e.acct.ComputePayout(bet.Amount, event.Totals(), event.Outcome)
	if err != nil {
		return 0, op.fail(err)
	}

	balance, err := e.store.Balance(ctx, store.EscrowAccount(eventID))
	if err != nil {
		return 0, op.fail(err)
	}
	transfer, err := e.acct.Withdraw(eventID, balance, payout, caller)
	if err != nil {
		return 0, op.fail(err)
	}

	bet.Claimed = true
	txn, err := planTxn(update(BetKey(betID), betRec.Version, bet))
	if err != nil {
		return 0, op.fail(err)
	}
	txn.Transfers = append(txn.Transfers, transfer)

	if err := e.store.Commit(ctx, txn); err != nil {
		return 0, op.fail(err)
	}

	if e.metrics != nil {
		e.metrics.PayoutsTotal.Add(float64(payout))
	}
	e.log.Info().
		Uint64("bet_id", betID).
		Uint64("event_id", eventID).
		Uint64("payout", payout).
		Msg("winnings claimed")
	e.emit(outbound.KindWinningsClaimed, &eventID, outbound.WinningsClaimed{
		BetID:   betID,
		EventID: eventID,
		Bettor:  caller,
		Payout:  payout,
	})
	op.done()
	return payout, nil
}

// EmergencyWithdraw drains an event's entire escrow to the admin. This is a
// break-glass operation: it deliberately does not check resolution state, so
// a fully trusted admin can remove funds while losing or even winning claims
// are still outstanding. Subsequent claims then fail on escrow balance.
func (e *Engine) EmergencyWithdraw(ctx context.Context, caller uuid.UUID, eventID uint64) (uint64, error) {
	op := e.begin("emergency_withdraw")

	state, _, err := e.readCounter(ctx)
	if err != nil {
		return 0, op.fail(err)
	}
	if err := auth.RequireIdentity(caller, state.Admin); err != nil {
		return 0, op.fail(err)
	}

	balance, err := e.store.Balance(ctx, store.EscrowAccount(eventID))
	if err != nil {
		return 0, op.fail(err)
	}
	if balance == 0 {
		return 0, op.fail(fmt.Errorf("escrow %d: %w", eventID, escrow.ErrNoBalance))
	}

	transfer, err := e.acct.Withdraw(eventID, balance, balance, caller)
	if err != nil {
		return 0, op.fail(err)
	}
	if err := e.store.Commit(ctx, store.Txn{Transfers: []store.Transfer{transfer}}); err != nil {
		return 0, op.fail(err)
	}

	if e.metrics != nil {
		e.metrics.EmergencyWithdrawals.Add(float64(balance))
	}
	e.log.Warn().
		Uint64("event_id", eventID).
		Uint64("amount", balance).
		Msg("emergency withdrawal drained escrow")
	e.emit(outbound.KindEmergencyWithdrawal, &eventID, outbound.EmergencyWithdrawal{
		EventID: eventID,
		Admin:   caller,
		Amount:  balance,
	})
	op.done()
	return balance, nil
}

// --- record access ---

func (e *Engine) readCounter(ctx context.Context) (*Counter, store.Record, error) {
	rec, err := e.store.Read(ctx, StateKey)
	if err != nil {
		return nil, store.Record{}, fmt.Errorf("market state: %w", err)
	}
	c, err := DecodeCounter(rec.Data)
	if err != nil {
		return nil, store.Record{}, err
	}
	return c, rec, nil
}

func (e *Engine) readEvent(ctx context.Context, eventID uint64) (*Event, store.Record, error) {
	rec, err := e.store.Read(ctx, EventKey(eventID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.Record{}, fmt.Errorf("event %d: %w", eventID, ErrEventDoesNotExist)
		}
		return nil, store.Record{}, err
	}
	ev, err := DecodeEvent(rec.Data)
	if err != nil {
		return nil, store.Record{}, err
	}
	return ev, rec, nil
}

func (e *Engine) readBet(ctx context.Context, betID uint64) (*Bet, store.Record, error) {
	rec, err := e.store.Read(ctx, BetKey(betID))
	if err != nil {
		return nil, store.Record{}, fmt.Errorf("bet %d: %w", betID, err)
	}
	b, err := DecodeBet(rec.Data)
	if err != nil {
		return nil, store.Record{}, err
	}
	return b, rec, nil
}

// --- txn planning ---

type stagedWrite struct {
	key     string
	version int64 // -1 means create
	value   interface{}
}

func create(key string, value interface{}) stagedWrite {
	return stagedWrite{key: key, version: -1, value: value}
}

func update(key string, version int64, value interface{}) stagedWrite {
	return stagedWrite{key: key, version: version, value: value}
}

func planTxn(writes ...stagedWrite) (store.Txn, error) {
	var txn store.Txn
	for _, w := range writes {
		data, err := encode(w.value)
		if err != nil {
			return store.Txn{}, err
		}
		if w.version < 0 {
			txn.Creates = append(txn.Creates, store.Create{Key: w.key, Data: data})
		} else {
			txn.Updates = append(txn.Updates, store.Update{Key: w.key, ExpectedVersion: w.version, Data: data})
		}
	}
	return txn, nil
}

// --- instrumentation ---

type opTimer struct {
	e     *Engine
	op    string
	start time.Time
}

func (e *Engine) begin(op string) opTimer {
	return opTimer{e: e, op: op, start: time.Now()}
}

func (t opTimer) done() {
	if t.e.metrics != nil {
		t.e.metrics.OpsApplied.WithLabelValues(t.op).Inc()
		t.e.metrics.OpDuration.WithLabelValues(t.op).Observe(time.Since(t.start).Seconds())
	}
}

func (t opTimer) fail(err error) error {
	if t.e.metrics != nil {
		t.e.metrics.OpsRejected.WithLabelValues(t.op, Reason(err)).Inc()
	}
	t.e.log.Debug().Str("op", t.op).Err(err).Msg("operation rejected")
	return fmt.Errorf("%s: %w", t.op, err)
}

// emit hands an envelope to the outbound channel without blocking the
// settlement path; a full channel drops the event, and consumers rebuild
// from the store or settlement log.
func (e *Engine) emit(kind outbound.Kind, eventID *uint64, payload interface{}) {
	if e.outbound == nil {
		return
	}
	env := outbound.Envelope{
		Sequence:  e.sequence.Add(1),
		Kind:      kind,
		EventID:   eventID,
		Timestamp: e.store.Now(),
		Payload:   payload,
	}
	select {
	case e.outbound <- env:
		if e.metrics != nil {
			e.metrics.OutboundPublished.Inc()
		}
	default:
		if e.metrics != nil {
			e.metrics.OutboundDrops.Inc()
		}
	}
}

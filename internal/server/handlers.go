package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PredMarket/internal/auth"
	"PredMarket/internal/market"
	"PredMarket/internal/query"
	"PredMarket/internal/store"
)

// Handlers serves the settlement API: the six state-changing operations plus
// the read-only market, event, bet, and balance views.
type Handlers struct {
	engine *market.Engine
	query  *query.Service
	store  store.Store
	log    zerolog.Logger
}

func NewHandlers(engine *market.Engine, qs *query.Service, st store.Store, logger zerolog.Logger) *Handlers {
	return &Handlers{engine: engine, query: qs, store: st, log: logger}
}

// POST /api/initialize
func (h *Handlers) Initialize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Admin uuid.UUID `json:"admin"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Admin == uuid.Nil {
		writeError(w, http.StatusBadRequest, "admin is required")
		return
	}

	if err := h.engine.Initialize(r.Context(), req.Admin); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"admin": req.Admin.String()})
}

// GET /api/market
func (h *Handlers) GetMarket(w http.ResponseWriter, r *http.Request) {
	status, err := h.query.GetMarket(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// POST /api/events
func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller  uuid.UUID `json:"caller"`
		Name    string    `json:"name"`
		EndTime time.Time `json:"end_time"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	eventID, err := h.engine.CreateEvent(r.Context(), req.Caller, req.Name, req.EndTime)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"event_id": eventID})
}

// GET /api/events
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.query.ListEvents(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// GET /api/events/{id}
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	ev, err := h.query.GetEvent(r.Context(), eventID)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// GET /api/events/{id}/bets
func (h *Handlers) ListEventBets(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	bets, err := h.query.ListEventBets(r.Context(), eventID)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets})
}

// GET /api/events/{id}/escrow
func (h *Handlers) GetEscrow(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	status, err := h.query.GetEscrow(r.Context(), eventID)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// POST /api/events/{id}/bets
func (h *Handlers) PlaceBet(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	var req struct {
		Caller  uuid.UUID `json:"caller"`
		Outcome bool      `json:"outcome"`
		Amount  uint64    `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	bet, err := h.engine.PlaceBet(r.Context(), req.Caller, eventID, req.Outcome, req.Amount)
	if err != nil {
		writeOpError(w, err)
		return
	}
	h.query.InvalidateEvent(r.Context(), eventID)
	writeJSON(w, http.StatusCreated, bet)
}

// POST /api/events/{id}/resolve
func (h *Handlers) ResolveEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	var req struct {
		Caller  uuid.UUID `json:"caller"`
		Outcome bool      `json:"outcome"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.engine.ResolveEvent(r.Context(), req.Caller, eventID, req.Outcome); err != nil {
		writeOpError(w, err)
		return
	}
	h.query.InvalidateEvent(r.Context(), eventID)
	writeJSON(w, http.StatusOK, map[string]any{"event_id": eventID, "outcome": req.Outcome})
}

// POST /api/events/{id}/claims
func (h *Handlers) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	var req struct {
		Caller uuid.UUID `json:"caller"`
		BetID  uint64    `json:"bet_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	payout, err := h.engine.ClaimWinnings(r.Context(), req.Caller, eventID, req.BetID)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"bet_id": req.BetID, "payout": payout})
}

// POST /api/events/{id}/withdraw
func (h *Handlers) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	var req struct {
		Caller uuid.UUID `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	amount, err := h.engine.EmergencyWithdraw(r.Context(), req.Caller, eventID)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"event_id": eventID, "amount": amount})
}

// GET /api/bets/{id}
func (h *Handlers) GetBet(w http.ResponseWriter, r *http.Request) {
	betID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bet id")
		return
	}
	bet, err := h.query.GetBet(r.Context(), betID)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

// POST /api/accounts/{id}/credit — admin only, this is how funds enter.
func (h *Handlers) CreditAccount(w http.ResponseWriter, r *http.Request) {
	user, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	var req struct {
		Caller uuid.UUID `json:"caller"`
		Amount uint64    `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	status, err := h.query.GetMarket(r.Context())
	if err != nil {
		writeOpError(w, err)
		return
	}
	if err := auth.RequireIdentity(req.Caller, status.Admin); err != nil {
		writeOpError(w, err)
		return
	}

	if err := h.store.Credit(r.Context(), store.UserAccount(user), req.Amount); err != nil {
		writeOpError(w, err)
		return
	}
	balance, err := h.query.UserBalance(r.Context(), user)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"balance": balance})
}

// GET /api/accounts/{id}/balance
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	user, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	balance, err := h.query.UserBalance(r.Context(), user)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"balance": balance})
}

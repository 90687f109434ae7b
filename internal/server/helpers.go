package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"PredMarket/internal/auth"
	"PredMarket/internal/escrow"
	"PredMarket/internal/market"
	"PredMarket/internal/store"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeOpError maps a settlement error to its HTTP status.
func writeOpError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// statusFor classifies settlement errors:
// 403 for identity failures, 404 for missing records, 409 for state that is
// already what the caller tried to make it (or a lost write race), 400 for
// malformed input, 422 for requests that are well-formed but unservable.
// Anything else, counter overflow included, is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusForbidden

	case errors.Is(err, market.ErrEventDoesNotExist),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, market.ErrAlreadyInitialized),
		errors.Is(err, market.ErrEventAlreadyResolved),
		errors.Is(err, market.ErrAlreadyClaimed),
		errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict

	case errors.Is(err, market.ErrInvalidEndTime),
		errors.Is(err, market.ErrNameTooLong),
		errors.Is(err, market.ErrInvalidAmount):
		return http.StatusBadRequest

	case errors.Is(err, market.ErrBettingClosed),
		errors.Is(err, market.ErrEventNotResolved),
		errors.Is(err, market.ErrLosingBet),
		errors.Is(err, store.ErrInsufficientFunds),
		errors.Is(err, escrow.ErrInsufficientBalance),
		errors.Is(err, escrow.ErrNoBalance):
		return http.StatusUnprocessableEntity

	default:
		return http.StatusInternalServerError
	}
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// pathID extracts a numeric path parameter using Go 1.22+ built-in routing.
func pathID(r *http.Request, name string) (uint64, error) {
	return strconv.ParseUint(r.PathValue(name), 10, 64)
}

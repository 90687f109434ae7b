// Package store defines the ledger-store boundary: keyed, versioned records
// with create-once and compare-and-swap mutation, fund accounts, and an
// atomic multi-record commit unit. The settlement engine is written against
// this interface; MemoryStore and persistence.PGStore implement it.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record key is absent.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned by create-once writes against a present key.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrConflict is returned when a commit carries a stale record version.
	// The whole unit is discarded; callers retry the enclosing operation.
	ErrConflict = errors.New("write conflict")

	// ErrInsufficientFunds is returned when a transfer exceeds the source
	// account balance. The whole commit unit is discarded.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Record is a stored value together with its mutation version. Versions
// start at 1 on create and increase by 1 per committed update.
type Record struct {
	Key     string
	Version int64
	Data    []byte
}

// Create stages a create-once write inside a Txn.
type Create struct {
	Key  string
	Data []byte
}

// Update stages a compare-and-swap write inside a Txn. ExpectedVersion must
// equal the record's current version or the commit fails with ErrConflict.
type Update struct {
	Key             string
	ExpectedVersion int64
	Data            []byte
}

// Transfer stages a fund movement inside a Txn. Funds are conserved: the
// source is debited and the destination credited by the same amount.
type Transfer struct {
	From   Account
	To     Account
	Amount uint64
}

// Txn is the all-or-nothing commit unit. Every operation of the settlement
// engine builds exactly one Txn so record mutations and fund movements land
// together or not at all.
type Txn struct {
	Creates   []Create
	Updates   []Update
	Transfers []Transfer
}

// Empty reports whether the Txn stages no work.
func (t Txn) Empty() bool {
	return len(t.Creates) == 0 && len(t.Updates) == 0 && len(t.Transfers) == 0
}

// Store is the keyed record storage plus fund primitives the engine runs
// against. Implementations must serialize Commit calls touching the same
// records; a lost race surfaces as ErrConflict, not partial state.
type Store interface {
	// Create writes a new record with version 1. Fails ErrAlreadyExists.
	Create(ctx context.Context, key string, data []byte) error

	// Read returns the current record. Fails ErrNotFound.
	Read(ctx context.Context, key string) (Record, error)

	// Scan returns all records whose key has the given prefix, key-ordered.
	Scan(ctx context.Context, prefix string) ([]Record, error)

	// Commit applies a Txn atomically.
	Commit(ctx context.Context, txn Txn) error

	// Balance returns the current balance of a fund account. Accounts that
	// were never credited have balance 0.
	Balance(ctx context.Context, acct Account) (uint64, error)

	// Credit adds external funds to an account. This is the boundary with
	// the caller's funding source; it exists so bettors can be funded at all
	// and is not part of the settlement core proper.
	Credit(ctx context.Context, acct Account, amount uint64) error

	// Now is the store's notion of current time. Deadline checks evaluate
	// against this, not against submission time.
	Now() time.Time
}

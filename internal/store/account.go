package store

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountKind is the fund-account namespace.
type AccountKind uint8

const (
	// AccountUser holds a party's spendable funds.
	AccountUser AccountKind = iota

	// AccountEscrow holds the pooled stake of one event.
	AccountEscrow
)

// Account identifies a fund-holding location. It is a small comparable value
// so balance maps can key on it directly.
type Account struct {
	Kind    AccountKind
	User    uuid.UUID // set for AccountUser
	EventID uint64    // set for AccountEscrow
}

// UserAccount returns the fund account of a party identity.
func UserAccount(id uuid.UUID) Account {
	return Account{Kind: AccountUser, User: id}
}

// EscrowAccount returns the escrow account of an event.
func EscrowAccount(eventID uint64) Account {
	return Account{Kind: AccountEscrow, EventID: eventID}
}

// Path returns the string form used for storage and logging.
func (a Account) Path() string {
	switch a.Kind {
	case AccountUser:
		return fmt.Sprintf("user:%s", a.User)
	case AccountEscrow:
		return fmt.Sprintf("escrow:%d", a.EventID)
	}
	return "unknown"
}

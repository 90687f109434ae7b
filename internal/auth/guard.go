// Package auth holds the identity check applied before every gated mutation.
package auth

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrUnauthorized is returned when a caller identity does not match the
// identity an operation requires (program admin or bet owner).
var ErrUnauthorized = errors.New("unauthorized")

// RequireIdentity fails with ErrUnauthorized unless actual == expected.
// Identities are opaque — compared, never dereferenced.
func RequireIdentity(actual, expected uuid.UUID) error {
	if actual != expected {
		return fmt.Errorf("caller %s is not %s: %w", actual, expected, ErrUnauthorized)
	}
	return nil
}

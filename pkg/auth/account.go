// Package auth defines the account identity model, request principals,
// and the JWT verification middleware for the HTTP surface.
package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when a caller lacks the authority for
	// an operation: a non-owner resolving, a non-submitter rescinding,
	// or an unauthenticated request reaching a protected handler.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidAccount is returned for malformed account ids.
	ErrInvalidAccount = errors.New("invalid account id")
)

const (
	minAccountLen = 2
	maxAccountLen = 64
)

// AccountID identifies a participant: a submitter, the resolver (owner),
// or a deposit recipient. Ids are lowercase, 2..64 characters of letters,
// digits and the separators '.', '_' and '-'; a separator may not lead,
// trail, or follow another separator.
type AccountID string

func (a AccountID) String() string { return string(a) }

// IsZero reports whether the id is empty.
func (a AccountID) IsZero() bool { return a == "" }

// Validate checks the id against the account grammar.
func (a AccountID) Validate() error {
	if len(a) < minAccountLen || len(a) > maxAccountLen {
		return fmt.Errorf("%w: %q must be %d to %d characters", ErrInvalidAccount, string(a), minAccountLen, maxAccountLen)
	}
	prevSep := true // a leading separator is malformed
	for i := 0; i < len(a); i++ {
		c := a[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			prevSep = false
		case c == '.', c == '_', c == '-':
			if prevSep {
				return fmt.Errorf("%w: %q has a misplaced separator", ErrInvalidAccount, string(a))
			}
			prevSep = true
		default:
			return fmt.Errorf("%w: %q contains invalid character %q", ErrInvalidAccount, string(a), c)
		}
	}
	if prevSep {
		return fmt.Errorf("%w: %q ends with a separator", ErrInvalidAccount, string(a))
	}
	return nil
}

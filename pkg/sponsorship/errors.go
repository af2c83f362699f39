package sponsorship

import "errors"

var (
	// ErrNotFound is returned for ids that were never allocated.
	ErrNotFound = errors.New("proposal not found")

	// ErrAlreadyResolved is returned when a lifecycle operation hits a
	// proposal that has already left PENDING.
	ErrAlreadyResolved = errors.New("proposal already resolved")

	// ErrExpired is returned when acceptance is attempted past the
	// proposal's time-to-live.
	ErrExpired = errors.New("proposal expired")

	// ErrInsufficientDeposit is returned when a submission's deposit is
	// below the configured minimum. Nothing is escrowed.
	ErrInsufficientDeposit = errors.New("insufficient deposit")

	// ErrUnknownTag is returned when a submission names a tag that is
	// not in the registry.
	ErrUnknownTag = errors.New("tag does not exist")

	// ErrInvalidSubmission is returned for submissions that fail shape
	// validation before any funds move.
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrInvalidTag is returned when a tag fails the tag grammar.
	ErrInvalidTag = errors.New("invalid tag")
)

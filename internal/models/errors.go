package models

import "errors"

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput marks malformed requests (missing IDs, non-positive amounts).
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvariantViolation marks an attempted transition that would break a
	// structural guarantee. Never retried automatically.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrDuplicateOperation marks an idempotent replay. Callers treat it as success.
	ErrDuplicateOperation = errors.New("duplicate operation")

	// ErrAmountMismatch marks a payment whose amount differs from the amount owed.
	ErrAmountMismatch = errors.New("amount mismatch")

	// ErrInvalidState marks a conflict with the current state of a row, e.g. a
	// contribution already paid through another path.
	ErrInvalidState = errors.New("invalid state")

	// ErrSequenceExhausted signals that every position has had its cycle and the
	// group should complete instead of generating another cycle.
	ErrSequenceExhausted = errors.New("cycle sequence exhausted")

	// ErrExternalTimeout marks a gateway call that did not answer in time.
	ErrExternalTimeout = errors.New("external call timed out")
)

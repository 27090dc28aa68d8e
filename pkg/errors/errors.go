package errors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrEmptyKey           = errors.New("empty key")
	ErrInvalidData        = errors.New("invalid data type")
	ErrEntityExists       = errors.New("entity already exists")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrConflict           = errors.New("status transition rejected")
	// ErrInvariantViolation marks a store result that cannot happen with a
	// consistent schema. It is never retried or swallowed.
	ErrInvariantViolation = errors.New("invariant violation")
)

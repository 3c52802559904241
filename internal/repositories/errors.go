package repositories

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the attempted write would violate a uniqueness constraint.
	ErrConflict = errors.New("record conflict")
	// ErrForbidden indicates the acting user has no rights over the record.
	ErrForbidden = errors.New("operation not permitted")
	// ErrInvalidState indicates the record is not in a state that allows the transition.
	ErrInvalidState = errors.New("invalid record state")
)

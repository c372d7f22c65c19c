package models

import "errors"

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput covers malformed identifiers and missing or invalid fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoData means a query matched nothing to report on. It is not a failure.
	ErrNoData = errors.New("no data")
	// ErrForbidden is returned when the acting user lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict is returned when a state transition does not apply.
	ErrConflict = errors.New("conflict")
	// ErrBackend wraps store failures.
	ErrBackend = errors.New("backend error")
)

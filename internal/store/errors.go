package store

import "errors"

var (
	// ErrNotFound is returned when a requested signal or change does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition mirrors domain.ErrInvalidTransition at the store boundary.
	ErrInvalidTransition = errors.New("invalid status transition")
)

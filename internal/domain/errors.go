package domain

import "errors"

var (
	// ErrInvalidTimeframe is returned for a Timeframe outside the canonical enum.
	ErrInvalidTimeframe = errors.New("invalid timeframe")
	// ErrInvalidAction is returned for an Action outside {buy,sell,hold}.
	ErrInvalidAction = errors.New("invalid action")
	// ErrPricingInvariant is returned when a Signal violates the §3 SL/TP ordering.
	ErrPricingInvariant = errors.New("pricing invariant violated")
	// ErrInvalidTransition is returned by Signal Store status updates that
	// attempt an illegal status change.
	ErrInvalidTransition = errors.New("invalid status transition")
)

package curve

import "errors"

var (
	// ErrValidation is returned when construction parameters are
	// malformed: inconsistent invariant, missing field, incompatible
	// bounds. It is only ever returned at construction time.
	ErrValidation = errors.New("curve: invalid parameters")

	// ErrBounds is returned by Execute when a trade would drive actual
	// holdings below zero.
	ErrBounds = errors.New("curve: trade exceeds actual holdings")

	// ErrNoSolution is returned by the error-form inverse queries when the
	// requested state lies outside the curve's bounds.
	ErrNoSolution = errors.New("curve: state outside bounds")
)

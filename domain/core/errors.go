package core

import (
	"errors"
	"fmt"
)

// Analysis errors - every failure of an analysis run wraps one of these
var (
	// ErrValidation marks input the caller must fix before retrying
	// (too few observations, no analysis selected, bad parameters).
	ErrValidation = errors.New("invalid analysis input")

	// ErrDegenerateGeometry marks coordinates from which no neighbor
	// structure can be built.
	ErrDegenerateGeometry = errors.New("degenerate geometry")

	// ErrNoNeighbors marks a weights matrix whose weights sum to zero.
	ErrNoNeighbors = errors.New("no observation has any neighbor")

	// ErrInsufficientPermutations marks a permutation test where too many
	// trials produced non-finite statistics.
	ErrInsufficientPermutations = errors.New("insufficient valid permutations")

	// ErrNotFound marks a lookup of an unknown analysis.
	ErrNotFound = errors.New("not found")
)

// NewValidationError wraps ErrValidation with the offending field
func NewValidationError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrValidation, field, reason)
}

// NewDegenerateGeometryError wraps ErrDegenerateGeometry with a reason
func NewDegenerateGeometryError(reason string) error {
	return fmt.Errorf("%w: %s", ErrDegenerateGeometry, reason)
}

// NewInsufficientPermutationsError reports how many of the attempted trials survived
func NewInsufficientPermutationsError(valid, attempted int) error {
	return fmt.Errorf("%w: %d of %d trials produced a finite statistic",
		ErrInsufficientPermutations, valid, attempted)
}

// Error checking helpers
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsDataQualityError reports failures caused by the data rather than by
// the request shape. Retrying with other parameters may help.
func IsDataQualityError(err error) bool {
	return errors.Is(err, ErrDegenerateGeometry) ||
		errors.Is(err, ErrNoNeighbors) ||
		errors.Is(err, ErrInsufficientPermutations)
}

package fml

import (
	"errors"
	"fmt"
)

var (
	// ErrNoBookProbabilities is returned when consensus is requested over no books
	ErrNoBookProbabilities = errors.New("no book probabilities provided")

	// ErrZeroTotalWeight is returned when every book carries zero weight
	ErrZeroTotalWeight = errors.New("total book weight is zero")

	// ErrNoCurvePoints is returned when a curve is built from no anchors
	ErrNoCurvePoints = errors.New("no points to build probability curve")

	// ErrInvalidLineRange is returned for an empty or non-stepping line range
	ErrInvalidLineRange = errors.New("invalid line range")
)

// InsufficientBooksError is returned when a market has fewer books than the
// configured minimum
type InsufficientBooksError struct {
	Have int
	Need int
}

func (e *InsufficientBooksError) Error() string {
	return fmt.Sprintf("insufficient books: have %d, need at least %d", e.Have, e.Need)
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed or out-of-range input. Nothing was
	// written.
	ErrValidation = errors.New("validation failed")

	// ErrPriceNotConfigured indicates a product has no price for the
	// employee's tier. The whole operation aborts; there is no fallback
	// price.
	ErrPriceNotConfigured = errors.New("price not configured")

	// ErrInsufficientStock indicates a stock application would drive a
	// product below zero. The whole operation aborts.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrNotFound indicates a referenced entity does not exist or is
	// inactive.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the operation is not valid for the entity's
	// current state, e.g. editing items of a settled sale.
	ErrConflict = errors.New("conflict")

	// ErrNotAuthorized indicates the principal's role or identity does not
	// permit the operation.
	ErrNotAuthorized = errors.New("not authorized")
)

// ValidationError names the offending field so the caller can correct the
// request without a second round trip.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type PriceNotConfiguredError struct {
	ProductName string
	Tier        PriceTier
}

func (e *PriceNotConfiguredError) Error() string {
	return fmt.Sprintf("no %s price configured for %s", e.Tier, e.ProductName)
}

func (e *PriceNotConfiguredError) Is(target error) bool {
	return target == ErrPriceNotConfigured
}

// InsufficientStockError reports the stock state at the moment of the failed
// check. Requested is the net quantity the operation tried to take.
type InsufficientStockError struct {
	ProductName string
	Available   int64
	Requested   int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

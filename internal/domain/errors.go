package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Error types for consistent error handling across the engine. All of
// them abort the operation before any mutation.

// ErrNotFound indicates a referenced entity does not exist.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrForbidden indicates the entity exists but belongs to another owner.
type ErrForbidden struct {
	Resource string
	ID       string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s %s belongs to another owner", e.Resource, e.ID)
}

// ErrInvalidArgument indicates a rejected input: day values outside 1-31,
// split sums beyond tolerance, withdrawals above the guarded value, and
// the like.
type ErrInvalidArgument struct {
	Field   string
	Message string
}

func (e *ErrInvalidArgument) Error() string {
	return fmt.Sprintf("invalid argument '%s': %s", e.Field, e.Message)
}

// ErrInsufficientFunds indicates not enough balance for the operation.
// It refines the invalid-argument bucket for balance shortfalls.
type ErrInsufficientFunds struct {
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: available=%s required=%s",
		e.Available.StringFixed(2), e.Required.StringFixed(2))
}

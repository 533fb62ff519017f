package service

import "errors"

var (
	// ErrInvalidAmount means non-positive amount passed.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidOrderRef means the order reference is empty.
	ErrInvalidOrderRef = errors.New("order reference required")
	// ErrUnsupportedCurrency means the currency code is not a supported ISO 4217 code.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	// ErrDuplicatePayment means the order already has an in-flight or completed
	// payment; the existing id is returned alongside. Not a failure.
	ErrDuplicatePayment = errors.New("payment already exists for order")
	// ErrPaymentNotFound means no ledger row matches the lookup.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrInvalidTransition means the requested state change violates the
	// payment state machine. Rejected, never coerced.
	ErrInvalidTransition = errors.New("invalid payment state transition")
)

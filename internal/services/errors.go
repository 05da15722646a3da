package services

import "errors"

// Stable error kinds surfaced by the deposit reconciliation engine.
// Validation errors (invalid amount, unknown account) are raised before
// any ledger mutation; errors raised after a reservation is taken always
// abort the reservation so the tx hash stays retryable.
var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrAccountNotFound = errors.New("account not found")
	ErrRateUnavailable = errors.New("exchange rate unavailable")
	ErrStorageFailure  = errors.New("storage failure")

	// ErrReservationHeld means another request currently holds a live
	// reservation for the same tx hash. Callers may retry shortly.
	ErrReservationHeld = errors.New("transaction is being processed")

	// ErrReservationLost means a finalize/abort raced with a stale-
	// reservation takeover and this holder no longer owns the record.
	ErrReservationLost = errors.New("reservation no longer held")
)

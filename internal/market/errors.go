package market

import (
	"errors"
	"fmt"
)

// Deterministic rejections, surfaced to the submitter.
var (
	ErrInvalidPrice    = errors.New("invalid price")
	ErrVariantNotFound = errors.New("variant not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrForbidden       = errors.New("forbidden")
)

// Race outcomes. Both mean a competing execution already claimed one of the
// orders; they are absorbed by the matching pipeline and never surface as a
// failure of order submission.
var (
	ErrCounterpartyLost     = errors.New("counterparty no longer active")
	ErrDuplicateTransaction = errors.New("transaction already recorded for order")
)

// NotActiveError rejects an operation that requires an active order,
// carrying the order's current status for diagnostics.
type NotActiveError struct {
	Status string
}

func (e *NotActiveError) Error() string {
	return fmt.Sprintf("order is not active (status %s)", e.Status)
}

package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("order not found")
	// ErrConflict covers illegal transitions and optimistic-version misses.
	ErrConflict = errors.New("order state conflict")
	// ErrIdempotencyConflict: the idempotency key is already bound to a
	// checkout with a different payload.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different payload")
)

// ValidationError rejects a malformed checkout request.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// PriceDeviation reports one line item whose quoted price no longer matches
// the catalog.
type PriceDeviation struct {
	ProductID    string `json:"product_id"`
	QuotedCents  int64  `json:"quoted_cents"`
	CurrentCents int64  `json:"current_cents"`
}

// PriceStaleError carries the current prices so the caller can re-confirm the
// cart instead of being silently charged a new amount.
type PriceStaleError struct {
	Items []PriceDeviation
}

func (e *PriceStaleError) Error() string {
	return fmt.Sprintf("catalog price diverged for %d item(s)", len(e.Items))
}

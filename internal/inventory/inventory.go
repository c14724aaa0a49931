package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	StatusReserved  = "RESERVED"
	StatusCommitted = "COMMITTED"
	StatusReleased  = "RELEASED"
)

type Line struct {
	ProductID string `json:"product_id"`
	Qty       int64  `json:"qty"`
}

// Reservation is a temporary hold on stock owned by exactly one order. It
// moves to COMMITTED or RELEASED exactly once. Stock is decremented when the
// hold is taken, so COMMITTED only makes the decrement permanent and RELEASED
// adds the quantity back.
type Reservation struct {
	ID        string
	OrderID   string
	ProductID string
	Qty       int64
	Status    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type Shortage struct {
	ProductID string `json:"product_id"`
	Required  int64  `json:"required"`
	Available int64  `json:"available"`
}

// UnavailableError lists every short line so the caller can show which items
// to drop or reduce.
type UnavailableError struct {
	Shortages []Shortage
}

func (e *UnavailableError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s need %d have %d", s.ProductID, s.Required, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

// Ledger serializes reservation attempts per product so two checkouts for the
// last unit cannot both succeed.
type Ledger interface {
	// Reserve takes an all-or-nothing hold for the order. Any short line
	// aborts the whole call with *UnavailableError and nothing is kept.
	// Calling again for an order that already holds a reservation is a no-op.
	Reserve(ctx context.Context, orderID string, lines []Line, expiresAt time.Time) error
	// Commit makes the order's hold permanent. Idempotent.
	Commit(ctx context.Context, orderID string) error
	// Release returns the order's held quantity to availability. Idempotent.
	Release(ctx context.Context, orderID string) error
	// Available reports currently reservable stock for one product.
	Available(ctx context.Context, productID string) (int64, error)
}

package orders

import (
	"context"
	"time"

	"github.com/NAVEED261/Reusable-shop/internal/outbox"
)

// Store is the durable order repository. Every mutating method that accepts
// an outbox row must write it in the same transaction as the order change.
type Store interface {
	// CreateOrder persists the order plus its line items. When another order
	// already holds the idempotency key the stored order is returned with
	// created=false and nothing is written.
	CreateOrder(ctx context.Context, o *Order, note *outbox.Row) (stored *Order, created bool, err error)

	OrderByID(ctx context.Context, id string) (*Order, error)
	OrderByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	OrderByIntent(ctx context.Context, intentID string) (*Order, error)
	OrdersByCustomer(ctx context.Context, customerID string, limit int) ([]*Order, error)

	// AttachIntent moves created→awaiting_payment and persists the intent id
	// in the same conditional update. ErrConflict when the row moved.
	AttachIntent(ctx context.Context, orderID, intentID string, expectedVersion int64, note *outbox.Row) (*Order, error)

	// Transition applies one edge under an optimistic version check. reason
	// is persisted for terminal states. ErrConflict when the stored status or
	// version no longer match.
	Transition(ctx context.Context, orderID string, from, to Status, expectedVersion int64, reason string, note *outbox.Row) (*Order, error)

	// SweepCandidates lists orders still in created/awaiting_payment whose
	// reservations expired before cutoff.
	SweepCandidates(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error)

	// OrphanedHolds lists orders already in a terminal state that still own
	// an active reservation (a release that failed mid-flight).
	OrphanedHolds(ctx context.Context, limit int) ([]string, error)
}

// Catalog is the read-only product snapshot checkout validates prices
// against.
type Catalog interface {
	ProductsByID(ctx context.Context, ids []string) (map[string]Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

// Notifier observes committed status changes (status cache, live streams).
type Notifier interface {
	OrderChanged(ctx context.Context, o *Order)
}

// Notifiers fans one change out to several observers.
type Notifiers []Notifier

func (ns Notifiers) OrderChanged(ctx context.Context, o *Order) {
	for _, n := range ns {
		n.OrderChanged(ctx, o)
	}
}

// IdempotencyIndex is an optional fast lookup from checkout idempotency key
// to order id, consulted before the durable query. The store's unique key
// remains the source of truth; a stale or missing entry only costs a query.
type IdempotencyIndex interface {
	OrderIDForKey(ctx context.Context, key string) (orderID string, ok bool)
	RememberKey(ctx context.Context, key, orderID string)
}

package orders

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

type Product struct {
	ID         string    `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	Stock      int64     `json:"stock"`
	PriceCents int64     `json:"price_cents"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LineItem snapshots the unit price at checkout time. Catalog price changes
// after checkout never touch an existing order.
type LineItem struct {
	ProductID      string `json:"product_id"`
	Qty            int64  `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (li LineItem) SubtotalCents() int64 { return li.UnitPriceCents * li.Qty }

type Order struct {
	ID              string     `json:"id"`
	CustomerID      string     `json:"customer_id"`
	Email           string     `json:"email,omitempty"`
	ShippingAddress string     `json:"shipping_address,omitempty"`
	Currency        string     `json:"currency"`
	Status          Status     `json:"status"`
	TotalCents      int64      `json:"total_cents"`
	Items           []LineItem `json:"items"`
	IdempotencyKey  string     `json:"-"`
	Fingerprint     string     `json:"-"`
	PaymentIntentID string     `json:"payment_intent_id,omitempty"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	Version         int64      `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// StatusSnapshot is the cheap status-only projection served from the cache
// and pushed over the status stream.
type StatusSnapshot struct {
	OrderID   string    `json:"order_id"`
	Status    Status    `json:"status"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (o *Order) Snapshot() StatusSnapshot {
	return StatusSnapshot{OrderID: o.ID, Status: o.Status, Version: o.Version, UpdatedAt: o.UpdatedAt}
}

// CheckoutItem is a quoted cart line: the unit price the customer confirmed.
type CheckoutItem struct {
	ProductID      string `json:"product_id"`
	Qty            int64  `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type CheckoutInput struct {
	CustomerID      string         `json:"customer_id"`
	Email           string         `json:"email"`
	ShippingAddress string         `json:"shipping_address"`
	Currency        string         `json:"currency"`
	Items           []CheckoutItem `json:"items"`
	IdempotencyKey  string         `json:"-"`
}

// Fingerprint hashes the canonical form of the checkout payload. Two requests
// with the same idempotency key must carry the same fingerprint to be treated
// as retries of one another.
func (in CheckoutInput) Fingerprint() string {
	items := make([]CheckoutItem, len(in.Items))
	copy(items, in.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	canon := struct {
		CustomerID      string         `json:"customer_id"`
		Email           string         `json:"email"`
		ShippingAddress string         `json:"shipping_address"`
		Currency        string         `json:"currency"`
		Items           []CheckoutItem `json:"items"`
	}{in.CustomerID, in.Email, in.ShippingAddress, in.Currency, items}

	raw, _ := json.Marshal(canon)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

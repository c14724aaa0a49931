package redisx

import "time"

const (
	// Checkout idempotency fast path: idem:checkout:{key} -> order_id
	keyIdemCheckout = "idem:checkout:%s"

	// Status cache: order_status:{order_id} -> StatusSnapshot JSON
	keyOrderStatus = "order_status:%s"

	// Webhook dedup fast path: dedup:webhook:{event_id} -> 1
	keyDedupWebhook = "dedup:webhook:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

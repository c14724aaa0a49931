package orders

// Broker topics fed through the outbox. Rows are keyed by order id so every
// event for one order lands on one partition, in order.
const (
	TopicOrderCreated = "order.created"
	TopicOrderStatus  = "order.status"
)

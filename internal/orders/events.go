package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/NAVEED261/Reusable-shop/internal/outbox"
)

const (
	EventOrderCreated  = "OrderCreated"
	EventStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID    string     `json:"order_id"`
	CustomerID string     `json:"customer_id"`
	Currency   string     `json:"currency"`
	Items      []LineItem `json:"items"`
	TotalCents int64      `json:"total_cents"`
}

type StatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
	Version int64  `json:"version"`
	Reason  string `json:"reason,omitempty"`
}

func newEnvelope(ctx context.Context, producer, eventType, orderID string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	env := &Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       raw,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		env.TraceID = sc.TraceID().String()
	}
	return env, nil
}

// CreatedRow builds the outbox row announcing a new order.
func CreatedRow(ctx context.Context, producer string, o *Order) (*outbox.Row, error) {
	env, err := newEnvelope(ctx, producer, EventOrderCreated, o.ID, OrderCreatedPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Currency:   o.Currency,
		Items:      o.Items,
		TotalCents: o.TotalCents,
	})
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return &outbox.Row{Topic: TopicOrderCreated, Key: o.ID, Payload: raw}, nil
}

// StatusRow builds the outbox row announcing a transition. version is the
// order's version after the transition commits.
func StatusRow(ctx context.Context, producer, orderID string, from, to Status, version int64, reason string) (*outbox.Row, error) {
	env, err := newEnvelope(ctx, producer, EventStatusChanged, orderID, StatusChangedPayload{
		OrderID: orderID,
		From:    from,
		To:      to,
		Version: version,
		Reason:  reason,
	})
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return &outbox.Row{Topic: TopicOrderStatus, Key: orderID, Payload: raw}, nil
}

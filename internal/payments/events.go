package payments

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Provider event types this core reacts to. Anything else is acknowledged
// and logged without effect.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventIntentCanceled  = "payment_intent.canceled"
	EventIntentRefunded  = "payment_intent.refunded"
)

// VerifiedEvent is a webhook event whose signature checked out.
type VerifiedEvent struct {
	ID        string
	Type      string
	IntentID  string
	OrderID   string // metadata hint; intent id is authoritative
	CreatedAt time.Time
	Checksum  string
	Raw       []byte
}

type eventPayload struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID       string            `json:"id"`
			Status   string            `json:"status"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

func parseEvent(raw []byte) (*VerifiedEvent, error) {
	var p eventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrBadPayload
	}
	if p.ID == "" || p.Type == "" {
		return nil, ErrBadPayload
	}
	sum := sha256.Sum256(raw)
	return &VerifiedEvent{
		ID:        p.ID,
		Type:      p.Type,
		IntentID:  p.Data.Object.ID,
		OrderID:   p.Data.Object.Metadata["order_id"],
		CreatedAt: time.Unix(p.Created, 0).UTC(),
		Checksum:  hex.EncodeToString(sum[:]),
		Raw:       raw,
	}, nil
}

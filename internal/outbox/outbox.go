package outbox

import (
	"context"
	"time"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
)

// Row is one event written in the same transaction as the state change it
// announces, published to the broker by the dispatcher afterwards.
type Row struct {
	ID        int64
	Topic     string
	Key       string
	Payload   []byte
	Status    string
	Attempts  int
	NextRetry time.Time
	CreatedAt time.Time
}

// Source hands out claimed rows and records publish outcomes. Claim must move
// the returned rows to processing with a lease of `hold`, so a crashed
// dispatcher releases them automatically.
type Source interface {
	Claim(ctx context.Context, limit int, hold time.Duration) ([]Row, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, nextRetry time.Time) error
}

// Publisher pushes one payload to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, payload []byte) error
}

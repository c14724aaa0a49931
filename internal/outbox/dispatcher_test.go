package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeSource struct {
	mu     sync.Mutex
	rows   []Row
	sent   []int64
	failed map[int64]time.Time
}

func (f *fakeSource) Claim(_ context.Context, limit int, _ time.Duration) ([]Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.rows) {
		limit = len(f.rows)
	}
	out := f.rows[:limit]
	f.rows = f.rows[limit:]
	return out, nil
}

func (f *fakeSource) MarkSent(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeSource) MarkFailed(_ context.Context, id int64, nextRetry time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed == nil {
		f.failed = make(map[int64]time.Time)
	}
	f.failed[id] = nextRetry
	return nil
}

type sentMsg struct {
	topic string
	key   string
}

type fakePublisher struct {
	mu      sync.Mutex
	failKey string
	msgs    []sentMsg
}

func (f *fakePublisher) Publish(_ context.Context, topic string, key, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKey != "" && string(key) == f.failKey {
		return errors.New("broker unreachable")
	}
	f.msgs = append(f.msgs, sentMsg{topic: topic, key: string(key)})
	return nil
}

func row(id int64) Row {
	return Row{
		ID:      id,
		Topic:   "order.status",
		Key:     fmt.Sprintf("ord-%d", id),
		Payload: []byte(`{"seq":1}`),
	}
}

func TestDispatchPublishesAndMarksSent(t *testing.T) {
	src := &fakeSource{rows: []Row{row(1), row(2)}}
	pub := &fakePublisher{}
	d := NewDispatcher(src, pub, time.Second, 10, zap.NewNop(), nil)

	if err := d.dispatch(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(pub.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.msgs))
	}
	if pub.msgs[0].topic != "order.status" || pub.msgs[0].key != "ord-1" {
		t.Fatalf("unexpected first message %+v", pub.msgs[0])
	}
	if len(src.sent) != 2 || src.sent[0] != 1 || src.sent[1] != 2 {
		t.Fatalf("marked sent %v, want [1 2]", src.sent)
	}
	if len(src.failed) != 0 {
		t.Fatalf("unexpected failures %v", src.failed)
	}
}

func TestDispatchFailureSchedulesRetry(t *testing.T) {
	src := &fakeSource{rows: []Row{row(1), row(2)}}
	pub := &fakePublisher{failKey: "ord-1"}
	d := NewDispatcher(src, pub, time.Second, 10, zap.NewNop(), nil)

	before := time.Now()
	if err := d.dispatch(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	next, ok := src.failed[1]
	if !ok {
		t.Fatal("failed row was not rescheduled")
	}
	// first failure backs off by retryDelay(1) = 2s
	if next.Before(before.Add(time.Second)) || next.After(before.Add(5*time.Second)) {
		t.Fatalf("next retry %v not within the expected backoff window", next.Sub(before))
	}
	if len(src.sent) != 1 || src.sent[0] != 2 {
		t.Fatalf("marked sent %v, want [2]", src.sent)
	}
	// one row failing must not block the rest of the batch
	if len(pub.msgs) != 1 || pub.msgs[0].key != "ord-2" {
		t.Fatalf("published %+v, want only ord-2", pub.msgs)
	}
}

func TestDispatchRespectsBatchLimit(t *testing.T) {
	src := &fakeSource{rows: []Row{row(1), row(2), row(3)}}
	pub := &fakePublisher{}
	d := NewDispatcher(src, pub, time.Second, 2, zap.NewNop(), nil)

	if err := d.dispatch(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(pub.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.msgs))
	}
}

func TestRetryDelayBackoff(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{12, 32 * time.Second},
	}
	for _, c := range cases {
		if got := retryDelay(c.attempts); got != c.want {
			t.Errorf("retryDelay(%d) = %v, want %v", c.attempts, got, c.want)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &fakeSource{}
	pub := &fakePublisher{}
	d := NewDispatcher(src, pub, 10*time.Millisecond, 10, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

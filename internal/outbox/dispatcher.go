package outbox

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	claimHold      = 30 * time.Second
	publishTimeout = 5 * time.Second
)

// Dispatcher polls the outbox and publishes claimed rows. Rows that fail to
// publish are rescheduled with exponential backoff and retried forever; the
// broker consumer side is expected to deduplicate on event id.
type Dispatcher struct {
	source    Source
	publisher Publisher
	interval  time.Duration
	batch     int
	logger    *zap.Logger
	published *prometheus.CounterVec
}

func NewDispatcher(source Source, publisher Publisher, interval time.Duration, batch int, logger *zap.Logger, published *prometheus.CounterVec) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batch <= 0 {
		batch = 32
	}
	return &Dispatcher{
		source:    source,
		publisher: publisher,
		interval:  interval,
		batch:     batch,
		logger:    logger,
		published: published,
	}
}

// Run blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.dispatch(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("outbox dispatch failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context) error {
	rows, err := d.source.Claim(ctx, d.batch, claimHold)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if err := d.publishOne(ctx, row); err != nil {
			d.logger.Warn("publish outbox row failed",
				zap.Int64("row_id", row.ID),
				zap.String("topic", row.Topic),
				zap.Int("attempts", row.Attempts),
				zap.Error(err))
		}
	}
	return nil
}

func (d *Dispatcher) publishOne(ctx context.Context, row Row) error {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := d.publisher.Publish(pubCtx, row.Topic, []byte(row.Key), row.Payload); err != nil {
		d.count("failed")
		if markErr := d.source.MarkFailed(ctx, row.ID, time.Now().Add(retryDelay(row.Attempts+1))); markErr != nil {
			d.logger.Error("mark outbox failure failed", zap.Int64("row_id", row.ID), zap.Error(markErr))
		}
		return err
	}

	d.count("sent")
	return d.source.MarkSent(ctx, row.ID)
}

func (d *Dispatcher) count(status string) {
	if d.published != nil {
		d.published.WithLabelValues(status).Inc()
	}
}

func retryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 5 {
		attempts = 5
	}
	delay := time.Duration(1<<attempts) * time.Second
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NAVEED261/Reusable-shop/internal/orders"
	"github.com/NAVEED261/Reusable-shop/internal/outbox"
	"github.com/NAVEED261/Reusable-shop/internal/payments"
)

type ApplyResult string

const (
	ResultApplied    ApplyResult = "applied"
	ResultDuplicate  ApplyResult = "duplicate"
	ResultSuperseded ApplyResult = "superseded"
	ResultIgnored    ApplyResult = "ignored"
)

// EventRecord is the durable dedup row for one provider event.
type EventRecord struct {
	EventID    string
	Type       string
	IntentID   string
	OrderID    string
	Checksum   string
	ReceivedAt time.Time
}

type Effect int

const (
	EffectNone Effect = iota
	EffectCommit
	EffectRelease
)

// Change is the atomic unit ApplyEvent commits: event row, order transition,
// inventory effect and outbox row together or not at all.
type Change struct {
	Event           EventRecord
	OrderID         string
	From, To        orders.Status
	ExpectedVersion int64
	Reason          string
	Effect          Effect
	Note            *outbox.Row
}

type Store interface {
	EventKnown(ctx context.Context, eventID string) (bool, error)
	// RecordEvent stores the dedup row with no order effect (late events).
	// inserted is false when the id was already present.
	RecordEvent(ctx context.Context, rec EventRecord) (inserted bool, err error)
	// ApplyEvent commits the change atomically. duplicate reports a
	// pre-existing event id with nothing written; a status/version miss
	// returns orders.ErrConflict with nothing written.
	ApplyEvent(ctx context.Context, ch Change) (applied *orders.Order, duplicate bool, err error)
	OrderByIntent(ctx context.Context, intentID string) (*orders.Order, error)
}

// DedupCache is an optional fast path in front of the durable event table.
type DedupCache interface {
	SeenEvent(ctx context.Context, eventID string) bool
	MarkEvent(ctx context.Context, eventID string)
}

type Engine struct {
	store    Store
	cache    DedupCache
	notifier orders.Notifier
	logger   *zap.Logger
	tracer   trace.Tracer
	results  *prometheus.CounterVec
	producer string
	now      func() time.Time
}

func NewEngine(store Store, cache DedupCache, notifier orders.Notifier, logger *zap.Logger, results *prometheus.CounterVec, producer string) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:    store,
		cache:    cache,
		notifier: notifier,
		logger:   logger,
		tracer:   otel.Tracer("reconcile"),
		results:  results,
		producer: producer,
		now:      time.Now,
	}
}

func transitionFor(eventType string) (orders.Status, Effect, bool) {
	switch eventType {
	case payments.EventIntentSucceeded:
		return orders.StatusPaid, EffectCommit, true
	case payments.EventIntentFailed:
		return orders.StatusFailed, EffectRelease, true
	case payments.EventIntentCanceled:
		return orders.StatusCancelled, EffectRelease, true
	case payments.EventIntentRefunded:
		return orders.StatusRefunded, EffectNone, true
	default:
		return "", EffectNone, false
	}
}

func reasonFor(eventType string) string {
	switch eventType {
	case payments.EventIntentFailed:
		return "payment failed"
	case payments.EventIntentCanceled:
		return "payment cancelled"
	default:
		return ""
	}
}

// Apply reconciles one verified provider event with the order it references.
// Duplicates and late events are absorbed as no-ops; genuinely conflicting
// events return orders.ErrConflict without recording the event, so a
// corrected retry can still land.
func (e *Engine) Apply(ctx context.Context, evt *payments.VerifiedEvent) (ApplyResult, *orders.Order, error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.Apply")
	defer span.End()

	to, effect, handled := transitionFor(evt.Type)
	if !handled {
		e.logger.Info("unhandled provider event type ignored",
			zap.String("event_id", evt.ID), zap.String("type", evt.Type))
		e.count(ResultIgnored)
		return ResultIgnored, nil, nil
	}

	if e.cache != nil && e.cache.SeenEvent(ctx, evt.ID) {
		e.count(ResultDuplicate)
		return ResultDuplicate, nil, nil
	}
	known, err := e.store.EventKnown(ctx, evt.ID)
	if err != nil {
		return "", nil, err
	}
	if known {
		e.markSeen(ctx, evt.ID)
		e.count(ResultDuplicate)
		return ResultDuplicate, nil, nil
	}

	o, err := e.store.OrderByIntent(ctx, evt.IntentID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			// A verified event for an intent we never issued is a
			// consistency bug, not a benign race.
			e.logger.Error("anomaly: webhook references unknown intent",
				zap.String("event_id", evt.ID),
				zap.String("intent_id", evt.IntentID),
				zap.String("order_hint", evt.OrderID))
		}
		return "", nil, err
	}

	rec := EventRecord{
		EventID:    evt.ID,
		Type:       evt.Type,
		IntentID:   evt.IntentID,
		OrderID:    o.ID,
		Checksum:   evt.Checksum,
		ReceivedAt: e.now().UTC(),
	}

	// The order already holds the target state or one past it: a delayed
	// delivery. Record the id so replays keep no-opping, never regress.
	if o.Status == to || orders.ReachableFrom(to, o.Status) {
		inserted, err := e.store.RecordEvent(ctx, rec)
		if err != nil {
			return "", nil, err
		}
		e.markSeen(ctx, evt.ID)
		if !inserted {
			e.count(ResultDuplicate)
			return ResultDuplicate, o, nil
		}
		e.logger.Warn("anomaly: payment event superseded by later order state",
			zap.String("event_id", evt.ID),
			zap.String("order_id", o.ID),
			zap.String("event_target", string(to)),
			zap.String("order_status", string(o.Status)))
		e.count(ResultSuperseded)
		return ResultSuperseded, o, nil
	}

	if !orders.CanTransition(o.Status, to) {
		e.logger.Error("anomaly: conflicting payment event rejected",
			zap.String("event_id", evt.ID),
			zap.String("order_id", o.ID),
			zap.String("event_target", string(to)),
			zap.String("order_status", string(o.Status)))
		e.count("conflict")
		return "", nil, fmt.Errorf("%w: event %s implies %s -> %s", orders.ErrConflict, evt.ID, o.Status, to)
	}

	note, err := orders.StatusRow(ctx, e.producer, o.ID, o.Status, to, o.Version+1, reasonFor(evt.Type))
	if err != nil {
		return "", nil, err
	}

	applied, duplicate, err := e.store.ApplyEvent(ctx, Change{
		Event:           rec,
		OrderID:         o.ID,
		From:            o.Status,
		To:              to,
		ExpectedVersion: o.Version,
		Reason:          reasonFor(evt.Type),
		Effect:          effect,
		Note:            note,
	})
	if err != nil {
		// A concurrent writer moved the order between our read and the
		// conditional update; nothing was recorded, the provider's retry
		// re-reads fresh state.
		e.count("conflict")
		return "", nil, err
	}
	if duplicate {
		e.markSeen(ctx, evt.ID)
		e.count(ResultDuplicate)
		return ResultDuplicate, o, nil
	}

	e.markSeen(ctx, evt.ID)
	if e.notifier != nil {
		e.notifier.OrderChanged(ctx, applied)
	}
	e.count(ResultApplied)
	return ResultApplied, applied, nil
}

func (e *Engine) markSeen(ctx context.Context, eventID string) {
	if e.cache != nil {
		e.cache.MarkEvent(ctx, eventID)
	}
}

func (e *Engine) count(result ApplyResult) {
	if e.results != nil {
		e.results.WithLabelValues(string(result)).Inc()
	}
}

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/NAVEED261/Reusable-shop/internal/orders"
	"github.com/NAVEED261/Reusable-shop/internal/reconcile"
)

func (s *Store) EventKnown(ctx context.Context, eventID string) (bool, error) {
	var known bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM payment_events WHERE event_id = $1)`, eventID).Scan(&known)
	return known, err
}

// RecordEvent stores the dedup row with no order effect. The primary key
// decides: inserted=false means another delivery got there first.
func (s *Store) RecordEvent(ctx context.Context, rec reconcile.EventRecord) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		INSERT INTO payment_events (event_id, type, intent_id, order_id, checksum, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID, rec.Type, rec.IntentID, rec.OrderID, rec.Checksum, rec.ReceivedAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// ApplyEvent commits the event row, the order transition, the inventory
// effect and the outbox note in one transaction. The unique insert doubles as
// the duplicate gate; a CAS miss rolls the whole unit back.
func (s *Store) ApplyEvent(ctx context.Context, ch reconcile.Change) (*orders.Order, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		INSERT INTO payment_events (event_id, type, intent_id, order_id, checksum, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`,
		ch.Event.EventID, ch.Event.Type, ch.Event.IntentID, ch.Event.OrderID, ch.Event.Checksum, ch.Event.ReceivedAt)
	if err != nil {
		return nil, false, err
	}
	if ct.RowsAffected() == 0 {
		return nil, true, nil
	}

	applied, err := transitionTx(ctx, tx, ch.OrderID, ch.From, ch.To, ch.ExpectedVersion, ch.Reason, ch.Note)
	if err != nil {
		return nil, false, err
	}

	switch ch.Effect {
	case reconcile.EffectCommit:
		if err := commitTx(ctx, tx, ch.OrderID); err != nil {
			return nil, false, err
		}
	case reconcile.EffectRelease:
		if err := releaseTx(ctx, tx, ch.OrderID); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return applied, false, nil
}

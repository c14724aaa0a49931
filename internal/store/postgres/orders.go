package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/NAVEED261/Reusable-shop/internal/orders"
	"github.com/NAVEED261/Reusable-shop/internal/outbox"
)

const orderColumns = `id, customer_id, email, shipping_address, currency, status, total_cents,
       idempotency_key, fingerprint, COALESCE(payment_intent_id, ''), failure_reason,
       version, created_at, updated_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var o orders.Order
	var status string
	err := row.Scan(&o.ID, &o.CustomerID, &o.Email, &o.ShippingAddress, &o.Currency, &status,
		&o.TotalCents, &o.IdempotencyKey, &o.Fingerprint, &o.PaymentIntentID, &o.FailureReason,
		&o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, orders.ErrNotFound
		}
		return nil, err
	}
	o.Status = orders.Status(status)
	return &o, nil
}

func loadItems(ctx context.Context, q querier, o *orders.Order) error {
	rows, err := q.Query(ctx, `
		SELECT product_id, qty, unit_price_cents
		FROM order_items
		WHERE order_id = $1
		ORDER BY product_id`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var it orders.LineItem
		if err := rows.Scan(&it.ProductID, &it.Qty, &it.UnitPriceCents); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func getOrder(ctx context.Context, q querier, where string, arg any) (*orders.Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if err != nil {
		return nil, err
	}
	if err := loadItems(ctx, q, o); err != nil {
		return nil, err
	}
	return o, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, note *outbox.Row) error {
	if note == nil {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (topic, key, payload)
		VALUES ($1, $2, $3)`,
		note.Topic, note.Key, note.Payload)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}

// CreateOrder inserts the order, its items and the outbox note in one
// transaction. A concurrent insert with the same idempotency key is resolved
// by ON CONFLICT DO NOTHING: the loser gets the winner's row and created=false.
func (s *Store) CreateOrder(ctx context.Context, o *orders.Order, note *outbox.Row) (*orders.Order, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		INSERT INTO orders (id, customer_id, email, shipping_address, currency, status,
		                    total_cents, idempotency_key, fingerprint, failure_reason,
		                    version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', $10, $11, $11)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		o.ID, o.CustomerID, o.Email, o.ShippingAddress, o.Currency, string(o.Status),
		o.TotalCents, o.IdempotencyKey, o.Fingerprint, o.Version, o.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	if ct.RowsAffected() == 0 {
		existing, err := getOrder(ctx, tx, `idempotency_key = $1`, o.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, qty, unit_price_cents)
			VALUES ($1, $2, $3, $4)`,
			o.ID, it.ProductID, it.Qty, it.UnitPriceCents); err != nil {
			return nil, false, err
		}
	}
	if err := insertOutbox(ctx, tx, note); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}

	stored := *o
	return &stored, true, nil
}

func (s *Store) OrderByID(ctx context.Context, id string) (*orders.Order, error) {
	return getOrder(ctx, s.pool, `id = $1`, id)
}

func (s *Store) OrderByIdempotencyKey(ctx context.Context, key string) (*orders.Order, error) {
	return getOrder(ctx, s.pool, `idempotency_key = $1`, key)
}

func (s *Store) OrderByIntent(ctx context.Context, intentID string) (*orders.Order, error) {
	return getOrder(ctx, s.pool, `payment_intent_id = $1`, intentID)
}

func (s *Store) OrdersByCustomer(ctx context.Context, customerID string, limit int) ([]*orders.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, o := range out {
		if err := loadItems(ctx, s.pool, o); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AttachIntent flips created→awaiting_payment and stores the intent id in one
// conditional update.
func (s *Store) AttachIntent(ctx context.Context, orderID, intentID string, expectedVersion int64, note *outbox.Row) (*orders.Order, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		UPDATE orders
		SET payment_intent_id = $2, status = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND status = $4 AND version = $5`,
		orderID, intentID, string(orders.StatusAwaitingPayment), string(orders.StatusCreated), expectedVersion)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() == 0 {
		return nil, casMiss(ctx, tx, orderID)
	}
	if err := insertOutbox(ctx, tx, note); err != nil {
		return nil, err
	}
	updated, err := getOrder(ctx, tx, `id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// Transition applies one status edge under the optimistic version check and
// writes the outbox note in the same transaction.
func (s *Store) Transition(ctx context.Context, orderID string, from, to orders.Status, expectedVersion int64, reason string, note *outbox.Row) (*orders.Order, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	updated, err := transitionTx(ctx, tx, orderID, from, to, expectedVersion, reason, note)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func transitionTx(ctx context.Context, tx pgx.Tx, orderID string, from, to orders.Status, expectedVersion int64, reason string, note *outbox.Row) (*orders.Order, error) {
	ct, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $2,
		    version = version + 1,
		    failure_reason = CASE WHEN $3 <> '' THEN $3 ELSE failure_reason END,
		    updated_at = now()
		WHERE id = $1 AND status = $4 AND version = $5`,
		orderID, string(to), reason, string(from), expectedVersion)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() == 0 {
		return nil, casMiss(ctx, tx, orderID)
	}
	if err := insertOutbox(ctx, tx, note); err != nil {
		return nil, err
	}
	return getOrder(ctx, tx, `id = $1`, orderID)
}

// casMiss tells a vanished order apart from a concurrent writer.
func casMiss(ctx context.Context, q querier, orderID string) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return orders.ErrNotFound
	}
	return orders.ErrConflict
}

func (s *Store) SweepCandidates(ctx context.Context, cutoff time.Time, limit int) ([]*orders.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT `+prefixedOrderColumns("o")+`
		FROM orders o
		JOIN reservations r ON r.order_id = o.id
		WHERE o.status = ANY($1)
		  AND r.status = 'RESERVED'
		  AND r.expires_at <= $2
		ORDER BY o.created_at
		LIMIT $3`,
		[]string{string(orders.StatusCreated), string(orders.StatusAwaitingPayment)}, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) OrphanedHolds(ctx context.Context, limit int) ([]string, error) {
	terminal := make([]string, 0, 4)
	for _, st := range orders.TerminalStatuses() {
		terminal = append(terminal, string(st))
	}
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT r.order_id
		FROM reservations r
		JOIN orders o ON o.id = r.order_id
		WHERE r.status = 'RESERVED' AND o.status = ANY($1)
		LIMIT $2`, terminal, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func prefixedOrderColumns(alias string) string {
	return alias + `.id, ` + alias + `.customer_id, ` + alias + `.email, ` + alias + `.shipping_address, ` +
		alias + `.currency, ` + alias + `.status, ` + alias + `.total_cents, ` + alias + `.idempotency_key, ` +
		alias + `.fingerprint, COALESCE(` + alias + `.payment_intent_id, ''), ` + alias + `.failure_reason, ` +
		alias + `.version, ` + alias + `.created_at, ` + alias + `.updated_at`
}

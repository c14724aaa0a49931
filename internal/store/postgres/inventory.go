package postgres

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/NAVEED261/Reusable-shop/internal/inventory"
)

// Reserve takes an all-or-nothing hold for the order. Product rows are locked
// FOR UPDATE in product-id order so concurrent multi-line reserves cannot
// deadlock. Lock waits are bounded by lock_timeout; a timed-out line is
// reported as unavailable rather than blocking the checkout.
func (s *Store) Reserve(ctx context.Context, orderID string, lines []inventory.Line, expiresAt time.Time) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SET LOCAL lock_timeout = '2s'`); err != nil {
		return err
	}

	var held int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM reservations
		WHERE order_id = $1 AND status = 'RESERVED'`, orderID).Scan(&held); err != nil {
		return err
	}
	if held > 0 {
		return nil // the order already holds its reservation
	}

	sorted := make([]inventory.Line, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	var shortages []inventory.Shortage
	for _, line := range sorted {
		var stock int64
		err := tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, line.ProductID).Scan(&stock)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				shortages = append(shortages, inventory.Shortage{ProductID: line.ProductID, Required: line.Qty})
				continue
			}
			if lockTimedOut(err) {
				// The aborted transaction can collect nothing further;
				// report the contended line and fail fast.
				return &inventory.UnavailableError{Shortages: []inventory.Shortage{
					{ProductID: line.ProductID, Required: line.Qty},
				}}
			}
			return err
		}
		if stock < line.Qty {
			shortages = append(shortages, inventory.Shortage{
				ProductID: line.ProductID, Required: line.Qty, Available: stock,
			})
			continue
		}

		if _, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock - $2, updated_at = now()
			WHERE id = $1`, line.ProductID, line.Qty); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations (id, order_id, product_id, qty, status, expires_at)
			VALUES ($1, $2, $3, $4, 'RESERVED', $5)
			ON CONFLICT (order_id, product_id) DO NOTHING`,
			uuid.NewString(), orderID, line.ProductID, line.Qty, expiresAt); err != nil {
			return err
		}
	}

	if len(shortages) > 0 {
		return &inventory.UnavailableError{Shortages: shortages} // rollback via defer
	}
	return tx.Commit(ctx)
}

// Commit makes the order's hold permanent. The status predicate makes it
// idempotent and resolves commit/release races: only RESERVED rows flip.
func (s *Store) Commit(ctx context.Context, orderID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reservations SET status = 'COMMITTED'
		WHERE order_id = $1 AND status = 'RESERVED'`, orderID)
	return err
}

func commitTx(ctx context.Context, tx pgx.Tx, orderID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE reservations SET status = 'COMMITTED'
		WHERE order_id = $1 AND status = 'RESERVED'`, orderID)
	return err
}

func (s *Store) Release(ctx context.Context, orderID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := releaseTx(ctx, tx, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// releaseTx flips the hold first and restocks what it actually flipped, so a
// racing Commit cannot be double-counted.
func releaseTx(ctx context.Context, tx pgx.Tx, orderID string) error {
	rows, err := tx.Query(ctx, `
		UPDATE reservations SET status = 'RELEASED'
		WHERE order_id = $1 AND status = 'RESERVED'
		RETURNING product_id, qty`, orderID)
	if err != nil {
		return err
	}
	type freed struct {
		productID string
		qty       int64
	}
	var released []freed
	for rows.Next() {
		var f freed
		if err := rows.Scan(&f.productID, &f.qty); err != nil {
			rows.Close()
			return err
		}
		released = append(released, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, f := range released {
		if _, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock + $2, updated_at = now()
			WHERE id = $1`, f.productID, f.qty); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Available(ctx context.Context, productID string) (int64, error) {
	var stock int64
	err := s.pool.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return stock, nil
}

func lockTimedOut(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55P03"
}

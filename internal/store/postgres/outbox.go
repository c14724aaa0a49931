package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/NAVEED261/Reusable-shop/internal/outbox"
)

// Claim locks a batch of due rows with SKIP LOCKED so concurrent dispatchers
// never double-publish, and leases them for hold.
func (s *Store) Claim(ctx context.Context, limit int, hold time.Duration) ([]outbox.Row, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, topic, key, payload, attempts
		FROM outbox
		WHERE status IN ('pending', 'processing') AND next_retry <= now()
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}

	var claimed []outbox.Row
	for rows.Next() {
		var row outbox.Row
		if err := rows.Scan(&row.ID, &row.Topic, &row.Key, &row.Payload, &row.Attempts); err != nil {
			rows.Close()
			return nil, err
		}
		row.Status = outbox.StatusProcessing
		claimed = append(claimed, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	releaseAt := time.Now().Add(hold)
	for i := range claimed {
		claimed[i].NextRetry = releaseAt
		if _, err := tx.Exec(ctx, `
			UPDATE outbox SET status = 'processing', next_retry = $2
			WHERE id = $1`, claimed[i].ID, releaseAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Store) MarkSent(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET status = 'sent' WHERE id = $1`, id)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id int64, nextRetry time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET status = 'pending', attempts = attempts + 1, next_retry = $2
		WHERE id = $1`, id, nextRetry)
	return err
}

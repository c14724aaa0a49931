package postgres

import (
	"context"

	"github.com/NAVEED261/Reusable-shop/internal/orders"
)

func (s *Store) ProductsByID(ctx context.Context, ids []string) (map[string]orders.Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sku, name, stock, price_cents, created_at, updated_at
		FROM products
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]orders.Product, len(ids))
	for rows.Next() {
		var p orders.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.PriceCents, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sku, name, stock, price_cents, created_at, updated_at
		FROM products
		ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		var p orders.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.PriceCents, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/shipping"
)

const getShippingMethodSQL = `SELECT id, code, name, base_cost, free_shipping_threshold, active
	FROM shipping_methods WHERE id = $1 AND active`

// GetShippingMethod returns an active shipping method.
func (q *Queries) GetShippingMethod(ctx context.Context, id int64) (*shipping.Method, error) {
	rows, err := q.db.Query(ctx, getShippingMethodSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting shipping method %d: %w", id, err)
	}

	m, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (shipping.Method, error) {
		var m shipping.Method
		err := row.Scan(&m.ID, &m.Code, &m.Name, &m.BaseCost, &m.FreeShippingThreshold, &m.Active)
		return m, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shipping.ErrNotFound
		}
		return nil, fmt.Errorf("getting shipping method %d: %w", id, err)
	}
	return &m, nil
}

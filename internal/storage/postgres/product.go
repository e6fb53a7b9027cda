package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/product"
)

const (
	variantColumns = `v.id, v.product_id, v.sku, p.name, v.name, v.price, v.sale_price,
		v.sale_starts_at, v.sale_ends_at, p.allow_backorder, p.min_order_qty, p.max_order_qty,
		COALESCE(s.quantity_on_hand - s.quantity_reserved, 0)`

	variantJoins = `JOIN products p ON p.id = v.product_id
		LEFT JOIN stock_levels s ON s.variant_id = v.id AND s.warehouse_id = $1`

	getVariantSQL = `SELECT ` + variantColumns + `
		FROM product_variants v ` + variantJoins + `
		WHERE v.id = $2 AND v.active AND p.active`

	lockVariantsSQL = `SELECT ` + variantColumns + `
		FROM product_variants v ` + variantJoins + `
		WHERE v.id = ANY($2) AND v.active AND p.active
		ORDER BY v.id
		FOR UPDATE OF v`
)

// GetVariant returns an active variant with its available stock.
func (q *Queries) GetVariant(ctx context.Context, id int64) (*product.Variant, error) {
	rows, err := q.db.Query(ctx, getVariantSQL, q.warehouseID, id)
	if err != nil {
		return nil, fmt.Errorf("getting variant %d: %w", id, err)
	}

	v, err := pgx.CollectExactlyOneRow(rows, scanVariant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting variant %d: %w", id, err)
	}
	return &v, nil
}

// LockVariants takes row locks on the variants in ascending id order.
func (q *Queries) LockVariants(ctx context.Context, ids []int64) ([]product.Variant, error) {
	rows, err := q.db.Query(ctx, lockVariantsSQL, q.warehouseID, ids)
	if err != nil {
		return nil, fmt.Errorf("locking variants: %w", err)
	}
	vs, err := pgx.CollectRows(rows, scanVariant)
	if err != nil {
		return nil, fmt.Errorf("locking variants: %w", err)
	}
	return vs, nil
}

func scanVariant(row pgx.CollectableRow) (product.Variant, error) {
	var v product.Variant
	err := row.Scan(variantDest(&v)...)
	return v, err
}

// variantDest lists scan targets matching variantColumns.
func variantDest(v *product.Variant) []any {
	return []any{
		&v.ID, &v.ProductID, &v.SKU, &v.ProductName, &v.Name, &v.Price, &v.SalePrice,
		&v.SaleStartsAt, &v.SaleEndsAt, &v.AllowBackorder, &v.MinOrderQty, &v.MaxOrderQty,
		&v.Stock,
	}
}

package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

const codeForeignKeyViolation = "23503"

const (
	getStockLevelSQL = `SELECT variant_id, warehouse_id, quantity_on_hand, quantity_reserved, updated_at
		FROM stock_levels WHERE variant_id = $1 AND warehouse_id = $2`

	decrementStockSQL = `UPDATE stock_levels
		SET quantity_on_hand = quantity_on_hand - $3, updated_at = now()
		WHERE variant_id = $1 AND warehouse_id = $2
		AND quantity_on_hand - quantity_reserved >= $3`

	incrementStockSQL = `INSERT INTO stock_levels (variant_id, warehouse_id, quantity_on_hand)
		VALUES ($1, $2, $3)
		ON CONFLICT (variant_id, warehouse_id) DO UPDATE
		SET quantity_on_hand = stock_levels.quantity_on_hand + EXCLUDED.quantity_on_hand,
			updated_at = now()`

	appendMovementSQL = `INSERT INTO stock_movements (variant_id, warehouse_id, movement_type, quantity, reference, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	listMovementsSQL = `SELECT id, variant_id, warehouse_id, movement_type, quantity, reference, note, created_at
		FROM stock_movements WHERE variant_id = $1
		ORDER BY id DESC LIMIT $2`
)

// StockLevel returns the level row or a zero Level when none exists.
func (q *Queries) StockLevel(ctx context.Context, variantID, warehouseID int64) (stock.Level, error) {
	rows, err := q.db.Query(ctx, getStockLevelSQL, variantID, warehouseID)
	if err != nil {
		return stock.Level{}, fmt.Errorf("getting stock level of variant %d: %w", variantID, err)
	}

	lvl, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (stock.Level, error) {
		var l stock.Level
		err := row.Scan(&l.VariantID, &l.WarehouseID, &l.OnHand, &l.Reserved, &l.UpdatedAt)
		return l, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stock.Level{VariantID: variantID, WarehouseID: warehouseID}, nil
		}
		return stock.Level{}, fmt.Errorf("getting stock level of variant %d: %w", variantID, err)
	}
	return lvl, nil
}

// DecrementStock is the conditional update guarding against negative stock.
func (q *Queries) DecrementStock(ctx context.Context, variantID, warehouseID int64, qty int) (bool, error) {
	tag, err := q.db.Exec(ctx, decrementStockSQL, variantID, warehouseID, qty)
	if err != nil {
		return false, fmt.Errorf("decrementing stock of variant %d: %w", variantID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementStock adds qty on hand, creating the level row if needed.
func (q *Queries) IncrementStock(ctx context.Context, variantID, warehouseID int64, qty int) error {
	if _, err := q.db.Exec(ctx, incrementStockSQL, variantID, warehouseID, qty); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
			return product.ErrNotFound
		}
		return fmt.Errorf("incrementing stock of variant %d: %w", variantID, err)
	}
	return nil
}

// AppendMovement inserts a ledger entry.
func (q *Queries) AppendMovement(ctx context.Context, m *stock.Movement) error {
	err := q.db.QueryRow(ctx, appendMovementSQL,
		m.VariantID, m.WarehouseID, string(m.Type), m.Quantity, m.Reference, m.Note,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending %s movement of variant %d: %w", m.Type, m.VariantID, err)
	}
	return nil
}

// ListMovements returns the newest movements of a variant first.
func (q *Queries) ListMovements(ctx context.Context, variantID int64, limit int) ([]stock.Movement, error) {
	rows, err := q.db.Query(ctx, listMovementsSQL, variantID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing movements of variant %d: %w", variantID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (stock.Movement, error) {
		var m stock.Movement
		err := row.Scan(&m.ID, &m.VariantID, &m.WarehouseID, (*string)(&m.Type), &m.Quantity,
			&m.Reference, &m.Note, &m.CreatedAt)
		return m, err
	})
}

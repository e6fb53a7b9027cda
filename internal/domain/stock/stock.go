// Package stock is the inventory ledger: per (variant, warehouse) on-hand
// and reserved quantities plus an append-only movement log.
package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// ErrInsufficient matches every stock shortage, whether detected by a
// static check or by a lost conditional decrement.
var ErrInsufficient = errors.New("insufficient stock")

// InsufficientError reports a static shortage detected while holding the
// variant lock.
type InsufficientError struct {
	SKU       string
	Requested int
	Available int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

// Is makes errors.Is(err, ErrInsufficient) true.
func (e *InsufficientError) Is(target error) bool { return target == ErrInsufficient }

// ConflictError reports that the conditional decrement affected no row: a
// concurrent writer consumed the stock between the check and the update.
type ConflictError struct {
	SKU       string
	Requested int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("stock conflict for %s: could not take %d", e.SKU, e.Requested)
}

// Is makes errors.Is(err, ErrInsufficient) true.
func (e *ConflictError) Is(target error) bool { return target == ErrInsufficient }

// MovementType classifies ledger entries.
type MovementType string

const (
	MovementIn         MovementType = "in"
	MovementOut        MovementType = "out"
	MovementTransfer   MovementType = "transfer"
	MovementAdjustment MovementType = "adjustment"
)

// Level is the stock row of one variant in one warehouse.
type Level struct {
	VariantID   int64
	WarehouseID int64
	OnHand      int
	Reserved    int
	UpdatedAt   time.Time
}

// Available is on hand minus reserved.
func (l Level) Available() int {
	return l.OnHand - l.Reserved
}

// Movement is an append-only ledger entry. Quantity is signed: negative for
// stock leaving the warehouse.
type Movement struct {
	ID          int64
	VariantID   int64
	WarehouseID int64
	Type        MovementType
	Quantity    int
	Reference   string
	Note        string
	CreatedAt   time.Time
}

// Repository is the storage contract of the ledger. Implementations are
// bound to a transaction.
type Repository interface {
	// StockLevel returns the level row, or a zero Level when none exists.
	StockLevel(ctx context.Context, variantID, warehouseID int64) (Level, error)
	// DecrementStock subtracts qty from on-hand only if the available
	// quantity is at least qty, as one conditional update. It reports
	// whether a row was changed.
	DecrementStock(ctx context.Context, variantID, warehouseID int64, qty int) (bool, error)
	// IncrementStock adds qty to on-hand, creating the row if needed.
	IncrementStock(ctx context.Context, variantID, warehouseID int64, qty int) error
	// AppendMovement inserts a ledger entry and fills its ID and CreatedAt.
	AppendMovement(ctx context.Context, m *Movement) error
	// ListMovements returns the newest movements of a variant first.
	ListMovements(ctx context.Context, variantID int64, limit int) ([]Movement, error)
}

// Take performs the conditional decrement and records an outbound movement.
// A decrement that changes no row fails with *ConflictError.
func Take(ctx context.Context, r Repository, variantID, warehouseID int64, sku string, qty int, reference string) error {
	ok, err := r.DecrementStock(ctx, variantID, warehouseID, qty)
	if err != nil {
		return errors.Wrapf(err, "decrement stock for %s", sku)
	}
	if !ok {
		return &ConflictError{SKU: sku, Requested: qty}
	}
	if err := r.AppendMovement(ctx, &Movement{
		VariantID:   variantID,
		WarehouseID: warehouseID,
		Type:        MovementOut,
		Quantity:    -qty,
		Reference:   reference,
	}); err != nil {
		return errors.Wrap(err, "append movement")
	}
	return nil
}

package stock

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/cache"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

// AdjustmentType enumerates manual stock adjustments.
type AdjustmentType string

const (
	AdjustOpening  AdjustmentType = "opening"
	AdjustIncrease AdjustmentType = "increase"
	AdjustDecrease AdjustmentType = "decrease"
)

// ErrInvalidAdjustment is returned for unknown types or non-positive
// quantities.
var ErrInvalidAdjustment = errors.New("invalid stock adjustment")

// Tx is everything a ledger transaction touches.
type Tx interface {
	Repository
	product.Repository
}

// Store runs fn inside one transaction.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Adjustment is a manual change to one stock level.
type Adjustment struct {
	VariantID   int64
	WarehouseID int64
	Type        AdjustmentType
	Quantity    int
	Reference   string
	Note        string
}

// Transfer moves stock between two warehouses.
type Transfer struct {
	VariantID int64
	From      int64
	To        int64
	Quantity  int
	Reference string
}

// Ledger exposes the inventory operations outside order creation.
type Ledger struct {
	store       Store
	warehouseID int64
	cache       cache.Invalidator
}

// NewLedger creates a Ledger. warehouseID is the checkout warehouse used by
// IsSufficient and Decrement.
func NewLedger(store Store, warehouseID int64, inv cache.Invalidator) *Ledger {
	if inv == nil {
		inv = cache.Nop{}
	}
	return &Ledger{store: store, warehouseID: warehouseID, cache: inv}
}

// IsSufficient is an informative read: whether the checkout warehouse holds
// at least qty available units. The conditional decrement stays the
// authoritative check.
func (l *Ledger) IsSufficient(ctx context.Context, variantID int64, qty int) (bool, error) {
	var ok bool
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		lvl, err := tx.StockLevel(ctx, variantID, l.warehouseID)
		if err != nil {
			return err
		}
		ok = lvl.Available() >= qty
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "check stock")
	}
	return ok, nil
}

// Decrement takes qty units from the checkout warehouse outside of an order,
// failing with *ConflictError rather than going negative.
func (l *Ledger) Decrement(ctx context.Context, variantID int64, qty int, reference string) error {
	if qty <= 0 {
		return ErrInvalidAdjustment
	}
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		v, err := lockOne(ctx, tx, variantID)
		if err != nil {
			return err
		}
		return Take(ctx, tx, variantID, l.warehouseID, v.SKU, qty, reference)
	})
	if err != nil {
		return err
	}
	l.invalidate(ctx, variantID)
	return nil
}

// Adjust applies a manual adjustment and returns the resulting level.
// Decreases use the conditional update and never drive stock negative.
func (l *Ledger) Adjust(ctx context.Context, a Adjustment) (*Level, error) {
	if a.Quantity <= 0 {
		return nil, ErrInvalidAdjustment
	}
	if a.WarehouseID == 0 {
		a.WarehouseID = l.warehouseID
	}

	var lvl Level
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		v, err := lockOne(ctx, tx, a.VariantID)
		if err != nil {
			return err
		}

		delta := a.Quantity
		switch a.Type {
		case AdjustOpening, AdjustIncrease:
			if err := tx.IncrementStock(ctx, a.VariantID, a.WarehouseID, a.Quantity); err != nil {
				return errors.Wrap(err, "increment stock")
			}
		case AdjustDecrease:
			ok, err := tx.DecrementStock(ctx, a.VariantID, a.WarehouseID, a.Quantity)
			if err != nil {
				return errors.Wrap(err, "decrement stock")
			}
			if !ok {
				cur, err := tx.StockLevel(ctx, a.VariantID, a.WarehouseID)
				if err != nil {
					return err
				}
				return &InsufficientError{SKU: v.SKU, Requested: a.Quantity, Available: cur.Available()}
			}
			delta = -a.Quantity
		default:
			return errors.Wrapf(ErrInvalidAdjustment, "type %q", a.Type)
		}

		if err := tx.AppendMovement(ctx, &Movement{
			VariantID:   a.VariantID,
			WarehouseID: a.WarehouseID,
			Type:        MovementAdjustment,
			Quantity:    delta,
			Reference:   a.Reference,
			Note:        string(a.Type) + noteSuffix(a.Note),
		}); err != nil {
			return errors.Wrap(err, "append movement")
		}

		lvl, err = tx.StockLevel(ctx, a.VariantID, a.WarehouseID)
		return err
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Stock adjusted",
		zap.Int64("variant_id", a.VariantID),
		zap.Int64("warehouse_id", a.WarehouseID),
		zap.String("type", string(a.Type)),
		zap.Int("quantity", a.Quantity),
		zap.Int("on_hand", lvl.OnHand),
	)
	l.invalidate(ctx, a.VariantID)
	return &lvl, nil
}

// Transfer moves stock between warehouses, recording an out movement at the
// source and an in movement at the destination.
func (l *Ledger) Transfer(ctx context.Context, t Transfer) error {
	if t.Quantity <= 0 || t.From == t.To {
		return ErrInvalidAdjustment
	}
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		v, err := lockOne(ctx, tx, t.VariantID)
		if err != nil {
			return err
		}
		ok, err := tx.DecrementStock(ctx, t.VariantID, t.From, t.Quantity)
		if err != nil {
			return errors.Wrap(err, "decrement source")
		}
		if !ok {
			cur, err := tx.StockLevel(ctx, t.VariantID, t.From)
			if err != nil {
				return err
			}
			return &InsufficientError{SKU: v.SKU, Requested: t.Quantity, Available: cur.Available()}
		}
		if err := tx.IncrementStock(ctx, t.VariantID, t.To, t.Quantity); err != nil {
			return errors.Wrap(err, "increment destination")
		}
		for _, m := range []Movement{
			{VariantID: t.VariantID, WarehouseID: t.From, Type: MovementTransfer, Quantity: -t.Quantity, Reference: t.Reference},
			{VariantID: t.VariantID, WarehouseID: t.To, Type: MovementTransfer, Quantity: t.Quantity, Reference: t.Reference},
		} {
			if err := tx.AppendMovement(ctx, &m); err != nil {
				return errors.Wrap(err, "append movement")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.invalidate(ctx, t.VariantID)
	return nil
}

// Level returns the stock row of a variant. A zero warehouseID selects the
// checkout warehouse.
func (l *Ledger) Level(ctx context.Context, variantID, warehouseID int64) (*Level, error) {
	if warehouseID == 0 {
		warehouseID = l.warehouseID
	}
	var lvl Level
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		lvl, err = tx.StockLevel(ctx, variantID, warehouseID)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "get stock level")
	}
	return &lvl, nil
}

// Movements lists the newest ledger entries of a variant.
func (l *Ledger) Movements(ctx context.Context, variantID int64, limit int) ([]Movement, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []Movement
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListMovements(ctx, variantID, limit)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "list movements")
	}
	return out, nil
}

func (l *Ledger) invalidate(ctx context.Context, variantID int64) {
	cache.InvalidateQuietly(ctx, l.cache, cache.VariantKey(variantID))
}

// lockOne takes the variant row lock shared with order creation so manual
// adjustments serialize with checkouts of the same SKU.
func lockOne(ctx context.Context, tx product.Repository, variantID int64) (*product.Variant, error) {
	vs, err := tx.LockVariants(ctx, []int64{variantID})
	if err != nil {
		return nil, errors.Wrap(err, "lock variant")
	}
	if len(vs) == 0 {
		return nil, errors.Wrap(product.ErrNotFound, strconv.FormatInt(variantID, 10))
	}
	return &vs[0], nil
}

func noteSuffix(note string) string {
	if note == "" {
		return ""
	}
	return ": " + note
}

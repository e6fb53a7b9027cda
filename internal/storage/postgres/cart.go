package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/owner"
)

const (
	cartColumns = `id, user_id, guest_token, created_at, updated_at`

	findUserCartSQL = `SELECT ` + cartColumns + ` FROM carts WHERE user_id = $1 FOR UPDATE`

	findGuestCartSQL = `SELECT ` + cartColumns + ` FROM carts WHERE guest_token = $1 FOR UPDATE`

	createCartSQL = `INSERT INTO carts (user_id, guest_token) VALUES ($1, $2) ON CONFLICT DO NOTHING`

	deleteCartSQL = `DELETE FROM carts WHERE id = $1`

	touchCartSQL = `UPDATE carts SET updated_at = now() WHERE id = $1`

	listCartItemsSQL = `SELECT ci.id, ci.cart_id, ci.variant_id, ci.quantity, ci.created_at, ` + variantColumns + `
		FROM cart_items ci
		JOIN product_variants v ON v.id = ci.variant_id ` + variantJoins + `
		WHERE ci.cart_id = $2
		ORDER BY ci.id`

	insertCartItemSQL = `INSERT INTO cart_items (cart_id, variant_id, quantity)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	setCartItemQuantitySQL = `UPDATE cart_items SET quantity = $2 WHERE id = $1 RETURNING cart_id`

	deleteCartItemSQL = `DELETE FROM cart_items WHERE cart_id = $1 AND id = $2`

	clearCartItemsSQL = `DELETE FROM cart_items WHERE cart_id = $1`

	getCartCouponSQL = `SELECT ` + couponColumns + `
		FROM cart_coupons cc JOIN coupons c ON c.id = cc.coupon_id
		WHERE cc.cart_id = $1`

	setCartCouponSQL = `INSERT INTO cart_coupons (cart_id, coupon_id) VALUES ($1, $2)
		ON CONFLICT (cart_id) DO UPDATE SET coupon_id = EXCLUDED.coupon_id, applied_at = now()`

	deleteCartCouponSQL = `DELETE FROM cart_coupons WHERE cart_id = $1`
)

// FindCart returns the owner's cart with its row locked.
func (q *Queries) FindCart(ctx context.Context, o owner.Owner) (*cart.Cart, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if id, ok := o.UserID(); ok {
		rows, err = q.db.Query(ctx, findUserCartSQL, id)
	} else if token, ok := o.GuestToken(); ok {
		rows, err = q.db.Query(ctx, findGuestCartSQL, token)
	} else {
		return nil, owner.ErrInvalidOwner
	}
	if err != nil {
		return nil, fmt.Errorf("finding cart of %s: %w", o, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("finding cart of %s: %w", o, err)
	}
	return &c, nil
}

// GetOrCreateCart inserts the cart unless the owner's unique index already
// holds one, then locks and returns the row.
func (q *Queries) GetOrCreateCart(ctx context.Context, o owner.Owner) (*cart.Cart, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	userID, guestToken := o.Columns()
	if _, err := q.db.Exec(ctx, createCartSQL, userID, guestToken); err != nil {
		return nil, fmt.Errorf("creating cart of %s: %w", o, err)
	}
	return q.FindCart(ctx, o)
}

// DeleteCart removes the cart; items and coupon cascade.
func (q *Queries) DeleteCart(ctx context.Context, cartID int64) error {
	if _, err := q.db.Exec(ctx, deleteCartSQL, cartID); err != nil {
		return fmt.Errorf("deleting cart %d: %w", cartID, err)
	}
	return nil
}

// ListCartItems returns the lines with their variants, ordered by id.
func (q *Queries) ListCartItems(ctx context.Context, cartID int64) ([]cart.Item, error) {
	rows, err := q.db.Query(ctx, listCartItemsSQL, q.warehouseID, cartID)
	if err != nil {
		return nil, fmt.Errorf("listing items of cart %d: %w", cartID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var it cart.Item
		dest := append([]any{&it.ID, &it.CartID, &it.VariantID, &it.Quantity, &it.CreatedAt}, variantDest(&it.Variant)...)
		err := row.Scan(dest...)
		return it, err
	})
}

// InsertCartItem adds a line for variantID.
func (q *Queries) InsertCartItem(ctx context.Context, cartID, variantID int64, qty int) (*cart.Item, error) {
	v, err := q.GetVariant(ctx, variantID)
	if err != nil {
		return nil, err
	}

	it := &cart.Item{CartID: cartID, VariantID: variantID, Quantity: qty, Variant: *v}
	if err := q.db.QueryRow(ctx, insertCartItemSQL, cartID, variantID, qty).Scan(&it.ID, &it.CreatedAt); err != nil {
		return nil, fmt.Errorf("inserting item into cart %d: %w", cartID, err)
	}
	return it, q.touch(ctx, cartID)
}

// SetCartItemQuantity overwrites the quantity of a line.
func (q *Queries) SetCartItemQuantity(ctx context.Context, itemID int64, qty int) error {
	var cartID int64
	if err := q.db.QueryRow(ctx, setCartItemQuantitySQL, itemID, qty).Scan(&cartID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cart.ErrItemNotFound
		}
		return fmt.Errorf("updating cart item %d: %w", itemID, err)
	}
	return q.touch(ctx, cartID)
}

// DeleteCartItem removes a line of cartID.
func (q *Queries) DeleteCartItem(ctx context.Context, cartID, itemID int64) (bool, error) {
	tag, err := q.db.Exec(ctx, deleteCartItemSQL, cartID, itemID)
	if err != nil {
		return false, fmt.Errorf("deleting cart item %d: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	return true, q.touch(ctx, cartID)
}

// ClearCartItems removes every line of cartID.
func (q *Queries) ClearCartItems(ctx context.Context, cartID int64) error {
	if _, err := q.db.Exec(ctx, clearCartItemsSQL, cartID); err != nil {
		return fmt.Errorf("clearing cart %d: %w", cartID, err)
	}
	return q.touch(ctx, cartID)
}

// GetCartCoupon returns the applied coupon or nil.
func (q *Queries) GetCartCoupon(ctx context.Context, cartID int64) (*coupon.Coupon, error) {
	rows, err := q.db.Query(ctx, getCartCouponSQL, cartID)
	if err != nil {
		return nil, fmt.Errorf("getting coupon of cart %d: %w", cartID, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting coupon of cart %d: %w", cartID, err)
	}
	return &c, nil
}

// SetCartCoupon attaches couponID, replacing any previous coupon.
func (q *Queries) SetCartCoupon(ctx context.Context, cartID, couponID int64) error {
	if _, err := q.db.Exec(ctx, setCartCouponSQL, cartID, couponID); err != nil {
		return fmt.Errorf("setting coupon of cart %d: %w", cartID, err)
	}
	return nil
}

// DeleteCartCoupon detaches the coupon of cartID.
func (q *Queries) DeleteCartCoupon(ctx context.Context, cartID int64) (bool, error) {
	tag, err := q.db.Exec(ctx, deleteCartCouponSQL, cartID)
	if err != nil {
		return false, fmt.Errorf("removing coupon of cart %d: %w", cartID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) touch(ctx context.Context, cartID int64) error {
	if _, err := q.db.Exec(ctx, touchCartSQL, cartID); err != nil {
		return fmt.Errorf("touching cart %d: %w", cartID, err)
	}
	return nil
}

func scanCart(row pgx.CollectableRow) (cart.Cart, error) {
	var (
		c          cart.Cart
		userID     *int64
		guestToken *string
	)
	if err := row.Scan(&c.ID, &userID, &guestToken, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return c, err
	}
	o, err := owner.FromColumns(userID, guestToken)
	if err != nil {
		return c, err
	}
	c.Owner = o
	return c, nil
}

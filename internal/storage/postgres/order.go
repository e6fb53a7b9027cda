package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/owner"
)

// numberAttempts bounds regeneration of colliding order numbers.
const numberAttempts = 3

const (
	insertAddressSQL = `INSERT INTO addresses (full_name, email, phone, line1, line2, city, state, postal_code, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	insertOrderSQL = `INSERT INTO orders (order_number, user_id, guest_token, guest_email, status, payment_status,
			currency, subtotal, discount_amount, shipping_amount, tax_amount, total_amount, coupon_id, coupon_code,
			shipping_method_id, shipping_method_name, shipping_address_id, billing_address_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (order_number) DO NOTHING
		RETURNING id, created_at, updated_at`

	saveOrderSQL = `UPDATE orders SET status = $2, payment_status = $3, subtotal = $4, discount_amount = $5,
			shipping_amount = $6, tax_amount = $7, total_amount = $8, coupon_id = $9, coupon_code = $10,
			notes = $11, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	orderSelect = `SELECT o.id, o.order_number, o.user_id, o.guest_token, o.guest_email, o.status, o.payment_status,
			o.currency, o.subtotal, o.discount_amount, o.shipping_amount, o.tax_amount, o.total_amount,
			o.coupon_id, o.coupon_code, o.shipping_method_id, o.shipping_method_name, o.notes,
			o.created_at, o.updated_at,
			sa.id, sa.full_name, sa.email, sa.phone, sa.line1, sa.line2, sa.city, sa.state, sa.postal_code, sa.country,
			ba.id, ba.full_name, ba.email, ba.phone, ba.line1, ba.line2, ba.city, ba.state, ba.postal_code, ba.country
		FROM orders o
		JOIN addresses sa ON sa.id = o.shipping_address_id
		JOIN addresses ba ON ba.id = o.billing_address_id`

	getOrderSQL = orderSelect + ` WHERE o.id = $1`

	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE OF o`

	getOrderByNumberSQL = orderSelect + ` WHERE o.order_number = $1`

	listUserOrdersSQL = orderSelect + ` WHERE o.user_id = $1 ORDER BY o.id DESC LIMIT $2`

	listGuestOrdersSQL = orderSelect + ` WHERE o.guest_token = $1 ORDER BY o.id DESC LIMIT $2`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, variant_id, product_name, sku, unit_price, quantity, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	listOrderItemsSQL = `SELECT id, order_id, variant_id, product_name, sku, unit_price, quantity, line_total
		FROM order_items WHERE order_id = $1 ORDER BY id`

	deleteOrderItemSQL = `DELETE FROM order_items WHERE order_id = $1 AND id = $2`

	appendStatusLogSQL = `INSERT INTO order_status_logs (order_id, change_type, old_value, new_value, note, actor)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	listStatusLogSQL = `SELECT id, order_id, change_type, old_value, new_value, note, actor, created_at
		FROM order_status_logs WHERE order_id = $1 ORDER BY id`

	createPaymentSQL = `INSERT INTO payments (order_id, method, status, amount, currency, transaction_id, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	listPaymentsSQL = `SELECT id, order_id, method, status, amount, currency, transaction_id,
			COALESCE(paid_at, created_at), created_at
		FROM payments WHERE order_id = $1 ORDER BY id`
)

// CreateOrder inserts the address snapshots and the order header. A
// colliding order number is regenerated.
func (q *Queries) CreateOrder(ctx context.Context, o *order.Order) error {
	shippingID, err := q.insertAddress(ctx, &o.ShippingAddress)
	if err != nil {
		return err
	}
	billingID, err := q.insertAddress(ctx, &o.BillingAddress)
	if err != nil {
		return err
	}

	userID, guestToken := o.Owner.Columns()
	for range numberAttempts {
		err = q.db.QueryRow(ctx, insertOrderSQL,
			o.Number, userID, guestToken, o.GuestEmail, string(o.Status), string(o.PaymentStatus),
			o.Currency, o.Subtotal, o.Discount, o.Shipping, o.Tax, o.Total, o.CouponID, o.CouponCode,
			o.ShippingMethodID, o.ShippingMethodName, shippingID, billingID, o.Notes,
		).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		if !errors.Is(err, pgx.ErrNoRows) {
			break
		}
		o.Number = order.NewNumber()
	}
	if err != nil {
		return fmt.Errorf("inserting order %s: %w", o.Number, err)
	}
	return nil
}

func (q *Queries) insertAddress(ctx context.Context, a *order.Address) (int64, error) {
	err := q.db.QueryRow(ctx, insertAddressSQL,
		a.FullName, a.Email, a.Phone, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country,
	).Scan(&a.ID)
	if err != nil {
		return 0, fmt.Errorf("inserting address: %w", err)
	}
	return a.ID, nil
}

// InsertOrderItems inserts the line snapshots of orderID.
func (q *Queries) InsertOrderItems(ctx context.Context, orderID int64, items []order.Item) error {
	for i := range items {
		it := &items[i]
		it.OrderID = orderID
		err := q.db.QueryRow(ctx, insertOrderItemSQL,
			orderID, it.VariantID, it.ProductName, it.SKU, it.UnitPrice, it.Quantity, it.LineTotal,
		).Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("inserting item %s of order %d: %w", it.SKU, orderID, err)
		}
	}
	return nil
}

// SaveOrder writes the mutable order fields.
func (q *Queries) SaveOrder(ctx context.Context, o *order.Order) error {
	err := q.db.QueryRow(ctx, saveOrderSQL,
		o.ID, string(o.Status), string(o.PaymentStatus), o.Subtotal, o.Discount, o.Shipping, o.Tax, o.Total,
		o.CouponID, o.CouponCode, o.Notes,
	).Scan(&o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrNotFound
		}
		return fmt.Errorf("saving order %d: %w", o.ID, err)
	}
	return nil
}

// GetOrder returns the order header, optionally locking its row.
func (q *Queries) GetOrder(ctx context.Context, id int64, forUpdate bool) (*order.Order, error) {
	query := getOrderSQL
	if forUpdate {
		query = getOrderForUpdateSQL
	}
	rows, err := q.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}
	return collectOrder(rows)
}

// GetOrderByNumber returns the order header by its number.
func (q *Queries) GetOrderByNumber(ctx context.Context, number string) (*order.Order, error) {
	rows, err := q.db.Query(ctx, getOrderByNumberSQL, number)
	if err != nil {
		return nil, fmt.Errorf("getting order %s: %w", number, err)
	}
	return collectOrder(rows)
}

// ListOrders returns the owner's newest orders.
func (q *Queries) ListOrders(ctx context.Context, o owner.Owner, limit int) ([]order.Order, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if id, ok := o.UserID(); ok {
		rows, err = q.db.Query(ctx, listUserOrdersSQL, id, limit)
	} else if token, ok := o.GuestToken(); ok {
		rows, err = q.db.Query(ctx, listGuestOrdersSQL, token, limit)
	} else {
		return nil, owner.ErrInvalidOwner
	}
	if err != nil {
		return nil, fmt.Errorf("listing orders of %s: %w", o, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// ListOrderItems returns the lines of orderID ordered by id.
func (q *Queries) ListOrderItems(ctx context.Context, orderID int64) ([]order.Item, error) {
	rows, err := q.db.Query(ctx, listOrderItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %d: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var it order.Item
		err := row.Scan(&it.ID, &it.OrderID, &it.VariantID, &it.ProductName, &it.SKU,
			&it.UnitPrice, &it.Quantity, &it.LineTotal)
		return it, err
	})
}

// DeleteOrderItem removes a line of orderID.
func (q *Queries) DeleteOrderItem(ctx context.Context, orderID, itemID int64) (bool, error) {
	tag, err := q.db.Exec(ctx, deleteOrderItemSQL, orderID, itemID)
	if err != nil {
		return false, fmt.Errorf("deleting item %d of order %d: %w", itemID, orderID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// AppendStatusLog inserts an audit entry.
func (q *Queries) AppendStatusLog(ctx context.Context, l *order.StatusLog) error {
	err := q.db.QueryRow(ctx, appendStatusLogSQL,
		l.OrderID, string(l.ChangeType), l.OldValue, l.NewValue, l.Note, l.Actor,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending status log of order %d: %w", l.OrderID, err)
	}
	return nil
}

// ListStatusLog returns the audit trail of orderID oldest first.
func (q *Queries) ListStatusLog(ctx context.Context, orderID int64) ([]order.StatusLog, error) {
	rows, err := q.db.Query(ctx, listStatusLogSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing status log of order %d: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.StatusLog, error) {
		var l order.StatusLog
		err := row.Scan(&l.ID, &l.OrderID, (*string)(&l.ChangeType), &l.OldValue, &l.NewValue,
			&l.Note, &l.Actor, &l.CreatedAt)
		return l, err
	})
}

// CreatePayment inserts a payment record.
func (q *Queries) CreatePayment(ctx context.Context, p *order.Payment) error {
	err := q.db.QueryRow(ctx, createPaymentSQL,
		p.OrderID, string(p.Method), string(p.Status), p.Amount, p.Currency, p.TransactionID, p.PaidAt,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating payment of order %d: %w", p.OrderID, err)
	}
	return nil
}

// ListPayments returns the payments of orderID oldest first.
func (q *Queries) ListPayments(ctx context.Context, orderID int64) ([]order.Payment, error) {
	rows, err := q.db.Query(ctx, listPaymentsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing payments of order %d: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Payment, error) {
		var p order.Payment
		err := row.Scan(&p.ID, &p.OrderID, (*string)(&p.Method), (*string)(&p.Status), &p.Amount,
			&p.Currency, &p.TransactionID, &p.PaidAt, &p.CreatedAt)
		return p, err
	})
}

func collectOrder(rows pgx.Rows) (*order.Order, error) {
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("reading order: %w", err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o          order.Order
		userID     *int64
		guestToken *string
	)
	dest := []any{
		&o.ID, &o.Number, &userID, &guestToken, &o.GuestEmail, (*string)(&o.Status), (*string)(&o.PaymentStatus),
		&o.Currency, &o.Subtotal, &o.Discount, &o.Shipping, &o.Tax, &o.Total,
		&o.CouponID, &o.CouponCode, &o.ShippingMethodID, &o.ShippingMethodName, &o.Notes,
		&o.CreatedAt, &o.UpdatedAt,
	}
	dest = append(dest, addressDest(&o.ShippingAddress)...)
	dest = append(dest, addressDest(&o.BillingAddress)...)
	if err := row.Scan(dest...); err != nil {
		return o, err
	}

	ow, err := owner.FromColumns(userID, guestToken)
	if err != nil {
		return o, err
	}
	o.Owner = ow
	return o, nil
}

// addressDest lists scan targets of one joined addresses row.
func addressDest(a *order.Address) []any {
	return []any{&a.ID, &a.FullName, &a.Email, &a.Phone, &a.Line1, &a.Line2, &a.City, &a.State, &a.PostalCode, &a.Country}
}

package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/owner"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

var (
	_ cart.Tx  = (*Tx)(nil)
	_ order.Tx = (*Tx)(nil)
	_ stock.Tx = (*Tx)(nil)
)

// Tx is a transaction over a private copy of the state.
type Tx struct {
	st          *state
	warehouseID int64
	now         func() time.Time
}

// --- Carts ---

func (t *Tx) FindCart(_ context.Context, o owner.Owner) (*cart.Cart, error) {
	if err := o.Validate(); err != nil {
		return nil, errors.Wrap(ErrCheckViolation, "cart owner")
	}
	id, ok := t.st.cartOwners[o.String()]
	if !ok {
		return nil, cart.ErrNotFound
	}
	c := t.st.carts[id]
	return &c, nil
}

func (t *Tx) GetOrCreateCart(ctx context.Context, o owner.Owner) (*cart.Cart, error) {
	c, err := t.FindCart(ctx, o)
	if err == nil || !errors.Is(err, cart.ErrNotFound) {
		return c, err
	}
	now := t.now()
	created := cart.Cart{ID: t.st.id(), Owner: o, CreatedAt: now, UpdatedAt: now}
	t.st.carts[created.ID] = created
	t.st.cartOwners[o.String()] = created.ID
	return &created, nil
}

func (t *Tx) DeleteCart(_ context.Context, cartID int64) error {
	c, ok := t.st.carts[cartID]
	if !ok {
		return nil
	}
	for id, it := range t.st.cartItems {
		if it.CartID == cartID {
			delete(t.st.cartItems, id)
		}
	}
	delete(t.st.cartCoupons, cartID)
	delete(t.st.cartOwners, c.Owner.String())
	delete(t.st.carts, cartID)
	return nil
}

func (t *Tx) ListCartItems(_ context.Context, cartID int64) ([]cart.Item, error) {
	var out []cart.Item
	for _, row := range t.st.cartItems {
		if row.CartID != cartID {
			continue
		}
		v, ok := t.variant(row.VariantID)
		if !ok {
			continue
		}
		out = append(out, cart.Item{
			ID:        row.ID,
			CartID:    row.CartID,
			VariantID: row.VariantID,
			Quantity:  row.Quantity,
			Variant:   v,
			CreatedAt: row.CreatedAt,
		})
	}
	slices.SortFunc(out, func(a, b cart.Item) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *Tx) InsertCartItem(_ context.Context, cartID, variantID int64, qty int) (*cart.Item, error) {
	if qty < 1 {
		return nil, errors.Wrap(ErrCheckViolation, "cart item quantity")
	}
	if _, ok := t.st.carts[cartID]; !ok {
		return nil, cart.ErrNotFound
	}
	v, ok := t.variant(variantID)
	if !ok {
		return nil, product.ErrNotFound
	}
	for _, row := range t.st.cartItems {
		if row.CartID == cartID && row.VariantID == variantID {
			return nil, errors.Wrap(ErrUniqueViolation, "cart item variant")
		}
	}
	row := cartItemRow{ID: t.st.id(), CartID: cartID, VariantID: variantID, Quantity: qty, CreatedAt: t.now()}
	t.st.cartItems[row.ID] = row
	t.touchCart(cartID)
	return &cart.Item{ID: row.ID, CartID: cartID, VariantID: variantID, Quantity: qty, Variant: v, CreatedAt: row.CreatedAt}, nil
}

func (t *Tx) SetCartItemQuantity(_ context.Context, itemID int64, qty int) error {
	if qty < 1 {
		return errors.Wrap(ErrCheckViolation, "cart item quantity")
	}
	row, ok := t.st.cartItems[itemID]
	if !ok {
		return cart.ErrItemNotFound
	}
	row.Quantity = qty
	t.st.cartItems[itemID] = row
	t.touchCart(row.CartID)
	return nil
}

func (t *Tx) DeleteCartItem(_ context.Context, cartID, itemID int64) (bool, error) {
	row, ok := t.st.cartItems[itemID]
	if !ok || row.CartID != cartID {
		return false, nil
	}
	delete(t.st.cartItems, itemID)
	t.touchCart(cartID)
	return true, nil
}

func (t *Tx) ClearCartItems(_ context.Context, cartID int64) error {
	for id, row := range t.st.cartItems {
		if row.CartID == cartID {
			delete(t.st.cartItems, id)
		}
	}
	t.touchCart(cartID)
	return nil
}

func (t *Tx) GetCartCoupon(_ context.Context, cartID int64) (*coupon.Coupon, error) {
	id, ok := t.st.cartCoupons[cartID]
	if !ok {
		return nil, nil
	}
	c, ok := t.st.coupons[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (t *Tx) SetCartCoupon(_ context.Context, cartID, couponID int64) error {
	if _, ok := t.st.carts[cartID]; !ok {
		return cart.ErrNotFound
	}
	if _, ok := t.st.coupons[couponID]; !ok {
		return coupon.ErrInvalidCoupon
	}
	t.st.cartCoupons[cartID] = couponID
	return nil
}

func (t *Tx) DeleteCartCoupon(_ context.Context, cartID int64) (bool, error) {
	_, ok := t.st.cartCoupons[cartID]
	delete(t.st.cartCoupons, cartID)
	return ok, nil
}

func (t *Tx) touchCart(cartID int64) {
	if c, ok := t.st.carts[cartID]; ok {
		c.UpdatedAt = t.now()
		t.st.carts[cartID] = c
	}
}

// --- Variants ---

func (t *Tx) variant(id int64) (product.Variant, bool) {
	v, ok := t.st.variants[id]
	if !ok {
		return product.Variant{}, false
	}
	v.Stock = t.st.levels[levelKey{id, t.warehouseID}].Available()
	return v, true
}

func (t *Tx) GetVariant(_ context.Context, id int64) (*product.Variant, error) {
	v, ok := t.variant(id)
	if !ok {
		return nil, product.ErrNotFound
	}
	return &v, nil
}

// LockVariants needs no row locks: the store mutex already serializes
// transactions.
func (t *Tx) LockVariants(_ context.Context, ids []int64) ([]product.Variant, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	out := make([]product.Variant, 0, len(sorted))
	for _, id := range sorted {
		if v, ok := t.variant(id); ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// --- Coupons ---

func (t *Tx) FindCouponByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	for _, c := range t.st.coupons {
		if strings.EqualFold(c.Code, strings.TrimSpace(code)) {
			return &c, nil
		}
	}
	return nil, coupon.ErrInvalidCoupon
}

func (t *Tx) GetCoupon(_ context.Context, id int64) (*coupon.Coupon, error) {
	c, ok := t.st.coupons[id]
	if !ok {
		return nil, coupon.ErrInvalidCoupon
	}
	return &c, nil
}

func (t *Tx) IncrementCouponUsage(_ context.Context, id int64) (bool, error) {
	c, ok := t.st.coupons[id]
	if !ok {
		return false, nil
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return false, nil
	}
	c.UsedCount++
	t.st.coupons[id] = c
	return true, nil
}

func (t *Tx) ReleaseCouponUsage(_ context.Context, id int64) error {
	c, ok := t.st.coupons[id]
	if !ok || c.UsedCount == 0 {
		return nil
	}
	c.UsedCount--
	t.st.coupons[id] = c
	return nil
}

// --- Shipping ---

func (t *Tx) GetShippingMethod(_ context.Context, id int64) (*shipping.Method, error) {
	m, ok := t.st.methods[id]
	if !ok || !m.Active {
		return nil, shipping.ErrNotFound
	}
	return &m, nil
}

// --- Stock ---

func (t *Tx) StockLevel(_ context.Context, variantID, warehouseID int64) (stock.Level, error) {
	lvl, ok := t.st.levels[levelKey{variantID, warehouseID}]
	if !ok {
		return stock.Level{VariantID: variantID, WarehouseID: warehouseID}, nil
	}
	return lvl, nil
}

func (t *Tx) DecrementStock(_ context.Context, variantID, warehouseID int64, qty int) (bool, error) {
	k := levelKey{variantID, warehouseID}
	lvl, ok := t.st.levels[k]
	if !ok || lvl.Available() < qty {
		return false, nil
	}
	lvl.OnHand -= qty
	lvl.UpdatedAt = t.now()
	t.st.levels[k] = lvl
	return true, nil
}

func (t *Tx) IncrementStock(_ context.Context, variantID, warehouseID int64, qty int) error {
	if _, ok := t.st.variants[variantID]; !ok {
		return product.ErrNotFound
	}
	k := levelKey{variantID, warehouseID}
	lvl := t.st.levels[k]
	lvl.VariantID, lvl.WarehouseID = variantID, warehouseID
	lvl.OnHand += qty
	if lvl.OnHand < 0 {
		return errors.Wrap(ErrCheckViolation, "stock on hand")
	}
	lvl.UpdatedAt = t.now()
	t.st.levels[k] = lvl
	return nil
}

func (t *Tx) AppendMovement(_ context.Context, m *stock.Movement) error {
	m.ID = t.st.id()
	m.CreatedAt = t.now()
	t.st.movements = append(t.st.movements, *m)
	return nil
}

func (t *Tx) ListMovements(_ context.Context, variantID int64, limit int) ([]stock.Movement, error) {
	var out []stock.Movement
	for i := len(t.st.movements) - 1; i >= 0 && len(out) < limit; i-- {
		if m := t.st.movements[i]; m.VariantID == variantID {
			out = append(out, m)
		}
	}
	return out, nil
}

// --- Orders ---

func (t *Tx) CreateOrder(_ context.Context, o *order.Order) error {
	if err := o.Owner.Validate(); err != nil {
		return errors.Wrap(ErrCheckViolation, "order owner")
	}
	if o.Owner.IsGuest() && o.GuestEmail == "" {
		return errors.Wrap(ErrCheckViolation, "guest order email")
	}
	for _, existing := range t.st.orders {
		if existing.Number == o.Number {
			return errors.Wrap(ErrUniqueViolation, "order number")
		}
	}
	now := t.now()
	o.ID = t.st.id()
	o.ShippingAddress.ID = t.st.id()
	o.BillingAddress.ID = t.st.id()
	o.CreatedAt, o.UpdatedAt = now, now

	row := *o
	row.Items = nil
	t.st.orders[o.ID] = row
	return nil
}

func (t *Tx) InsertOrderItems(_ context.Context, orderID int64, items []order.Item) error {
	if _, ok := t.st.orders[orderID]; !ok {
		return order.ErrNotFound
	}
	for i := range items {
		if items[i].Quantity < 1 {
			return errors.Wrap(ErrCheckViolation, "order item quantity")
		}
		items[i].ID = t.st.id()
		items[i].OrderID = orderID
		t.st.orderItems[items[i].ID] = items[i]
	}
	return nil
}

func (t *Tx) SaveOrder(_ context.Context, o *order.Order) error {
	row, ok := t.st.orders[o.ID]
	if !ok {
		return order.ErrNotFound
	}
	row.Status = o.Status
	row.PaymentStatus = o.PaymentStatus
	row.Subtotal, row.Discount, row.Shipping, row.Tax, row.Total = o.Subtotal, o.Discount, o.Shipping, o.Tax, o.Total
	row.CouponID, row.CouponCode = o.CouponID, o.CouponCode
	row.Notes = o.Notes
	row.UpdatedAt = t.now()
	o.UpdatedAt = row.UpdatedAt
	t.st.orders[o.ID] = row
	return nil
}

func (t *Tx) GetOrder(_ context.Context, id int64, _ bool) (*order.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

func (t *Tx) GetOrderByNumber(_ context.Context, number string) (*order.Order, error) {
	for _, o := range t.st.orders {
		if o.Number == number {
			return &o, nil
		}
	}
	return nil, order.ErrNotFound
}

func (t *Tx) ListOrders(_ context.Context, o owner.Owner, limit int) ([]order.Order, error) {
	var out []order.Order
	for _, row := range t.st.orders {
		if row.Owner == o {
			out = append(out, row)
		}
	}
	slices.SortFunc(out, func(a, b order.Order) int { return cmp.Compare(b.ID, a.ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *Tx) ListOrderItems(_ context.Context, orderID int64) ([]order.Item, error) {
	var out []order.Item
	for _, it := range t.st.orderItems {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	slices.SortFunc(out, func(a, b order.Item) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *Tx) DeleteOrderItem(_ context.Context, orderID, itemID int64) (bool, error) {
	it, ok := t.st.orderItems[itemID]
	if !ok || it.OrderID != orderID {
		return false, nil
	}
	delete(t.st.orderItems, itemID)
	return true, nil
}

func (t *Tx) AppendStatusLog(_ context.Context, l *order.StatusLog) error {
	l.ID = t.st.id()
	l.CreatedAt = t.now()
	t.st.logs = append(t.st.logs, *l)
	return nil
}

func (t *Tx) ListStatusLog(_ context.Context, orderID int64) ([]order.StatusLog, error) {
	var out []order.StatusLog
	for _, l := range t.st.logs {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (t *Tx) CreatePayment(_ context.Context, p *order.Payment) error {
	o, ok := t.st.orders[p.OrderID]
	if !ok {
		return order.ErrNotFound
	}
	if !p.Amount.IsPositive() || p.Currency != o.Currency {
		return errors.Wrap(ErrCheckViolation, "payment")
	}
	p.ID = t.st.id()
	p.CreatedAt = t.now()
	t.st.payments = append(t.st.payments, *p)
	return nil
}

func (t *Tx) ListPayments(_ context.Context, orderID int64) ([]order.Payment, error) {
	var out []order.Payment
	for _, p := range t.st.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

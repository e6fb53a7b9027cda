package order_test

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/cache"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/owner"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
	"github.com/xenking/kart-checkout/internal/domain/stock"
	"github.com/xenking/kart-checkout/internal/events"
	"github.com/xenking/kart-checkout/internal/storage/memory"
)

const warehouse = 1

// --- Helpers ---

type fixture struct {
	store  *memory.Store
	cache  *cache.Recorder
	events *events.Recorder
	carts  *cart.Service
	orders *order.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New(warehouse)
	rec := &cache.Recorder{}
	evs := &events.Recorder{}
	orders, err := order.NewService(store.Orders(), order.Config{
		Currency:    "BDT",
		WarehouseID: warehouse,
		Cache:       rec,
		Events:      evs,
	})
	require.NoError(t, err)
	return &fixture{
		store:  store,
		cache:  rec,
		events: evs,
		carts:  cart.NewService(store.Carts(), rec, nil),
		orders: orders,
	}
}

func (f *fixture) variant(sku, price string, stockQty int) int64 {
	id := f.store.AddVariant(product.Variant{
		SKU:         sku,
		ProductName: "Product " + sku,
		Price:       decimal.RequireFromString(price),
	})
	f.store.SetStock(id, warehouse, stockQty)
	return id
}

func (f *fixture) add(t *testing.T, o owner.Owner, variantID int64, qty int) {
	t.Helper()
	_, err := f.carts.AddItem(context.Background(), o, variantID, qty)
	require.NoError(t, err)
}

func (f *fixture) save10(t *testing.T) int64 {
	t.Helper()
	return f.store.AddCoupon(coupon.Coupon{
		Code:         "SAVE10",
		DiscountType: coupon.DiscountPercent,
		Value:        decimal.NewFromInt(10),
		Active:       true,
		MinSubtotal:  decimal.RequireFromString("100.00"),
	})
}

func address() order.Address {
	return order.Address{
		FullName: "Rahim Uddin",
		Phone:    "+8801700000000",
		Line1:    "House 1, Road 2",
		City:     "Dhaka",
		Country:  "BD",
	}
}

func request(o owner.Owner) order.CreateRequest {
	return order.CreateRequest{Owner: o, ShippingAddress: address()}
}

func money(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2))
}

// Two items, no coupon, no shipping.
func TestCreateFromCart_Plain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := owner.User(1)
	v1 := f.variant("V1", "100.00", 5)
	v2 := f.variant("V2", "50.00", 1)
	f.add(t, o, v1, 2)
	f.add(t, o, v2, 1)

	got, err := f.orders.CreateFromCart(ctx, request(o))
	require.NoError(t, err)

	money(t, "250.00", got.Subtotal)
	money(t, "0.00", got.Discount)
	money(t, "0.00", got.Shipping)
	money(t, "250.00", got.Total)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, order.PaymentUnpaid, got.PaymentStatus)
	assert.Equal(t, "BDT", got.Currency)
	assert.Regexp(t, `^ORD-[0-9A-F]{12}$`, got.Number)
	assert.Equal(t, got.ShippingAddress.Line1, got.BillingAddress.Line1, "billing defaults to shipping")

	assert.Equal(t, 3, f.store.Available(v1))
	assert.Equal(t, 0, f.store.Available(v2))

	require.Len(t, got.Items, 2)
	assert.Equal(t, "V1", got.Items[0].SKU)
	money(t, "100.00", got.Items[0].UnitPrice)
	money(t, "200.00", got.Items[0].LineTotal)

	// Cart items are deleted, the container is kept.
	items, err := f.carts.Items(ctx, o)
	require.NoError(t, err)
	assert.Empty(t, items)
	_, err = f.carts.Find(ctx, o)
	require.NoError(t, err)

	stored, err := f.orders.Get(ctx, got.ID)
	require.NoError(t, err)
	money(t, "250.00", stored.Total)
	assert.Len(t, stored.Items, 2)

	logs, err := f.orders.StatusLog(ctx, got.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, order.ChangeStatus, logs[0].ChangeType)
	assert.Equal(t, "pending", logs[0].NewValue)
	assert.Equal(t, order.ChangePayment, logs[1].ChangeType)
	assert.Equal(t, "unpaid", logs[1].NewValue)

	assert.True(t, f.cache.Has(cache.VariantKey(v1)))
	assert.True(t, f.cache.Has(cache.OrderKey(got.ID)))
	evs := f.events.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.OrderCreated, evs[0].Type)
	assert.Equal(t, "250.00", evs[0].Total)
}

// Same cart with a 10% coupon.
func TestCreateFromCart_WithCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := owner.User(1)
	v1 := f.variant("V1", "100.00", 5)
	v2 := f.variant("V2", "50.00", 1)
	couponID := f.save10(t)
	f.add(t, o, v1, 2)
	f.add(t, o, v2, 1)
	ok, err := f.carts.ApplyCoupon(ctx, o, "save10")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := f.orders.CreateFromCart(ctx, request(o))
	require.NoError(t, err)

	money(t, "250.00", got.Subtotal)
	money(t, "25.00", got.Discount)
	money(t, "225.00", got.Total)
	assert.Equal(t, "SAVE10", got.CouponCode)
	require.NotNil(t, got.CouponID)
	assert.Equal(t, couponID, *got.CouponID)

	c, _ := f.store.Coupon(couponID)
	assert.Equal(t, 1, c.UsedCount)

	s, err := f.carts.Summary(ctx, o)
	require.NoError(t, err)
	assert.Empty(t, s.CouponCode, "cart coupon is detached after use")
	assert.True(t, f.cache.Has(cache.CouponKey("SAVE10")))
}

// Stock dropped below the cart quantity before checkout.
func TestCreateFromCart_InsufficientStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := owner.User(1)
	v3 := f.variant("V3", "10.00", 2)
	f.add(t, o, v3, 2)
	f.store.SetStock(v3, warehouse, 1)

	_, err := f.orders.CreateFromCart(ctx, request(o))
	require.ErrorIs(t, err, stock.ErrInsufficient)

	var se *stock.InsufficientError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "V3", se.SKU)
	assert.Equal(t, 2, se.Requested)
	assert.Equal(t, 1, se.Available)

	counts := f.store.Counts()
	assert.Zero(t, counts.Orders)
	assert.Zero(t, counts.OrderItems)
	assert.Zero(t, counts.StatusLogs)
	assert.Equal(t, 1, f.store.Available(v3))
	assert.Empty(t, f.events.Events())
}

// Two concurrent checkouts compete for the last unit.
func TestCreateFromCart_ConcurrentLastUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v4 := f.variant("V4", "10.00", 1)
	buyers := []owner.Owner{owner.User(1), owner.User(2)}
	for _, b := range buyers {
		f.add(t, b, v4, 1)
	}

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(buyers))
	)
	for i, b := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.orders.CreateFromCart(ctx, request(b))
		}()
	}
	wg.Wait()

	var succeeded, failed int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, stock.ErrInsufficient):
			failed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 0, f.store.Available(v4))
	assert.Equal(t, 1, f.store.Counts().Orders)
}

// Guest cart merged on login, then checked out by the user.
func TestCreateFromCart_AfterMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v5 := f.variant("V5", "15.00", 3)
	f.add(t, owner.Guest("g1"), v5, 1)

	_, err := f.carts.MergeGuestIntoUser(ctx, 5, "g1")
	require.NoError(t, err)

	items, err := f.carts.Items(ctx, owner.User(5))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Quantity)
	_, err = f.carts.Find(ctx, owner.Guest("g1"))
	require.ErrorIs(t, err, cart.ErrNotFound)

	got, err := f.orders.CreateFromCart(ctx, request(owner.User(5)))
	require.NoError(t, err)
	money(t, "15.00", got.Total)
}

// Failure at a later item rolls back earlier decrements and coupon usage.
func TestCreateFromCart_Atomicity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := owner.User(1)
	first := f.variant("FIRST", "100.00", 10)
	second := f.variant("SECOND", "100.00", 5)
	couponID := f.save10(t)
	f.add(t, o, first, 3)
	f.add(t, o, second, 5)
	ok, err := f.carts.ApplyCoupon(ctx, o, "SAVE10")
	require.NoError(t, err)
	require.True(t, ok)
	f.store.SetStock(second, warehouse, 4)
	before := f.store.Counts()

	_, err = f.orders.CreateFromCart(ctx, request(o))
	require.ErrorIs(t, err, stock.ErrInsufficient)

	assert.Equal(t, before, f.store.Counts())
	assert.Equal(t, 10, f.store.Available(first))
	assert.Equal(t, 4, f.store.Available(second))
	c, _ := f.store.Coupon(couponID)
	assert.Zero(t, c.UsedCount)

	s, err := f.carts.Summary(ctx, o)
	require.NoError(t, err)
	assert.Len(t, s.Items, 2, "cart untouched")
	assert.Equal(t, "SAVE10", s.CouponCode)
}

func TestCreateFromCart_EmptyCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orders.CreateFromCart(ctx, request(owner.User(1)))
	require.ErrorIs(t, err, order.ErrEmptyCart)

	_, err = f.carts.GetOrCreate(ctx, owner.User(1))
	require.NoError(t, err)
	_, err = f.orders.CreateFromCart(ctx, request(owner.User(1)))
	require.ErrorIs(t, err, order.ErrEmptyCart)
}

// A second checkout of the same cart sees it empty.
func TestCreateFromCart_DoubleSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := owner.User(1)
	f.add(t, o, f.variant("V1", "1.00", 5), 1)

	_, err := f.orders.CreateFromCart(ctx, request(o))
	require.NoError(t, err)
	_, err = f.orders.CreateFromCart(ctx, request(o))
	require.ErrorIs(t, err, order.ErrEmptyCart)
}

func TestCreateFromCart_Owner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.variant("V1", "10.00", 5)
	guest := owner.Guest("g1")
	f.add(t, guest, v, 1)

	_, err := f.orders.CreateFromCart(ctx, order.CreateRequest{Owner: owner.Owner{}})
	require.ErrorIs(t, err, owner.ErrInvalidOwner)

	_, err = f.orders.CreateFromCart(ctx, request(guest))
	require.ErrorIs(t, err, order.ErrGuestEmail)

	req := request(guest)
	req.GuestEmail = "guest@example.com"
	got, err := f.orders.CreateFromCart(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "guest@example.com", got.GuestEmail)

	list, err := f.orders.ListByOwner(ctx, guest, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, got.ID, list[0].ID)
}

func TestCreateFromCart_Shipping(t *testing.T) {
	tests := []struct {
		name      string
		threshold decimal.NullDecimal
		wantShip  string
		wantTotal string
	}{
		{name: "base cost", wantShip: "60.00", wantTotal: "310.00"},
		{name: "below threshold", threshold: decimal.NewNullDecimal(decimal.NewFromInt(1000)), wantShip: "60.00", wantTotal: "310.00"},
		{name: "threshold met by final subtotal", threshold: decimal.NewNullDecimal(decimal.NewFromInt(250)), wantShip: "0.00", wantTotal: "250.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			o := owner.User(1)
			f.add(t, o, f.variant("V1", "125.00", 5), 2)
			methodID := f.store.AddShippingMethod(shipping.Method{
				Code:                  "std",
				Name:                  "Standard",
				BaseCost:              decimal.RequireFromString("60.00"),
				FreeShippingThreshold: tt.threshold,
				Active:                true,
			})

			req := request(o)
			req.ShippingMethodID = methodID
			got, err := f.orders.CreateFromCart(context.Background(), req)
			require.NoError(t, err)
			money(t, tt.wantShip, got.Shipping)
			money(t, tt.wantTotal, got.Total)
			assert.Equal(t, "Standard", got.ShippingMethodName)
		})
	}
}

func TestCreateFromCart_InactiveShipping(t *testing.T) {
	f := newFixture(t)
	o := owner.User(1)
	f.add(t, o, f.variant("V1", "1.00", 5), 1)
	methodID := f.store.AddShippingMethod(shipping.Method{Name: "Old", BaseCost: decimal.NewFromInt(5)})

	req := request(o)
	req.ShippingMethodID = methodID
	_, err := f.orders.CreateFromCart(context.Background(), req)
	require.ErrorIs(t, err, shipping.ErrNotFound)
	assert.Zero(t, f.store.Counts().Orders)
}

func TestCreateFromCart_TaxAndCouponRevalidated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := owner.User(1)
	v := f.variant("V1", "60.00", 5)
	couponID := f.save10(t)
	f.add(t, o, v, 2)
	ok, err := f.carts.ApplyCoupon(ctx, o, "SAVE10")
	require.NoError(t, err)
	require.True(t, ok)
	items, err := f.carts.Items(ctx, o)
	require.NoError(t, err)
	_, err = f.carts.UpdateQuantity(ctx, o, items[0].ID, 1)
	require.NoError(t, err)

	req := request(o)
	req.Tax = decimal.RequireFromString("3.005")
	got, err := f.orders.CreateFromCart(ctx, req)
	require.NoError(t, err)

	// 60.00 is below the 100.00 minimum at order time.
	money(t, "0.00", got.Discount)
	assert.Empty(t, got.CouponCode)
	money(t, "3.00", got.Tax)
	money(t, "63.00", got.Total)
	c, _ := f.store.Coupon(couponID)
	assert.Zero(t, c.UsedCount)
}

func TestCreateFromCart_BackorderSkipsStock(t *testing.T) {
	f := newFixture(t)
	o := owner.User(1)
	id := f.store.AddVariant(product.Variant{
		SKU:            "PRE",
		ProductName:    "Preorder",
		Price:          decimal.NewFromInt(20),
		AllowBackorder: true,
	})
	f.add(t, o, id, 4)

	got, err := f.orders.CreateFromCart(context.Background(), request(o))
	require.NoError(t, err)
	money(t, "80.00", got.Total)
	assert.Equal(t, 0, f.store.Available(id))
	assert.Zero(t, f.store.Counts().Movements)
}

func TestCreateFromCart_SalePrice(t *testing.T) {
	f := newFixture(t)
	o := owner.User(1)
	id := f.store.AddVariant(product.Variant{
		SKU:         "SALE",
		ProductName: "Shirt",
		Name:        "XL",
		Price:       decimal.NewFromInt(100),
		SalePrice:   decimal.NewNullDecimal(decimal.RequireFromString("79.99")),
	})
	f.store.SetStock(id, warehouse, 5)
	f.add(t, o, id, 3)

	got, err := f.orders.CreateFromCart(context.Background(), request(o))
	require.NoError(t, err)
	money(t, "79.99", got.Items[0].UnitPrice)
	money(t, "239.97", got.Total)
	assert.Equal(t, "Shirt - XL", got.Items[0].ProductName)
}

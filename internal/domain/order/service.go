package order

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/cache"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/owner"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
	"github.com/xenking/kart-checkout/internal/domain/stock"
	"github.com/xenking/kart-checkout/internal/events"
	"github.com/xenking/kart-checkout/internal/money"
)

// Sentinel errors for order operations.
var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrNotFound          = errors.New("order not found")
	ErrGuestEmail        = errors.New("guest orders require an email address")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCannotCancel      = errors.New("order cannot be cancelled at this stage")
	ErrInvalidPayment    = errors.New("invalid payment")
	ErrItemNotFound      = errors.New("order item not found")
)

// DefaultCurrency is used when neither the request nor Config set one.
const DefaultCurrency = "BDT"

// Config carries the collaborators and settings of a Service. Nil
// collaborators are replaced by no-op implementations.
type Config struct {
	// Currency is the default order currency.
	Currency string
	// WarehouseID is the warehouse checkout stock is taken from.
	WarehouseID int64

	Cache          cache.Invalidator
	Events         events.Publisher
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// CreateRequest is the input of CreateFromCart.
type CreateRequest struct {
	Owner            owner.Owner
	GuestEmail       string
	ShippingAddress  Address
	BillingAddress   *Address
	ShippingMethodID int64
	Currency         string
	// Tax is computed outside this service; zero when not supplied.
	Tax   decimal.Decimal
	Notes string
	Actor string
}

// Service encapsulates order creation and the post-creation lifecycle.
type Service struct {
	store       Store
	currency    string
	warehouseID int64
	cache       cache.Invalidator
	events      events.Publisher
	tracer      trace.Tracer
	now         func() time.Time

	ordersCreated  metric.Int64Counter
	checkoutFailed metric.Int64Counter
	couponsUsed    metric.Int64Counter
}

// NewService creates an order Service.
func NewService(store Store, cfg Config) (*Service, error) {
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	if cfg.WarehouseID == 0 {
		cfg.WarehouseID = 1
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.Nop{}
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = tracenoop.NewTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = metricnoop.NewMeterProvider()
	}

	meter := cfg.MeterProvider.Meter("kart/order")
	s := &Service{
		store:       store,
		currency:    cfg.Currency,
		warehouseID: cfg.WarehouseID,
		cache:       cfg.Cache,
		events:      cfg.Events,
		tracer:      cfg.TracerProvider.Tracer("kart/order"),
		now:         time.Now,
	}

	var err error
	if s.ordersCreated, err = meter.Int64Counter("kart.orders.created",
		metric.WithDescription("Orders created from carts"),
	); err != nil {
		return nil, errors.Wrap(err, "orders created counter")
	}
	if s.checkoutFailed, err = meter.Int64Counter("kart.checkout.failed",
		metric.WithDescription("Order creations rolled back, by reason"),
	); err != nil {
		return nil, errors.Wrap(err, "checkout failed counter")
	}
	if s.couponsUsed, err = meter.Int64Counter("kart.coupons.redeemed",
		metric.WithDescription("Coupon redemptions at order creation"),
	); err != nil {
		return nil, errors.Wrap(err, "coupons redeemed counter")
	}
	return s, nil
}

// CreateFromCart converts the owner's cart into an order in one transaction.
//
// Variant rows are locked in ascending id order before any stock is read.
// Each line is priced at its current effective price and, unless the
// product allows backorders, checked against and conditionally decremented
// from the checkout warehouse. The cart coupon is applied only if it is
// still valid for the final subtotal, and the free-shipping threshold is
// checked against that same subtotal. On success the cart items are deleted
// and the coupon usage is incremented; on any failure nothing persists.
func (s *Service) CreateFromCart(ctx context.Context, req CreateRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateFromCart",
		trace.WithAttributes(attribute.String("owner.kind", ownerKind(req.Owner))),
	)
	defer span.End()

	if err := req.Owner.Validate(); err != nil {
		return nil, err
	}
	req.GuestEmail = strings.TrimSpace(req.GuestEmail)
	if req.Owner.IsGuest() && req.GuestEmail == "" {
		return nil, ErrGuestEmail
	}
	if req.Currency == "" {
		req.Currency = s.currency
	}
	if req.Actor == "" {
		req.Actor = SystemActor
	}

	var (
		o          *Order
		variantIDs []int64
		couponCode string
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, variantIDs, couponCode = nil, nil, ""
		now := s.now()

		c, err := tx.FindCart(ctx, req.Owner)
		if err != nil {
			if errors.Is(err, cart.ErrNotFound) {
				return ErrEmptyCart
			}
			return errors.Wrap(err, "find cart")
		}
		items, err := tx.ListCartItems(ctx, c.ID)
		if err != nil {
			return errors.Wrap(err, "list cart items")
		}
		if len(items) == 0 {
			return ErrEmptyCart
		}

		// Lock every variant in a stable order before reading stock.
		for _, it := range items {
			variantIDs = append(variantIDs, it.VariantID)
		}
		slices.Sort(variantIDs)
		variantIDs = slices.Compact(variantIDs)
		locked, err := tx.LockVariants(ctx, variantIDs)
		if err != nil {
			return errors.Wrap(err, "lock variants")
		}
		variants := make(map[int64]*product.Variant, len(locked))
		for i := range locked {
			variants[locked[i].ID] = &locked[i]
		}

		o = &Order{
			Number:          NewNumber(),
			Owner:           req.Owner,
			GuestEmail:      req.GuestEmail,
			Status:          StatusPending,
			PaymentStatus:   PaymentUnpaid,
			Currency:        req.Currency,
			Subtotal:        decimal.Zero,
			Discount:        decimal.Zero,
			Shipping:        decimal.Zero,
			Tax:             money.Quantize(req.Tax),
			Total:           decimal.Zero,
			ShippingAddress: req.ShippingAddress,
			BillingAddress:  req.ShippingAddress,
			Notes:           req.Notes,
		}
		if req.BillingAddress != nil {
			o.BillingAddress = *req.BillingAddress
		}

		var method *shipping.Method
		if req.ShippingMethodID != 0 {
			method, err = tx.GetShippingMethod(ctx, req.ShippingMethodID)
			if err != nil {
				return err
			}
			o.ShippingMethodID = &method.ID
			o.ShippingMethodName = method.Name
			o.Shipping = money.Quantize(method.BaseCost)
		}

		if err := tx.CreateOrder(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}

		slices.SortFunc(items, func(a, b cart.Item) int {
			return cmp.Or(cmp.Compare(a.VariantID, b.VariantID), cmp.Compare(a.ID, b.ID))
		})

		subtotal := decimal.Zero
		lines := make([]Item, 0, len(items))
		for _, it := range items {
			v, ok := variants[it.VariantID]
			if !ok {
				return errors.Wrapf(product.ErrNotFound, "variant %d", it.VariantID)
			}

			unit := money.Quantize(v.EffectivePrice(now))
			if !v.AllowBackorder && it.Quantity > v.Stock {
				return &stock.InsufficientError{SKU: v.SKU, Requested: it.Quantity, Available: max(v.Stock, 0)}
			}

			variantID := v.ID
			line := Item{
				VariantID:   &variantID,
				ProductName: v.DisplayName(),
				SKU:         v.SKU,
				UnitPrice:   unit,
				Quantity:    it.Quantity,
				LineTotal:   money.LineTotal(unit, it.Quantity),
			}
			lines = append(lines, line)
			subtotal = subtotal.Add(line.LineTotal)

			if !v.AllowBackorder {
				if err := stock.Take(ctx, tx, v.ID, s.warehouseID, v.SKU, it.Quantity, o.Number); err != nil {
					return err
				}
				v.Stock -= it.Quantity
			}
		}
		if err := tx.InsertOrderItems(ctx, o.ID, lines); err != nil {
			return errors.Wrap(err, "insert order items")
		}
		o.Items = lines
		o.Subtotal = money.Quantize(subtotal)

		cp, err := tx.GetCartCoupon(ctx, c.ID)
		if err != nil {
			return errors.Wrap(err, "get cart coupon")
		}
		if cp != nil && cp.IsValid(o.Subtotal, now) {
			couponID := cp.ID
			o.CouponID = &couponID
			o.CouponCode = cp.Code
			o.Discount = cp.Apply(o.Subtotal, now)
		}
		if method != nil {
			o.Shipping = money.Quantize(method.CostFor(o.Subtotal))
		}
		o.Total = total(o)

		if err := tx.SaveOrder(ctx, o); err != nil {
			return errors.Wrap(err, "save order")
		}

		if err := tx.ClearCartItems(ctx, c.ID); err != nil {
			return errors.Wrap(err, "clear cart")
		}
		if o.CouponID != nil {
			ok, err := tx.IncrementCouponUsage(ctx, *o.CouponID)
			if err != nil {
				return errors.Wrap(err, "increment coupon usage")
			}
			if !ok {
				return coupon.ErrUsageLimitReached
			}
			if _, err := tx.DeleteCartCoupon(ctx, c.ID); err != nil {
				return errors.Wrap(err, "remove cart coupon")
			}
			couponCode = o.CouponCode
		}

		for _, l := range []StatusLog{
			{OrderID: o.ID, ChangeType: ChangeStatus, NewValue: string(o.Status), Note: "Order created", Actor: req.Actor},
			{OrderID: o.ID, ChangeType: ChangePayment, NewValue: string(o.PaymentStatus), Note: "Order created", Actor: req.Actor},
		} {
			if err := tx.AppendStatusLog(ctx, &l); err != nil {
				return errors.Wrap(err, "append status log")
			}
		}
		return nil
	})
	if err != nil {
		s.checkoutFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", failureReason(err))))
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("order.id", o.ID),
		attribute.String("order.number", o.Number),
	)
	s.ordersCreated.Add(ctx, 1)
	if couponCode != "" {
		s.couponsUsed.Add(ctx, 1)
	}

	zctx.From(ctx).Info("Order created",
		zap.Int64("order_id", o.ID),
		zap.String("number", o.Number),
		zap.String("owner", o.Owner.String()),
		zap.Int("items", len(o.Items)),
		zap.String("total", money.Format(o.Total)),
	)

	keys := []string{cache.CartKey(o.Owner), cache.OrderKey(o.ID)}
	for _, id := range variantIDs {
		keys = append(keys, cache.VariantKey(id))
	}
	if couponCode != "" {
		keys = append(keys, cache.CouponKey(couponCode))
	}
	cache.InvalidateQuietly(ctx, s.cache, keys...)
	s.publish(ctx, events.OrderCreated, o)
	return o, nil
}

// total is quantize(subtotal - discount + shipping + tax).
func total(o *Order) decimal.Decimal {
	return money.Quantize(o.Subtotal.Sub(o.Discount).Add(o.Shipping).Add(o.Tax))
}

func (s *Service) publish(ctx context.Context, typ string, o *Order) {
	events.PublishQuietly(ctx, s.events, events.Event{
		Type:          typ,
		OrderID:       o.ID,
		OrderNumber:   o.Number,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Total:         money.Format(o.Total),
		Currency:      o.Currency,
		OccurredAt:    s.now(),
	})
}

func ownerKind(o owner.Owner) string {
	switch {
	case o.IsUser():
		return "user"
	case o.IsGuest():
		return "guest"
	default:
		return "none"
	}
}

func failureReason(err error) string {
	var conflict *stock.ConflictError
	switch {
	case errors.As(err, &conflict):
		return "stock_conflict"
	case errors.Is(err, stock.ErrInsufficient):
		return "insufficient_stock"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, coupon.ErrUsageLimitReached):
		return "coupon_exhausted"
	default:
		return "error"
	}
}

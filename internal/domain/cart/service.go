package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/cache"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/owner"
	"github.com/xenking/kart-checkout/internal/money"
)

// Service encapsulates cart business logic. Every mutation runs in one
// transaction and invalidates the affected cache keys after commit.
type Service struct {
	store  Store
	cache  cache.Invalidator
	tracer trace.Tracer
	now    func() time.Time
}

// NewService creates a cart Service. A nil invalidator or tracer provider
// disables that concern.
func NewService(store Store, inv cache.Invalidator, tp trace.TracerProvider) *Service {
	if inv == nil {
		inv = cache.Nop{}
	}
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Service{
		store:  store,
		cache:  inv,
		tracer: tp.Tracer("kart/cart"),
		now:    time.Now,
	}
}

// GetOrCreate returns the owner's cart, creating an empty one on first use.
// Calling it twice for the same owner yields the same cart.
func (s *Service) GetOrCreate(ctx context.Context, o owner.Owner) (*Cart, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	var c *Cart
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		c, err = tx.GetOrCreateCart(ctx, o)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "get or create cart")
	}
	return c, nil
}

// Find returns the owner's cart without creating one.
func (s *Service) Find(ctx context.Context, o owner.Owner) (*Cart, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	var c *Cart
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		c, err = tx.FindCart(ctx, o)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// AddItem adds qty units of a variant. An existing line for the same variant
// is incremented; the resulting quantity is validated against the order
// bounds and live stock before it is written.
func (s *Service) AddItem(ctx context.Context, o owner.Owner, variantID int64, qty int) (*Item, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if qty < 1 {
		return nil, &InvalidQuantityError{Quantity: qty, Min: 1}
	}

	var item *Item
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.GetOrCreateCart(ctx, o)
		if err != nil {
			return errors.Wrap(err, "get or create cart")
		}
		v, err := tx.GetVariant(ctx, variantID)
		if err != nil {
			return err
		}
		items, err := tx.ListCartItems(ctx, c.ID)
		if err != nil {
			return errors.Wrap(err, "list items")
		}

		if existing := findByVariant(items, variantID); existing != nil {
			total := existing.Quantity + qty
			if err := ValidateQuantity(v, total); err != nil {
				return err
			}
			if err := tx.SetCartItemQuantity(ctx, existing.ID, total); err != nil {
				return errors.Wrap(err, "update quantity")
			}
			existing.Quantity = total
			existing.Variant = *v
			item = existing
			return nil
		}

		if err := ValidateQuantity(v, qty); err != nil {
			return err
		}
		item, err = tx.InsertCartItem(ctx, c.ID, variantID, qty)
		if err != nil {
			return errors.Wrap(err, "insert item")
		}
		item.Variant = *v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, cache.CartKey(o))
	return item, nil
}

// UpdateQuantity sets the quantity of an existing line.
func (s *Service) UpdateQuantity(ctx context.Context, o owner.Owner, itemID int64, qty int) (*Item, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	var item *Item
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.FindCart(ctx, o)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrItemNotFound
			}
			return err
		}
		items, err := tx.ListCartItems(ctx, c.ID)
		if err != nil {
			return errors.Wrap(err, "list items")
		}
		item = findByID(items, itemID)
		if item == nil {
			return ErrItemNotFound
		}
		if err := ValidateQuantity(&item.Variant, qty); err != nil {
			return err
		}
		if err := tx.SetCartItemQuantity(ctx, item.ID, qty); err != nil {
			return errors.Wrap(err, "update quantity")
		}
		item.Quantity = qty
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, cache.CartKey(o))
	return item, nil
}

// RemoveItem deletes a line from the owner's cart.
func (s *Service) RemoveItem(ctx context.Context, o owner.Owner, itemID int64) error {
	if err := o.Validate(); err != nil {
		return err
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.FindCart(ctx, o)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrItemNotFound
			}
			return err
		}
		ok, err := tx.DeleteCartItem(ctx, c.ID, itemID)
		if err != nil {
			return errors.Wrap(err, "delete item")
		}
		if !ok {
			return ErrItemNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, cache.CartKey(o))
	return nil
}

// Clear removes every item and the applied coupon. The container is kept.
func (s *Service) Clear(ctx context.Context, o owner.Owner) error {
	if err := o.Validate(); err != nil {
		return err
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.FindCart(ctx, o)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if err := tx.ClearCartItems(ctx, c.ID); err != nil {
			return errors.Wrap(err, "clear items")
		}
		if _, err := tx.DeleteCartCoupon(ctx, c.ID); err != nil {
			return errors.Wrap(err, "remove coupon")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, cache.CartKey(o))
	return nil
}

// Items returns the owner's cart lines, or nil when there is no cart.
func (s *Service) Items(ctx context.Context, o owner.Owner) ([]Item, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	var items []Item
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.FindCart(ctx, o)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		items, err = tx.ListCartItems(ctx, c.ID)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "list items")
	}
	return items, nil
}

// Subtotal returns the quantized sum of line totals.
func (s *Service) Subtotal(ctx context.Context, o owner.Owner) (decimal.Decimal, error) {
	items, err := s.Items(ctx, o)
	if err != nil {
		return decimal.Zero, err
	}
	return Subtotal(items, s.now()), nil
}

// Summary prices the owner's cart. A missing cart yields an empty summary.
func (s *Service) Summary(ctx context.Context, o owner.Owner) (*Summary, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	sum := &Summary{
		Owner:    o,
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
		Shipping: decimal.Zero,
		Tax:      decimal.Zero,
		Total:    decimal.Zero,
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.FindCart(ctx, o)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		sum.CartID = c.ID

		items, err := tx.ListCartItems(ctx, c.ID)
		if err != nil {
			return errors.Wrap(err, "list items")
		}
		for i := range items {
			it := &items[i]
			sum.Items = append(sum.Items, Line{
				ItemID:    it.ID,
				VariantID: it.VariantID,
				SKU:       it.Variant.SKU,
				Name:      it.Variant.DisplayName(),
				UnitPrice: it.UnitPrice(now),
				Quantity:  it.Quantity,
				LineTotal: it.LineTotal(now),
			})
		}
		sum.TotalQuantity = TotalQuantity(items)
		sum.Subtotal = Subtotal(items, now)

		cp, err := tx.GetCartCoupon(ctx, c.ID)
		if err != nil {
			return errors.Wrap(err, "get coupon")
		}
		if cp != nil {
			sum.CouponCode = cp.Code
			sum.Discount = cp.Apply(sum.Subtotal, now)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "summarize cart")
	}

	sum.Total = money.Quantize(sum.Subtotal.Sub(sum.Discount).Add(sum.Shipping).Add(sum.Tax))
	return sum, nil
}

// ApplyCoupon attaches the coupon matching code when it is valid for the
// current subtotal, replacing any previously applied coupon. Invalid or
// unknown codes return false without an error.
func (s *Service) ApplyCoupon(ctx context.Context, o owner.Owner, code string) (bool, error) {
	if err := o.Validate(); err != nil {
		return false, err
	}
	var applied *coupon.Coupon
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.GetOrCreateCart(ctx, o)
		if err != nil {
			return errors.Wrap(err, "get or create cart")
		}
		items, err := tx.ListCartItems(ctx, c.ID)
		if err != nil {
			return errors.Wrap(err, "list items")
		}
		cp, ok, err := coupon.Lookup(ctx, tx, code, Subtotal(items, s.now()), s.now())
		if err != nil || !ok {
			return err
		}
		if err := tx.SetCartCoupon(ctx, c.ID, cp.ID); err != nil {
			return errors.Wrap(err, "set coupon")
		}
		applied = cp
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied == nil {
		zctx.From(ctx).Debug("Coupon rejected", zap.String("owner", o.String()))
		return false, nil
	}

	s.invalidate(ctx, cache.CartKey(o))
	return true, nil
}

// RemoveCoupon detaches the applied coupon and reports whether one existed.
func (s *Service) RemoveCoupon(ctx context.Context, o owner.Owner) (bool, error) {
	if err := o.Validate(); err != nil {
		return false, err
	}
	var removed bool
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.FindCart(ctx, o)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		removed, err = tx.DeleteCartCoupon(ctx, c.ID)
		return err
	})
	if err != nil {
		return false, errors.Wrap(err, "remove coupon")
	}
	if removed {
		s.invalidate(ctx, cache.CartKey(o))
	}
	return removed, nil
}

// MergeGuestIntoUser folds the guest cart into the user's cart on login.
//
// Lines for a variant already in the user cart are summed, others are moved.
// Every resulting quantity is validated against the order bounds and live
// stock; a single violation aborts the whole merge. The guest coupon is kept
// only when the user cart has none and it is valid for the merged subtotal.
// The guest container is deleted. A missing guest cart is not an error.
func (s *Service) MergeGuestIntoUser(ctx context.Context, userID int64, guestToken string) (*Cart, error) {
	ctx, span := s.tracer.Start(ctx, "cart.MergeGuestIntoUser",
		trace.WithAttributes(attribute.Int64("user_id", userID)),
	)
	defer span.End()

	userOwner := owner.User(userID)
	guestOwner := owner.Guest(guestToken)
	if err := userOwner.Validate(); err != nil {
		return nil, err
	}
	if err := guestOwner.Validate(); err != nil {
		return nil, err
	}

	var (
		userCart *Cart
		moved    int
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		moved = 0
		var err error
		userCart, err = tx.GetOrCreateCart(ctx, userOwner)
		if err != nil {
			return errors.Wrap(err, "get or create user cart")
		}
		guestCart, err := tx.FindCart(ctx, guestOwner)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return errors.Wrap(err, "find guest cart")
		}

		guestItems, err := tx.ListCartItems(ctx, guestCart.ID)
		if err != nil {
			return errors.Wrap(err, "list guest items")
		}
		userItems, err := tx.ListCartItems(ctx, userCart.ID)
		if err != nil {
			return errors.Wrap(err, "list user items")
		}

		for i := range guestItems {
			gi := &guestItems[i]
			if ui := findByVariant(userItems, gi.VariantID); ui != nil {
				total := ui.Quantity + gi.Quantity
				if err := ValidateQuantity(&gi.Variant, total); err != nil {
					return err
				}
				if err := tx.SetCartItemQuantity(ctx, ui.ID, total); err != nil {
					return errors.Wrap(err, "sum quantities")
				}
				ui.Quantity = total
			} else {
				if err := ValidateQuantity(&gi.Variant, gi.Quantity); err != nil {
					return err
				}
				if _, err := tx.InsertCartItem(ctx, userCart.ID, gi.VariantID, gi.Quantity); err != nil {
					return errors.Wrap(err, "move item")
				}
			}
			moved++
		}

		guestCoupon, err := tx.GetCartCoupon(ctx, guestCart.ID)
		if err != nil {
			return errors.Wrap(err, "get guest coupon")
		}
		if guestCoupon != nil {
			userCoupon, err := tx.GetCartCoupon(ctx, userCart.ID)
			if err != nil {
				return errors.Wrap(err, "get user coupon")
			}
			if userCoupon == nil {
				merged, err := tx.ListCartItems(ctx, userCart.ID)
				if err != nil {
					return errors.Wrap(err, "list merged items")
				}
				now := s.now()
				if guestCoupon.IsValid(Subtotal(merged, now), now) {
					if err := tx.SetCartCoupon(ctx, userCart.ID, guestCoupon.ID); err != nil {
						return errors.Wrap(err, "transfer coupon")
					}
				}
			}
		}

		if err := tx.DeleteCart(ctx, guestCart.ID); err != nil {
			return errors.Wrap(err, "delete guest cart")
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "merge failed")
		return nil, err
	}

	zctx.From(ctx).Info("Guest cart merged",
		zap.Int64("user_id", userID),
		zap.Int64("cart_id", userCart.ID),
		zap.Int("items", moved),
	)
	s.invalidate(ctx, cache.CartKey(userOwner), cache.CartKey(guestOwner))
	return userCart, nil
}

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	cache.InvalidateQuietly(ctx, s.cache, keys...)
}

func findByVariant(items []Item, variantID int64) *Item {
	for i := range items {
		if items[i].VariantID == variantID {
			return &items[i]
		}
	}
	return nil
}

func findByID(items []Item, itemID int64) *Item {
	for i := range items {
		if items[i].ID == itemID {
			return &items[i]
		}
	}
	return nil
}

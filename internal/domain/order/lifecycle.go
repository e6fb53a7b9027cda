package order

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/cache"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/owner"
	"github.com/xenking/kart-checkout/internal/events"
	"github.com/xenking/kart-checkout/internal/money"
)

// statusRank orders the forward-progressing statuses.
var statusRank = map[Status]int{
	StatusPending:    0,
	StatusConfirmed:  1,
	StatusProcessing: 2,
	StatusShipped:    3,
	StatusDelivered:  4,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, forward := statusRank[s]
	return forward || s.Terminal()
}

// Terminal reports whether s is a sink state.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

// CanTransition reports whether status may move from one value to another.
// Forward statuses only advance; cancelled and refunded are reachable from
// every non-terminal status and left by none.
func CanTransition(from, to Status) bool {
	if from == to || from.Terminal() || !to.Valid() {
		return false
	}
	if to.Terminal() {
		return true
	}
	return statusRank[to] > statusRank[from]
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentUnpaid:  {PaymentPending, PaymentPaid, PaymentFailed},
	PaymentPending: {PaymentPaid, PaymentFailed},
	PaymentFailed:  {PaymentPending, PaymentPaid},
	PaymentPaid:    {PaymentRefunded},
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	_, ok := paymentTransitions[s]
	return ok || s == PaymentRefunded
}

// CanTransitionPayment reports whether payment status may move from one
// value to another.
func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, allowed := range paymentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanCancel reports whether the order may still be cancelled by Cancel.
func (o *Order) CanCancel() bool {
	switch o.Status {
	case StatusPending, StatusConfirmed, StatusProcessing:
		return true
	default:
		return false
	}
}

// Get returns an order with its items.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	var o *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.GetOrder(ctx, id, false)
		if err != nil {
			return err
		}
		o.Items, err = tx.ListOrderItems(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// GetByNumber returns an order with its items by order number.
func (s *Service) GetByNumber(ctx context.Context, number string) (*Order, error) {
	var o *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.GetOrderByNumber(ctx, strings.ToUpper(strings.TrimSpace(number)))
		if err != nil {
			return err
		}
		o.Items, err = tx.ListOrderItems(ctx, o.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ListByOwner returns the owner's orders newest first, without items.
func (s *Service) ListByOwner(ctx context.Context, o owner.Owner, limit int) ([]Order, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListOrders(ctx, o, limit)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return out, nil
}

// RecalculateTotals recomputes subtotal from the current items, reapplies
// the attached coupon (zero discount if it is no longer valid) and rebuilds
// the total with the stored shipping and tax. With persist false the result
// is returned without being written.
func (s *Service) RecalculateTotals(ctx context.Context, id int64, persist bool) (*Order, error) {
	var o *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = s.loadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.recalculate(ctx, tx, o); err != nil {
			return err
		}
		if !persist {
			return nil
		}
		return tx.SaveOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	if persist {
		cache.InvalidateQuietly(ctx, s.cache, cache.OrderKey(id))
	}
	return o, nil
}

// RemoveItem deletes a line from an order and persists the recalculated
// totals in the same transaction. It is an administrative correction; stock
// is not restored.
func (s *Service) RemoveItem(ctx context.Context, orderID, itemID int64) (*Order, error) {
	var o *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = s.loadForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			return errors.Wrapf(ErrInvalidTransition, "order is %s", o.Status)
		}
		ok, err := tx.DeleteOrderItem(ctx, orderID, itemID)
		if err != nil {
			return errors.Wrap(err, "delete item")
		}
		if !ok {
			return ErrItemNotFound
		}
		if o.Items, err = tx.ListOrderItems(ctx, orderID); err != nil {
			return errors.Wrap(err, "list items")
		}
		if err := s.recalculate(ctx, tx, o); err != nil {
			return err
		}
		return tx.SaveOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	cache.InvalidateQuietly(ctx, s.cache, cache.OrderKey(orderID))
	return o, nil
}

// ApplyCoupon attaches the coupon matching code to an existing order when
// it is valid for the current subtotal, counts the redemption and persists
// the recalculated totals. A replaced coupon gets its redemption back.
// Unknown or invalid codes return false without an error. Cancelled and
// refunded orders are rejected with ErrInvalidTransition.
func (s *Service) ApplyCoupon(ctx context.Context, id int64, code string) (bool, error) {
	var (
		o       *Order
		applied bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = s.loadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			return errors.Wrapf(ErrInvalidTransition, "order is %s", o.Status)
		}
		if err := s.recalculate(ctx, tx, o); err != nil {
			return err
		}
		cp, ok, err := coupon.Lookup(ctx, tx, code, o.Subtotal, s.now())
		if err != nil || !ok {
			return err
		}
		if o.CouponID == nil || *o.CouponID != cp.ID {
			redeemed, err := tx.IncrementCouponUsage(ctx, cp.ID)
			if err != nil {
				return errors.Wrap(err, "increment coupon usage")
			}
			if !redeemed {
				return coupon.ErrUsageLimitReached
			}
			if o.CouponID != nil {
				if err := tx.ReleaseCouponUsage(ctx, *o.CouponID); err != nil {
					return errors.Wrap(err, "release coupon usage")
				}
			}
		}
		couponID := cp.ID
		o.CouponID = &couponID
		o.CouponCode = cp.Code
		if err := s.recalculate(ctx, tx, o); err != nil {
			return err
		}
		applied = true
		return tx.SaveOrder(ctx, o)
	})
	if err != nil {
		return false, err
	}
	if applied {
		cache.InvalidateQuietly(ctx, s.cache, cache.OrderKey(id))
	}
	return applied, nil
}

// UpdateStatus moves the order to status to and appends an audit entry.
// Setting the current status again is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, id int64, to Status, actor, note string) (*Order, error) {
	return s.transition(ctx, id, actor, func(o *Order) (*StatusLog, error) {
		if o.Status == to {
			return nil, nil
		}
		if !CanTransition(o.Status, to) {
			return nil, errors.Wrapf(ErrInvalidTransition, "%s -> %s", o.Status, to)
		}
		l := &StatusLog{ChangeType: ChangeStatus, OldValue: string(o.Status), NewValue: string(to), Note: note}
		o.Status = to
		return l, nil
	}, nil)
}

// UpdatePaymentStatus moves the payment status and appends an audit entry.
// Setting the current value again is a no-op.
func (s *Service) UpdatePaymentStatus(ctx context.Context, id int64, to PaymentStatus, actor, note string) (*Order, error) {
	return s.transition(ctx, id, actor, paymentChange(to, note), nil)
}

// Cancel cancels an order that is still pending, confirmed or processing.
// A non-empty reason is appended to the order notes.
func (s *Service) Cancel(ctx context.Context, id int64, reason, actor string) (*Order, error) {
	return s.transition(ctx, id, actor, func(o *Order) (*StatusLog, error) {
		if !o.CanCancel() {
			return nil, ErrCannotCancel
		}
		reason = strings.TrimSpace(reason)
		if reason != "" {
			if o.Notes != "" {
				o.Notes += "\n"
			}
			o.Notes += "Cancel: " + reason
		}
		l := &StatusLog{ChangeType: ChangeStatus, OldValue: string(o.Status), NewValue: string(StatusCancelled), Note: reason}
		o.Status = StatusCancelled
		return l, nil
	}, nil)
}

// MarkPaid sets the payment status to paid. When transactionID is given a
// Payment for the current total is recorded, also for an order that is
// already paid; a transaction id already recorded for the order is skipped.
func (s *Service) MarkPaid(ctx context.Context, id int64, transactionID string, method PaymentMethod, actor string) (*Order, error) {
	if method == "" {
		method = MethodCOD
	}
	if !method.Valid() {
		return nil, errors.Wrapf(ErrInvalidPayment, "method %q", method)
	}
	transactionID = strings.TrimSpace(transactionID)

	return s.transition(ctx, id, actor, paymentChange(PaymentPaid, "Marked paid"), func(ctx context.Context, tx Tx, o *Order) error {
		if transactionID == "" {
			return nil
		}
		recorded, err := tx.ListPayments(ctx, o.ID)
		if err != nil {
			return errors.Wrap(err, "list payments")
		}
		for _, p := range recorded {
			if p.TransactionID == transactionID {
				return nil
			}
		}
		if !o.Total.IsPositive() {
			return errors.Wrap(ErrInvalidPayment, "amount must be positive")
		}
		return tx.CreatePayment(ctx, &Payment{
			OrderID:       o.ID,
			Method:        method,
			Status:        PaymentPaid,
			Amount:        o.Total,
			Currency:      o.Currency,
			TransactionID: transactionID,
			PaidAt:        s.now(),
		})
	})
}

// StatusLog returns the audit trail of an order, oldest first.
func (s *Service) StatusLog(ctx context.Context, id int64) ([]StatusLog, error) {
	var out []StatusLog
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetOrder(ctx, id, false); err != nil {
			return err
		}
		var err error
		out, err = tx.ListStatusLog(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Payments returns the payments recorded for an order.
func (s *Service) Payments(ctx context.Context, id int64) ([]Payment, error) {
	var out []Payment
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetOrder(ctx, id, false); err != nil {
			return err
		}
		var err error
		out, err = tx.ListPayments(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func paymentChange(to PaymentStatus, note string) func(o *Order) (*StatusLog, error) {
	return func(o *Order) (*StatusLog, error) {
		if o.PaymentStatus == to {
			return nil, nil
		}
		if !CanTransitionPayment(o.PaymentStatus, to) {
			return nil, errors.Wrapf(ErrInvalidTransition, "payment %s -> %s", o.PaymentStatus, to)
		}
		l := &StatusLog{ChangeType: ChangePayment, OldValue: string(o.PaymentStatus), NewValue: string(to), Note: note}
		o.PaymentStatus = to
		return l, nil
	}
}

// transition locks the order, applies change and, when change reports a
// log entry, persists the order and the entry. after runs in the same
// transaction whether or not anything changed. A nil entry means the order
// itself was left as is.
func (s *Service) transition(
	ctx context.Context,
	id int64,
	actor string,
	change func(o *Order) (*StatusLog, error),
	after func(ctx context.Context, tx Tx, o *Order) error,
) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.transition", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if actor == "" {
		actor = SystemActor
	}

	var (
		o   *Order
		log *StatusLog
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.GetOrder(ctx, id, true)
		if err != nil {
			return err
		}
		log, err = change(o)
		if err != nil {
			return err
		}
		if log != nil {
			log.OrderID = o.ID
			log.Actor = actor
			if err := tx.SaveOrder(ctx, o); err != nil {
				return errors.Wrap(err, "save order")
			}
			if err := tx.AppendStatusLog(ctx, log); err != nil {
				return errors.Wrap(err, "append status log")
			}
		}
		if after != nil {
			return after(ctx, tx, o)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if log == nil {
		return o, nil
	}

	zctx.From(ctx).Info("Order transitioned",
		zap.Int64("order_id", o.ID),
		zap.String("change", string(log.ChangeType)),
		zap.String("from", log.OldValue),
		zap.String("to", log.NewValue),
		zap.String("actor", actor),
	)
	cache.InvalidateQuietly(ctx, s.cache, cache.OrderKey(o.ID))
	typ := events.OrderStatusChanged
	if log.ChangeType == ChangePayment {
		typ = events.OrderPaymentChange
	}
	s.publish(ctx, typ, o)
	return o, nil
}

func (s *Service) loadForUpdate(ctx context.Context, tx Tx, id int64) (*Order, error) {
	o, err := tx.GetOrder(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if o.Items, err = tx.ListOrderItems(ctx, id); err != nil {
		return nil, errors.Wrap(err, "list items")
	}
	return o, nil
}

// recalculate rebuilds the totals of o from o.Items.
func (s *Service) recalculate(ctx context.Context, tx Tx, o *Order) error {
	subtotal := decimal.Zero
	for _, it := range o.Items {
		subtotal = subtotal.Add(it.LineTotal)
	}
	o.Subtotal = money.Quantize(subtotal)

	o.Discount = decimal.Zero
	if o.CouponID != nil {
		cp, err := tx.GetCoupon(ctx, *o.CouponID)
		if err != nil && !errors.Is(err, coupon.ErrInvalidCoupon) {
			return errors.Wrap(err, "get coupon")
		}
		if cp != nil {
			o.Discount = cp.ApplyRedeemed(o.Subtotal, s.now())
		}
	}
	o.Shipping = money.Quantize(o.Shipping)
	o.Tax = money.Quantize(o.Tax)
	o.Total = total(o)
	return nil
}

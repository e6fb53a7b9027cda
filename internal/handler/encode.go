package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/owner"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

// writeJSON writes status and the object produced by encode.
func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// Amounts are rendered as fixed two-decimal strings.
func encodeMoney(e *jx.Encoder, field string, d decimal.Decimal) {
	e.FieldStart(field)
	e.Str(d.StringFixedBank(2))
}

func encodeTime(e *jx.Encoder, field string, t time.Time) {
	e.FieldStart(field)
	if t.IsZero() {
		e.Null()
		return
	}
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeOwner(e *jx.Encoder, o owner.Owner) {
	e.FieldStart("owner")
	e.ObjStart()
	if id, ok := o.UserID(); ok {
		e.FieldStart("user_id")
		e.Int64(id)
	}
	if token, ok := o.GuestToken(); ok {
		e.FieldStart("guest_token")
		e.Str(token)
	}
	e.ObjEnd()
}

func encodeFlag(field string, v bool) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart(field)
		e.Bool(v)
		e.ObjEnd()
	}
}

func encodeSummary(s *cart.Summary) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		e.ObjStart()
		if s.CartID != 0 {
			e.FieldStart("cart_id")
			e.Int64(s.CartID)
		}
		encodeOwner(e, s.Owner)
		e.FieldStart("items")
		e.ArrStart()
		for _, l := range s.Items {
			e.ObjStart()
			e.FieldStart("id")
			e.Int64(l.ItemID)
			e.FieldStart("variant_id")
			e.Int64(l.VariantID)
			e.FieldStart("sku")
			e.Str(l.SKU)
			e.FieldStart("name")
			e.Str(l.Name)
			encodeMoney(e, "unit_price", l.UnitPrice)
			e.FieldStart("quantity")
			e.Int(l.Quantity)
			encodeMoney(e, "line_total", l.LineTotal)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.FieldStart("item_count")
		e.Int(len(s.Items))
		e.FieldStart("total_quantity")
		e.Int(s.TotalQuantity)
		encodeMoney(e, "subtotal", s.Subtotal)
		encodeMoney(e, "discount", s.Discount)
		encodeMoney(e, "shipping", s.Shipping)
		encodeMoney(e, "tax", s.Tax)
		encodeMoney(e, "total", s.Total)
		if s.CouponCode != "" {
			e.FieldStart("coupon_code")
			e.Str(s.CouponCode)
		}
		e.ObjEnd()
	}
}

func encodeCartItem(it *cart.Item, now time.Time) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(it.ID)
		e.FieldStart("cart_id")
		e.Int64(it.CartID)
		e.FieldStart("variant_id")
		e.Int64(it.VariantID)
		e.FieldStart("sku")
		e.Str(it.Variant.SKU)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		encodeMoney(e, "unit_price", it.UnitPrice(now))
		encodeMoney(e, "line_total", it.LineTotal(now))
		e.ObjEnd()
	}
}

func encodeAddress(e *jx.Encoder, field string, a order.Address) {
	e.FieldStart(field)
	e.ObjStart()
	for _, kv := range [...]struct{ k, v string }{
		{"full_name", a.FullName},
		{"email", a.Email},
		{"phone", a.Phone},
		{"line1", a.Line1},
		{"line2", a.Line2},
		{"city", a.City},
		{"state", a.State},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
	} {
		if kv.v == "" {
			continue
		}
		e.FieldStart(kv.k)
		e.Str(kv.v)
	}
	e.ObjEnd()
}

func encodeOrderFields(e *jx.Encoder, o *order.Order) {
	e.FieldStart("id")
	e.Int64(o.ID)
	e.FieldStart("order_number")
	e.Str(o.Number)
	encodeOwner(e, o.Owner)
	if o.GuestEmail != "" {
		e.FieldStart("guest_email")
		e.Str(o.GuestEmail)
	}
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("payment_status")
	e.Str(string(o.PaymentStatus))
	e.FieldStart("currency")
	e.Str(o.Currency)
	encodeMoney(e, "subtotal", o.Subtotal)
	encodeMoney(e, "discount", o.Discount)
	encodeMoney(e, "shipping", o.Shipping)
	encodeMoney(e, "tax", o.Tax)
	encodeMoney(e, "total", o.Total)
	if o.CouponCode != "" {
		e.FieldStart("coupon_code")
		e.Str(o.CouponCode)
	}
	if o.ShippingMethodName != "" {
		e.FieldStart("shipping_method")
		e.Str(o.ShippingMethodName)
	}
	if o.Notes != "" {
		e.FieldStart("notes")
		e.Str(o.Notes)
	}
	encodeTime(e, "created_at", o.CreatedAt)
	encodeTime(e, "updated_at", o.UpdatedAt)
}

func encodeOrder(o *order.Order) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		e.ObjStart()
		encodeOrderFields(e, o)
		encodeAddress(e, "shipping_address", o.ShippingAddress)
		encodeAddress(e, "billing_address", o.BillingAddress)
		e.FieldStart("items")
		e.ArrStart()
		for _, it := range o.Items {
			e.ObjStart()
			e.FieldStart("id")
			e.Int64(it.ID)
			e.FieldStart("variant_id")
			if it.VariantID != nil {
				e.Int64(*it.VariantID)
			} else {
				e.Null()
			}
			e.FieldStart("product_name")
			e.Str(it.ProductName)
			e.FieldStart("sku")
			e.Str(it.SKU)
			encodeMoney(e, "unit_price", it.UnitPrice)
			e.FieldStart("quantity")
			e.Int(it.Quantity)
			encodeMoney(e, "line_total", it.LineTotal)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	}
}

func encodeOrders(orders []order.Order) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("orders")
		e.ArrStart()
		for i := range orders {
			e.ObjStart()
			encodeOrderFields(e, &orders[i])
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	}
}

func encodeStatusLog(logs []order.StatusLog) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("entries")
		e.ArrStart()
		for _, l := range logs {
			e.ObjStart()
			e.FieldStart("id")
			e.Int64(l.ID)
			e.FieldStart("change_type")
			e.Str(string(l.ChangeType))
			e.FieldStart("old_value")
			e.Str(l.OldValue)
			e.FieldStart("new_value")
			e.Str(l.NewValue)
			e.FieldStart("note")
			e.Str(l.Note)
			e.FieldStart("actor")
			e.Str(l.Actor)
			encodeTime(e, "created_at", l.CreatedAt)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	}
}

func encodePayments(payments []order.Payment) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("payments")
		e.ArrStart()
		for _, p := range payments {
			e.ObjStart()
			e.FieldStart("id")
			e.Int64(p.ID)
			e.FieldStart("method")
			e.Str(string(p.Method))
			e.FieldStart("status")
			e.Str(string(p.Status))
			encodeMoney(e, "amount", p.Amount)
			e.FieldStart("currency")
			e.Str(p.Currency)
			e.FieldStart("transaction_id")
			e.Str(p.TransactionID)
			encodeTime(e, "paid_at", p.PaidAt)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	}
}

func encodeLevel(l *stock.Level) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("variant_id")
		e.Int64(l.VariantID)
		e.FieldStart("warehouse_id")
		e.Int64(l.WarehouseID)
		e.FieldStart("on_hand")
		e.Int(l.OnHand)
		e.FieldStart("reserved")
		e.Int(l.Reserved)
		e.FieldStart("available")
		e.Int(l.Available())
		encodeTime(e, "updated_at", l.UpdatedAt)
		e.ObjEnd()
	}
}

func encodeMovements(ms []stock.Movement) func(e *jx.Encoder) {
	return func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("movements")
		e.ArrStart()
		for _, m := range ms {
			e.ObjStart()
			e.FieldStart("id")
			e.Int64(m.ID)
			e.FieldStart("warehouse_id")
			e.Int64(m.WarehouseID)
			e.FieldStart("type")
			e.Str(string(m.Type))
			e.FieldStart("quantity")
			e.Int(m.Quantity)
			e.FieldStart("reference")
			e.Str(m.Reference)
			e.FieldStart("note")
			e.Str(m.Note)
			encodeTime(e, "created_at", m.CreatedAt)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	}
}

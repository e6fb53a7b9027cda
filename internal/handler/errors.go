package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/owner"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

// apiError is the body of every non-2xx response.
type apiError struct {
	status  int
	code    string
	message string
	details func(e *jx.Encoder)
}

func (a apiError) encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("error")
	e.Str(a.code)
	e.FieldStart("message")
	e.Str(a.message)
	if a.details != nil {
		a.details(e)
	}
	e.ObjEnd()
}

// writeError maps err to a status code and error body. Unmapped errors are
// logged and reported as 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	a := mapError(err)
	if a.status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	writeJSON(w, a.status, a.encode)
}

func mapError(err error) apiError {
	var (
		invalidQty   *cart.InvalidQuantityError
		conflict     *stock.ConflictError
		insufficient *stock.InsufficientError
		validation   validator.ValidationErrors
	)
	switch {
	case errors.As(err, &validation):
		return apiError{
			status:  http.StatusBadRequest,
			code:    "invalid_request",
			message: "request validation failed",
			details: func(e *jx.Encoder) {
				e.FieldStart("fields")
				e.ArrStart()
				for _, fe := range validation {
					e.ObjStart()
					e.FieldStart("field")
					e.Str(fe.Field())
					e.FieldStart("rule")
					e.Str(fe.Tag())
					e.ObjEnd()
				}
				e.ArrEnd()
			},
		}
	case errors.Is(err, errBadRequest):
		return apiError{status: http.StatusBadRequest, code: "bad_request", message: err.Error()}
	case errors.Is(err, owner.ErrInvalidOwner):
		return apiError{status: http.StatusBadRequest, code: "owner_required", message: err.Error()}
	case errors.Is(err, errUnauthorized):
		return apiError{status: http.StatusUnauthorized, code: "unauthorized", message: "admin token required"}

	case errors.As(err, &invalidQty):
		return apiError{
			status:  http.StatusUnprocessableEntity,
			code:    "invalid_quantity",
			message: invalidQty.Error(),
			details: func(e *jx.Encoder) {
				e.FieldStart("sku")
				e.Str(invalidQty.SKU)
				e.FieldStart("quantity")
				e.Int(invalidQty.Quantity)
				e.FieldStart("min")
				e.Int(invalidQty.Min)
				e.FieldStart("max")
				e.Int(invalidQty.Max)
			},
		}
	case errors.As(err, &conflict):
		return apiError{
			status:  http.StatusConflict,
			code:    "stock_conflict",
			message: conflict.Error(),
			details: func(e *jx.Encoder) {
				e.FieldStart("sku")
				e.Str(conflict.SKU)
				e.FieldStart("requested")
				e.Int(conflict.Requested)
			},
		}
	case errors.As(err, &insufficient):
		return apiError{
			status:  http.StatusConflict,
			code:    "insufficient_stock",
			message: insufficient.Error(),
			details: func(e *jx.Encoder) {
				e.FieldStart("sku")
				e.Str(insufficient.SKU)
				e.FieldStart("requested")
				e.Int(insufficient.Requested)
				e.FieldStart("available")
				e.Int(insufficient.Available)
			},
		}

	case errors.Is(err, coupon.ErrUsageLimitReached):
		return apiError{status: http.StatusConflict, code: "coupon_unavailable", message: coupon.ErrInvalidCoupon.Error()}
	case errors.Is(err, coupon.ErrInvalidCoupon),
		errors.Is(err, coupon.ErrInactive),
		errors.Is(err, coupon.ErrNotStarted),
		errors.Is(err, coupon.ErrExpired),
		errors.Is(err, coupon.ErrBelowMinimum):
		return apiError{status: http.StatusUnprocessableEntity, code: "invalid_coupon", message: coupon.ErrInvalidCoupon.Error()}

	case errors.Is(err, order.ErrEmptyCart):
		return apiError{status: http.StatusUnprocessableEntity, code: "empty_cart", message: err.Error()}
	case errors.Is(err, order.ErrGuestEmail):
		return apiError{status: http.StatusUnprocessableEntity, code: "guest_email_required", message: err.Error()}
	case errors.Is(err, order.ErrInvalidPayment):
		return apiError{status: http.StatusUnprocessableEntity, code: "invalid_payment", message: err.Error()}
	case errors.Is(err, stock.ErrInvalidAdjustment):
		return apiError{status: http.StatusUnprocessableEntity, code: "invalid_adjustment", message: err.Error()}
	case errors.Is(err, order.ErrInvalidTransition):
		return apiError{status: http.StatusConflict, code: "invalid_transition", message: err.Error()}
	case errors.Is(err, order.ErrCannotCancel):
		return apiError{status: http.StatusConflict, code: "cannot_cancel", message: err.Error()}

	case errors.Is(err, product.ErrNotFound):
		return apiError{status: http.StatusNotFound, code: "variant_not_found", message: product.ErrNotFound.Error()}
	case errors.Is(err, shipping.ErrNotFound):
		return apiError{status: http.StatusNotFound, code: "shipping_method_not_found", message: shipping.ErrNotFound.Error()}
	case errors.Is(err, cart.ErrNotFound):
		return apiError{status: http.StatusNotFound, code: "cart_not_found", message: cart.ErrNotFound.Error()}
	case errors.Is(err, cart.ErrItemNotFound):
		return apiError{status: http.StatusNotFound, code: "cart_item_not_found", message: cart.ErrItemNotFound.Error()}
	case errors.Is(err, order.ErrNotFound):
		return apiError{status: http.StatusNotFound, code: "order_not_found", message: order.ErrNotFound.Error()}
	case errors.Is(err, order.ErrItemNotFound):
		return apiError{status: http.StatusNotFound, code: "order_item_not_found", message: order.ErrItemNotFound.Error()}

	default:
		return apiError{status: http.StatusInternalServerError, code: "internal", message: "internal server error"}
	}
}

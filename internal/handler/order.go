package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

type addressRequest struct {
	FullName   string `json:"full_name" validate:"required,max=200"`
	Email      string `json:"email" validate:"omitempty,email"`
	Phone      string `json:"phone" validate:"required,max=32"`
	Line1      string `json:"line1" validate:"required,max=255"`
	Line2      string `json:"line2" validate:"max=255"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"max=20"`
	Country    string `json:"country" validate:"required,len=2"`
}

func (a *addressRequest) toDomain() order.Address {
	return order.Address{
		FullName:   strings.TrimSpace(a.FullName),
		Email:      strings.TrimSpace(a.Email),
		Phone:      strings.TrimSpace(a.Phone),
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      strings.TrimSpace(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.ToUpper(a.Country),
	}
}

type checkoutRequest struct {
	GuestEmail       string          `json:"guest_email" validate:"omitempty,email"`
	ShippingAddress  addressRequest  `json:"shipping_address"`
	BillingAddress   *addressRequest `json:"billing_address" validate:"omitempty"`
	ShippingMethodID int64           `json:"shipping_method_id" validate:"gte=0"`
	Currency         string          `json:"currency" validate:"omitempty,len=3,uppercase"`
	Tax              decimal.Decimal `json:"tax"`
	Notes            string          `json:"notes" validate:"max=2000"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note" validate:"max=500"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type markPaidRequest struct {
	TransactionID string `json:"transaction_id" validate:"max=128"`
	Method        string `json:"method" validate:"omitempty,oneof=cod ssl_commerz paystation"`
}

// Checkout converts the caller's cart into an order.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	o, err := resolveOwner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req checkoutRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Tax.IsNegative() {
		writeError(w, r, errors.Wrap(errBadRequest, "tax must not be negative"))
		return
	}
	cr := order.CreateRequest{
		Owner:            o,
		GuestEmail:       req.GuestEmail,
		ShippingAddress:  req.ShippingAddress.toDomain(),
		ShippingMethodID: req.ShippingMethodID,
		Currency:         req.Currency,
		Tax:              req.Tax,
		Notes:            strings.TrimSpace(req.Notes),
		Actor:            o.String(),
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.toDomain()
		cr.BillingAddress = &billing
	}
	created, err := h.orders.CreateFromCart(r.Context(), cr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, encodeOrder(created))
}

// ListOrders returns the caller's orders, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	o, err := resolveOwner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	orders, err := h.orders.ListByOwner(r.Context(), o, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrders(orders))
}

// GetOrder returns one order with its items.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.visibleOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

// GetOrderByNumber looks an order up by its human-facing number.
func (h *Handler) GetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByNumber(r.Context(), strings.ToUpper(r.PathValue("number")))
	if err == nil {
		err = h.checkVisible(r, o)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

// GetOrderStatusLog returns the audit trail of an order.
func (h *Handler) GetOrderStatusLog(w http.ResponseWriter, r *http.Request) {
	o, err := h.visibleOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logs, err := h.orders.StatusLog(r.Context(), o.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeStatusLog(logs))
}

// GetOrderPayments returns the payments recorded against an order.
func (h *Handler) GetOrderPayments(w http.ResponseWriter, r *http.Request) {
	o, err := h.visibleOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	payments, err := h.orders.Payments(r.Context(), o.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodePayments(payments))
}

// UpdateOrderStatus moves the fulfilment status.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req statusRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	to := order.Status(req.Status)
	if !to.Valid() {
		writeError(w, r, errors.Wrapf(errBadRequest, "unknown status %q", req.Status))
		return
	}
	o, err := h.orders.UpdateStatus(r.Context(), id, to, actor(r), req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

// UpdatePaymentStatus moves the payment status.
func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req statusRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	to := order.PaymentStatus(req.Status)
	if !to.Valid() {
		writeError(w, r, errors.Wrapf(errBadRequest, "unknown payment status %q", req.Status))
		return
	}
	o, err := h.orders.UpdatePaymentStatus(r.Context(), id, to, actor(r), req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

// CancelOrder cancels an order that has not shipped.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req cancelRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Cancel(r.Context(), id, req.Reason, actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

// MarkOrderPaid settles an order, recording a payment when a transaction id
// is given.
func (h *Handler) MarkOrderPaid(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req markPaidRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.MarkPaid(r.Context(), id, req.TransactionID, order.PaymentMethod(req.Method), actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

// ApplyOrderCoupon attaches a coupon to an existing order.
func (h *Handler) ApplyOrderCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req couponRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	applied, err := h.orders.ApplyCoupon(r.Context(), id, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !applied {
		writeError(w, r, coupon.ErrInvalidCoupon)
		return
	}
	h.respondOrder(w, r, id)
}

// RecalculateOrder recomputes and persists the totals of an order.
func (h *Handler) RecalculateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.RecalculateTotals(r.Context(), id, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

// RemoveOrderItem deletes a line from an order and recalculates it.
func (h *Handler) RemoveOrderItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	itemID, err := pathID(r, "item")
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.RemoveItem(r.Context(), id, itemID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) respondOrder(w http.ResponseWriter, r *http.Request, id int64) {
	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

// visibleOrder loads the order named by the id path value if the caller may
// see it.
func (h *Handler) visibleOrder(r *http.Request) (*order.Order, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if err := h.checkVisible(r, o); err != nil {
		return nil, err
	}
	return o, nil
}

// checkVisible lets admins see every order and owners their own. Other
// callers get order.ErrNotFound so order ids cannot be enumerated.
func (h *Handler) checkVisible(r *http.Request, o *order.Order) error {
	if h.isAdmin(r) {
		return nil
	}
	caller, err := resolveOwner(r)
	if err != nil {
		return err
	}
	if caller.String() != o.Owner.String() {
		return order.ErrNotFound
	}
	return nil
}

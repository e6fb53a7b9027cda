package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

type addItemRequest struct {
	VariantID int64 `json:"variant_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gte=1"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity" validate:"required,gte=1"`
}

type couponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

// GetCart returns the priced summary of the caller's cart. A caller without
// a cart gets an empty summary.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	o, err := resolveOwner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sum, err := h.carts.Summary(r.Context(), o)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeSummary(sum))
}

// ClearCart removes every item and the applied coupon.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	o, err := resolveOwner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.carts.Clear(r.Context(), o); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddCartItem adds units of a variant, merging with an existing line.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	o, err := resolveOwner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req addItemRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	item, err := h.carts.AddItem(r.Context(), o, req.VariantID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, encodeCartItem(item, time.Now()))
}

// UpdateCartItem sets the quantity of one line.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	o, err := resolveOwner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	itemID, err := pathID(r, "item")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateItemRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	item, err := h.carts.UpdateQuantity(r.Context(), o, itemID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeCartItem(item, time.Now()))
}

// RemoveCartItem deletes one line.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	o, err := resolveOwner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	itemID, err := pathID(r, "item")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.carts.RemoveItem(r.Context(), o, itemID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApplyCartCoupon attaches a coupon. Unknown and invalid codes share one
// response so callers cannot probe which codes exist.
func (h *Handler) ApplyCartCoupon(w http.ResponseWriter, r *http.Request) {
	o, err := resolveOwner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req couponRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	applied, err := h.carts.ApplyCoupon(r.Context(), o, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !applied {
		writeError(w, r, coupon.ErrInvalidCoupon)
		return
	}
	sum, err := h.carts.Summary(r.Context(), o)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeSummary(sum))
}

// RemoveCartCoupon detaches the applied coupon.
func (h *Handler) RemoveCartCoupon(w http.ResponseWriter, r *http.Request) {
	o, err := resolveOwner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	removed, err := h.carts.RemoveCoupon(r.Context(), o)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeFlag("removed", removed))
}

// MergeCart folds the guest cart named by X-Guest-Token into the cart of the
// user named by X-User-ID. Both headers are required.
func (h *Handler) MergeCart(w http.ResponseWriter, r *http.Request) {
	o, err := resolveOwner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	userID, ok := o.UserID()
	guestToken := r.Header.Get(headerGuestToken)
	if !ok || guestToken == "" {
		writeError(w, r, errors.Wrapf(errBadRequest, "merge requires %s and %s", headerUserID, headerGuestToken))
		return
	}
	if _, err := h.carts.MergeGuestIntoUser(r.Context(), userID, guestToken); err != nil {
		writeError(w, r, err)
		return
	}
	sum, err := h.carts.Summary(r.Context(), o)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeSummary(sum))
}

//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"
)

func TestCart_OwnerRequired(t *testing.T) {
	resp := doGet(t, "/api/cart")
	body := expect[errorResponse](t, resp, http.StatusBadRequest)

	if body.Error != "owner_required" {
		t.Fatalf("error: got %q, want owner_required", body.Error)
	}
}

func TestCart_Empty(t *testing.T) {
	resp := do(t, http.MethodGet, "/api/cart", guest("it-empty"), nil)
	cart := expect[cartResponse](t, resp, http.StatusOK)

	if len(cart.Items) != 0 {
		t.Errorf("items: got %d, want 0", len(cart.Items))
	}
	if cart.Total != "0.00" {
		t.Errorf("total: got %q, want 0.00", cart.Total)
	}
	if cart.Owner.GuestToken != "it-empty" {
		t.Errorf("owner: got %+v", cart.Owner)
	}
}

func TestCart_AddUpdateRemove(t *testing.T) {
	h := guest("it-cart-flow")

	resp := do(t, http.MethodPost, "/api/cart/items", h, map[string]any{"variant_id": variantMug, "quantity": 1})
	item := expect[cartLine](t, resp, http.StatusCreated)
	if item.LineTotal != "320.00" {
		t.Errorf("line total: got %q, want 320.00", item.LineTotal)
	}

	// Adding the same variant again merges into the existing line.
	resp = do(t, http.MethodPost, "/api/cart/items", h, map[string]any{"variant_id": variantMug, "quantity": 2})
	item = expect[cartLine](t, resp, http.StatusCreated)
	if item.Quantity != 3 {
		t.Errorf("quantity: got %d, want 3", item.Quantity)
	}

	path := fmt.Sprintf("/api/cart/items/%d", item.ID)
	resp = do(t, http.MethodPatch, path, h, map[string]any{"quantity": 2})
	item = expect[cartLine](t, resp, http.StatusOK)
	if item.LineTotal != "640.00" {
		t.Errorf("line total: got %q, want 640.00", item.LineTotal)
	}

	resp = do(t, http.MethodGet, "/api/cart", h, nil)
	cart := expect[cartResponse](t, resp, http.StatusOK)
	if cart.ItemCount != 1 || cart.TotalQuantity != 2 {
		t.Errorf("counts: got %d items, %d units", cart.ItemCount, cart.TotalQuantity)
	}
	if cart.Subtotal != "640.00" {
		t.Errorf("subtotal: got %q, want 640.00", cart.Subtotal)
	}

	resp = do(t, http.MethodDelete, path, h, nil)
	expect[struct{}](t, resp, http.StatusNoContent)

	resp = do(t, http.MethodDelete, path, h, nil)
	body := expect[errorResponse](t, resp, http.StatusNotFound)
	if body.Error != "cart_item_not_found" {
		t.Errorf("error: got %q, want cart_item_not_found", body.Error)
	}
}

func TestCart_QuantityBounds(t *testing.T) {
	h := guest("it-cart-bounds")

	// Notebooks are sold in packs of at least two.
	resp := do(t, http.MethodPost, "/api/cart/items", h, map[string]any{"variant_id": variantNotebook, "quantity": 1})
	body := expect[errorResponse](t, resp, http.StatusUnprocessableEntity)
	if body.Error != "invalid_quantity" {
		t.Errorf("error: got %q, want invalid_quantity", body.Error)
	}

	resp = do(t, http.MethodPost, "/api/cart/items", h, map[string]any{"variant_id": variantMug, "quantity": 61})
	body = expect[errorResponse](t, resp, http.StatusConflict)
	if body.Error != "insufficient_stock" {
		t.Errorf("error: got %q, want insufficient_stock", body.Error)
	}

	resp = do(t, http.MethodPost, "/api/cart/items", h, map[string]any{"variant_id": 999999, "quantity": 1})
	body = expect[errorResponse](t, resp, http.StatusNotFound)
	if body.Error != "variant_not_found" {
		t.Errorf("error: got %q, want variant_not_found", body.Error)
	}
}

func TestCart_Coupon(t *testing.T) {
	h := user(701)

	resp := do(t, http.MethodPost, "/api/cart/items", h, map[string]any{"variant_id": variantMug, "quantity": 1})
	expect[cartLine](t, resp, http.StatusCreated)

	// SAVE10 needs a subtotal of 500.
	resp = do(t, http.MethodPost, "/api/cart/coupon", h, map[string]any{"code": "SAVE10"})
	body := expect[errorResponse](t, resp, http.StatusUnprocessableEntity)
	if body.Error != "invalid_coupon" {
		t.Errorf("error: got %q, want invalid_coupon", body.Error)
	}

	resp = do(t, http.MethodPost, "/api/cart/items", h, map[string]any{"variant_id": variantMug, "quantity": 1})
	expect[cartLine](t, resp, http.StatusCreated)

	resp = do(t, http.MethodPost, "/api/cart/coupon", h, map[string]any{"code": "save10"})
	cart := expect[cartResponse](t, resp, http.StatusOK)
	if cart.Discount != "64.00" || cart.Total != "576.00" {
		t.Errorf("discount %q total %q, want 64.00 and 576.00", cart.Discount, cart.Total)
	}
	if cart.CouponCode != "SAVE10" {
		t.Errorf("coupon: got %q, want SAVE10", cart.CouponCode)
	}

	resp = do(t, http.MethodDelete, "/api/cart/coupon", h, nil)
	removed := expect[map[string]bool](t, resp, http.StatusOK)
	if !removed["removed"] {
		t.Error("coupon was not removed")
	}
}

func TestCart_Merge(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/cart/items", guest("it-merge"), map[string]any{"variant_id": variantMug, "quantity": 1})
	expect[cartLine](t, resp, http.StatusCreated)
	resp = do(t, http.MethodPost, "/api/cart/items", user(702), map[string]any{"variant_id": variantNotebook, "quantity": 2})
	expect[cartLine](t, resp, http.StatusCreated)

	both := user(702)
	both.Set("X-Guest-Token", "it-merge")
	resp = do(t, http.MethodPost, "/api/cart/merge", both, nil)
	cart := expect[cartResponse](t, resp, http.StatusOK)
	if cart.ItemCount != 2 {
		t.Errorf("items: got %d, want 2", cart.ItemCount)
	}
	if cart.Subtotal != "560.00" {
		t.Errorf("subtotal: got %q, want 560.00", cart.Subtotal)
	}

	resp = do(t, http.MethodGet, "/api/cart", guest("it-merge"), nil)
	cart = expect[cartResponse](t, resp, http.StatusOK)
	if len(cart.Items) != 0 {
		t.Errorf("guest cart still has %d items", len(cart.Items))
	}
}

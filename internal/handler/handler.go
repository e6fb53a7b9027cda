// Package handler exposes the cart, checkout, order and stock services as a
// JSON HTTP API on a net/http ServeMux.
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// AdminToken guards the back-office order and stock endpoints. When
	// empty those endpoints are not registered.
	AdminToken string
}

// Handler serves the API, delegating business logic to the domain services.
type Handler struct {
	carts    *cart.Service
	orders   *order.Service
	ledger   *stock.Ledger
	validate *validator.Validate
	admin    []byte
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg Config, carts *cart.Service, orders *order.Service, ledger *stock.Ledger) *Handler {
	return &Handler{
		carts:    carts,
		orders:   orders,
		ledger:   ledger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		admin:    []byte(cfg.AdminToken),
	}
}

// Register mounts every route on mux under /api.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/cart", h.GetCart)
	mux.HandleFunc("DELETE /api/cart", h.ClearCart)
	mux.HandleFunc("POST /api/cart/items", h.AddCartItem)
	mux.HandleFunc("PATCH /api/cart/items/{item}", h.UpdateCartItem)
	mux.HandleFunc("DELETE /api/cart/items/{item}", h.RemoveCartItem)
	mux.HandleFunc("POST /api/cart/coupon", h.ApplyCartCoupon)
	mux.HandleFunc("DELETE /api/cart/coupon", h.RemoveCartCoupon)
	mux.HandleFunc("POST /api/cart/merge", h.MergeCart)

	mux.HandleFunc("POST /api/checkout", h.Checkout)

	mux.HandleFunc("GET /api/orders", h.ListOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("GET /api/order-numbers/{number}", h.GetOrderByNumber)
	mux.HandleFunc("GET /api/orders/{id}/status-log", h.GetOrderStatusLog)
	mux.HandleFunc("GET /api/orders/{id}/payments", h.GetOrderPayments)

	if len(h.admin) == 0 {
		return
	}
	mux.Handle("POST /api/orders/{id}/status", h.requireAdmin(h.UpdateOrderStatus))
	mux.Handle("POST /api/orders/{id}/payment-status", h.requireAdmin(h.UpdatePaymentStatus))
	mux.Handle("POST /api/orders/{id}/cancel", h.requireAdmin(h.CancelOrder))
	mux.Handle("POST /api/orders/{id}/mark-paid", h.requireAdmin(h.MarkOrderPaid))
	mux.Handle("POST /api/orders/{id}/coupon", h.requireAdmin(h.ApplyOrderCoupon))
	mux.Handle("POST /api/orders/{id}/recalculate", h.requireAdmin(h.RecalculateOrder))
	mux.Handle("DELETE /api/orders/{id}/items/{item}", h.requireAdmin(h.RemoveOrderItem))

	mux.Handle("GET /api/stock/{variant}", h.requireAdmin(h.GetStockLevel))
	mux.Handle("GET /api/stock/{variant}/movements", h.requireAdmin(h.ListStockMovements))
	mux.Handle("POST /api/stock/{variant}/adjust", h.requireAdmin(h.AdjustStock))
	mux.Handle("POST /api/stock/{variant}/transfer", h.requireAdmin(h.TransferStock))
}

// errBadRequest marks malformed input that never reached a service.
var errBadRequest = errors.New("bad request")

// decode reads a JSON body into dst and validates its struct tags.
func (h *Handler) decode(r *http.Request, dst any) error {
	d := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	d.DisallowUnknownFields()
	if err := d.Decode(dst); err != nil {
		return errors.Wrapf(errBadRequest, "decode body: %s", err)
	}
	return h.validate.Struct(dst)
}

// pathID parses a positive integer path value.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Wrapf(errBadRequest, "invalid %s", name)
	}
	return id, nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(errBadRequest, "invalid %s", name)
	}
	return v, nil
}

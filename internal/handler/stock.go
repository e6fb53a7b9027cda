package handler

import (
	"net/http"

	"github.com/xenking/kart-checkout/internal/domain/stock"
)

type adjustRequest struct {
	WarehouseID int64  `json:"warehouse_id" validate:"gte=0"`
	Type        string `json:"type" validate:"required,oneof=opening increase decrease"`
	Quantity    int    `json:"quantity" validate:"required,gt=0"`
	Reference   string `json:"reference" validate:"max=100"`
	Note        string `json:"note" validate:"max=500"`
}

type transferRequest struct {
	From      int64  `json:"from_warehouse_id" validate:"required,gt=0"`
	To        int64  `json:"to_warehouse_id" validate:"required,gt=0,nefield=From"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	Reference string `json:"reference" validate:"max=100"`
}

// GetStockLevel returns the stock row of a variant. The warehouse query
// parameter defaults to the checkout warehouse.
func (h *Handler) GetStockLevel(w http.ResponseWriter, r *http.Request) {
	variantID, err := pathID(r, "variant")
	if err != nil {
		writeError(w, r, err)
		return
	}
	warehouse, err := queryInt(r, "warehouse", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	lvl, err := h.ledger.Level(r.Context(), variantID, int64(warehouse))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeLevel(lvl))
}

// ListStockMovements returns the newest ledger entries of a variant.
func (h *Handler) ListStockMovements(w http.ResponseWriter, r *http.Request) {
	variantID, err := pathID(r, "variant")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ms, err := h.ledger.Movements(r.Context(), variantID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeMovements(ms))
}

// AdjustStock applies a manual adjustment.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	variantID, err := pathID(r, "variant")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req adjustRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	lvl, err := h.ledger.Adjust(r.Context(), stock.Adjustment{
		VariantID:   variantID,
		WarehouseID: req.WarehouseID,
		Type:        stock.AdjustmentType(req.Type),
		Quantity:    req.Quantity,
		Reference:   req.Reference,
		Note:        req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeLevel(lvl))
}

// TransferStock moves units between two warehouses.
func (h *Handler) TransferStock(w http.ResponseWriter, r *http.Request) {
	variantID, err := pathID(r, "variant")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req transferRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	err = h.ledger.Transfer(r.Context(), stock.Transfer{
		VariantID: variantID,
		From:      req.From,
		To:        req.To,
		Quantity:  req.Quantity,
		Reference: req.Reference,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

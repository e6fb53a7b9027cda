package postgres

import (
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

var (
	_ cart.Tx  = (*Queries)(nil)
	_ order.Tx = (*Queries)(nil)
	_ stock.Tx = (*Queries)(nil)
)

// Queries implements every domain repository over one connection or
// transaction.
type Queries struct {
	db          DBTX
	warehouseID int64
}

// NewQueries returns Queries bound to db. warehouseID selects the stock
// level reported as variant stock.
func NewQueries(db DBTX, warehouseID int64) *Queries {
	return &Queries{db: db, warehouseID: warehouseID}
}

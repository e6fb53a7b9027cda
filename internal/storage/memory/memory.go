// Package memory is an in-process storage driver. Transactions are
// serialized by a single mutex and run against a copy of the state that
// replaces the live state only on commit, so a failed transaction leaves no
// trace. It enforces the same uniqueness and non-negativity rules as the
// PostgreSQL schema.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

// Constraint violations mirroring the relational schema.
var (
	ErrUniqueViolation = errors.New("unique constraint violation")
	ErrCheckViolation  = errors.New("check constraint violation")
)

type levelKey struct {
	variantID   int64
	warehouseID int64
}

type cartItemRow struct {
	ID        int64
	CartID    int64
	VariantID int64
	Quantity  int
	CreatedAt time.Time
}

type state struct {
	nextID int64

	carts       map[int64]cart.Cart
	cartOwners  map[string]int64
	cartItems   map[int64]cartItemRow
	cartCoupons map[int64]int64

	products map[string]int64
	variants map[int64]product.Variant
	coupons  map[int64]coupon.Coupon
	methods  map[int64]shipping.Method

	levels    map[levelKey]stock.Level
	movements []stock.Movement

	orders     map[int64]order.Order
	orderItems map[int64]order.Item
	logs       []order.StatusLog
	payments   []order.Payment
}

func newState() *state {
	return &state{
		carts:       map[int64]cart.Cart{},
		cartOwners:  map[string]int64{},
		cartItems:   map[int64]cartItemRow{},
		cartCoupons: map[int64]int64{},
		products:    map[string]int64{},
		variants:    map[int64]product.Variant{},
		coupons:     map[int64]coupon.Coupon{},
		methods:     map[int64]shipping.Method{},
		levels:      map[levelKey]stock.Level{},
		orders:      map[int64]order.Order{},
		orderItems:  map[int64]order.Item{},
	}
}

// clone copies every table. Row values never share mutable memory: pointer
// fields are replaced, not written through.
func (s *state) clone() *state {
	return &state{
		nextID:      s.nextID,
		carts:       maps.Clone(s.carts),
		cartOwners:  maps.Clone(s.cartOwners),
		cartItems:   maps.Clone(s.cartItems),
		cartCoupons: maps.Clone(s.cartCoupons),
		products:    maps.Clone(s.products),
		variants:    maps.Clone(s.variants),
		coupons:     maps.Clone(s.coupons),
		methods:     maps.Clone(s.methods),
		levels:      maps.Clone(s.levels),
		movements:   slices.Clone(s.movements),
		orders:      maps.Clone(s.orders),
		orderItems:  maps.Clone(s.orderItems),
		logs:        slices.Clone(s.logs),
		payments:    slices.Clone(s.payments),
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store is the in-memory database.
type Store struct {
	mu          sync.Mutex
	st          *state
	warehouseID int64
	now         func() time.Time
}

// New creates an empty Store. warehouseID selects the stock level reported
// as product.Variant.Stock.
func New(warehouseID int64) *Store {
	if warehouseID == 0 {
		warehouseID = 1
	}
	return &Store{st: newState(), warehouseID: warehouseID, now: time.Now}
}

func (s *Store) inTx(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{st: s.st.clone(), warehouseID: s.warehouseID, now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

func (s *Store) read(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

// Carts returns the cart.Store view.
func (s *Store) Carts() cart.Store { return cartStore{s} }

// Orders returns the order.Store view.
func (s *Store) Orders() order.Store { return orderStore{s} }

// Stock returns the stock.Store view.
func (s *Store) Stock() stock.Store { return stockStore{s} }

type cartStore struct{ s *Store }

func (c cartStore) InTx(ctx context.Context, fn func(ctx context.Context, tx cart.Tx) error) error {
	return c.s.inTx(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

type orderStore struct{ s *Store }

func (o orderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return o.s.inTx(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

type stockStore struct{ s *Store }

func (st stockStore) InTx(ctx context.Context, fn func(ctx context.Context, tx stock.Tx) error) error {
	return st.s.inTx(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

// AddVariant inserts a catalog variant. A zero ID is assigned.
func (s *Store) AddVariant(v product.Variant) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == 0 {
		v.ID = s.st.id()
	}
	v.Stock = 0
	s.st.variants[v.ID] = v
	return v.ID
}

// AddCoupon inserts a coupon with a normalised code. A zero ID is assigned.
func (s *Store) AddCoupon(c coupon.Coupon) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.st.id()
	}
	c.Code = coupon.NormalizeCode(c.Code)
	s.st.coupons[c.ID] = c
	return c.ID
}

// AddShippingMethod inserts a shipping method. A zero ID is assigned.
func (s *Store) AddShippingMethod(m shipping.Method) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		m.ID = s.st.id()
	}
	s.st.methods[m.ID] = m
	return m.ID
}

// SetStock overwrites the on-hand quantity of a variant in a warehouse.
func (s *Store) SetStock(variantID, warehouseID int64, onHand int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := levelKey{variantID, warehouseID}
	lvl := s.st.levels[k]
	lvl.VariantID, lvl.WarehouseID, lvl.OnHand = variantID, warehouseID, onHand
	lvl.UpdatedAt = s.now()
	s.st.levels[k] = lvl
}

// Available returns the available quantity at the store's warehouse.
func (s *Store) Available(variantID int64) int {
	var n int
	s.read(func(st *state) {
		n = st.levels[levelKey{variantID, s.warehouseID}].Available()
	})
	return n
}

// Coupon returns a copy of a coupon row.
func (s *Store) Coupon(id int64) (coupon.Coupon, bool) {
	var (
		c  coupon.Coupon
		ok bool
	)
	s.read(func(st *state) { c, ok = st.coupons[id] })
	return c, ok
}

// Counts reports row counts of the order tables and movements, for
// atomicity assertions.
type Counts struct {
	Orders     int
	OrderItems int
	StatusLogs int
	Payments   int
	Movements  int
	Carts      int
	CartItems  int
}

// Counts returns current row counts.
func (s *Store) Counts() Counts {
	var c Counts
	s.read(func(st *state) {
		c = Counts{
			Orders:     len(st.orders),
			OrderItems: len(st.orderItems),
			StatusLogs: len(st.logs),
			Payments:   len(st.payments),
			Movements:  len(st.movements),
			Carts:      len(st.carts),
			CartItems:  len(st.cartItems),
		}
	})
	return c
}

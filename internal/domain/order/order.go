package order

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/owner"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// PaymentStatus is the settlement state of an order.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// PaymentMethod identifies how a payment was collected.
type PaymentMethod string

const (
	MethodCOD        PaymentMethod = "cod"
	MethodSSLCommerz PaymentMethod = "ssl_commerz"
	MethodPaystation PaymentMethod = "paystation"
)

// Valid reports whether m is a supported method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCOD, MethodSSLCommerz, MethodPaystation:
		return true
	default:
		return false
	}
}

// ChangeType tells which field a StatusLog entry tracks.
type ChangeType string

const (
	ChangeStatus  ChangeType = "status"
	ChangePayment ChangeType = "payment"
)

// SystemActor is recorded when no caller identity is available.
const SystemActor = "system"

// Address is a postal address snapshot stored with the order.
type Address struct {
	ID         int64
	FullName   string `validate:"required,max=200"`
	Email      string `validate:"omitempty,email"`
	Phone      string `validate:"required,max=32"`
	Line1      string `validate:"required,max=255"`
	Line2      string `validate:"max=255"`
	City       string `validate:"required,max=100"`
	State      string `validate:"max=100"`
	PostalCode string `validate:"max=20"`
	Country    string `validate:"required,len=2"`
}

// Order is the immutable financial snapshot created from a cart. After
// creation it changes only through the lifecycle operations of Service.
type Order struct {
	ID            int64
	Number        string
	Owner         owner.Owner
	GuestEmail    string
	Status        Status
	PaymentStatus PaymentStatus
	Currency      string

	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal

	CouponID   *int64
	CouponCode string

	ShippingMethodID   *int64
	ShippingMethodName string
	ShippingAddress    Address
	BillingAddress     Address
	Notes              string

	Items     []Item
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is a line snapshot. VariantID becomes nil if the variant is deleted;
// the snapshot fields stay authoritative.
type Item struct {
	ID          int64
	OrderID     int64
	VariantID   *int64
	ProductName string
	SKU         string
	UnitPrice   decimal.Decimal
	Quantity    int
	LineTotal   decimal.Decimal
}

// StatusLog is an append-only audit entry.
type StatusLog struct {
	ID         int64
	OrderID    int64
	ChangeType ChangeType
	OldValue   string
	NewValue   string
	Note       string
	Actor      string
	CreatedAt  time.Time
}

// Payment records a settlement of the order total.
type Payment struct {
	ID            int64
	OrderID       int64
	Method        PaymentMethod
	Status        PaymentStatus
	Amount        decimal.Decimal
	Currency      string
	TransactionID string
	PaidAt        time.Time
	CreatedAt     time.Time
}

// NewNumber returns a human-facing order number: "ORD-" followed by twelve
// upper-case hex characters of a random UUID.
func NewNumber() string {
	id := uuid.New()
	return "ORD-" + strings.ToUpper(hex.EncodeToString(id[:6]))
}

// Repository is the storage contract of the order aggregate.
// Implementations are bound to a transaction.
type Repository interface {
	// CreateOrder inserts the header and its address snapshots, filling
	// IDs and timestamps.
	CreateOrder(ctx context.Context, o *Order) error
	// InsertOrderItems inserts line snapshots, filling their IDs.
	InsertOrderItems(ctx context.Context, orderID int64, items []Item) error
	// SaveOrder writes the mutable fields: statuses, totals, coupon and notes.
	SaveOrder(ctx context.Context, o *Order) error
	// GetOrder loads the header without items, or ErrNotFound. With
	// forUpdate the row stays locked until the transaction ends.
	GetOrder(ctx context.Context, id int64, forUpdate bool) (*Order, error)
	// GetOrderByNumber loads the header by order number, or ErrNotFound.
	GetOrderByNumber(ctx context.Context, number string) (*Order, error)
	// ListOrders returns the owner's orders, newest first.
	ListOrders(ctx context.Context, o owner.Owner, limit int) ([]Order, error)
	// ListOrderItems returns the order's lines ordered by id.
	ListOrderItems(ctx context.Context, orderID int64) ([]Item, error)
	// DeleteOrderItem removes a line and reports whether it existed.
	DeleteOrderItem(ctx context.Context, orderID, itemID int64) (bool, error)
	// AppendStatusLog inserts an audit entry.
	AppendStatusLog(ctx context.Context, l *StatusLog) error
	// ListStatusLog returns audit entries oldest first.
	ListStatusLog(ctx context.Context, orderID int64) ([]StatusLog, error)
	// CreatePayment inserts a payment record.
	CreatePayment(ctx context.Context, p *Payment) error
	// ListPayments returns the order's payments oldest first.
	ListPayments(ctx context.Context, orderID int64) ([]Payment, error)
}

// Tx is everything an order transaction touches.
type Tx interface {
	Repository
	cart.Repository
	product.Repository
	coupon.Repository
	stock.Repository
	shipping.Repository
}

// Store runs fn inside one transaction; an error returned by fn rolls it back.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

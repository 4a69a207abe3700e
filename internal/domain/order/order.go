package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no order matches the lookup.
	ErrNotFound = errors.New("order not found")
	// ErrCartChanged is returned by Create when the cart's Active items
	// changed after they were priced.
	ErrCartChanged = errors.New("cart changed during settlement")
	// ErrDuplicateKey is returned by Create when the idempotency key is taken.
	ErrDuplicateKey = errors.New("idempotency key already used")
)

// Order is the immutable result of settling a cart.
type Order struct {
	ID       string
	CartID   string
	Identity string
	Lines    []Line

	Subtotal       decimal.Decimal
	DiscountID     string
	DiscountCode   string
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal

	IdempotencyKey string
	CreatedAt      time.Time
}

// HasDiscount reports whether a discount was applied.
func (o *Order) HasDiscount() bool { return o.DiscountID != "" }

// Line is a settled cart item with the price captured when it was added.
type Line struct {
	ItemID    string
	VariantID string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Subtotal returns UnitPrice * Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Repository persists orders.
//
// Create inserts the order and moves every line's cart item from Active to
// Purchased, linked to the order id, as one unit. It fails with
// ErrCartChanged when the cart's Active items are not exactly the order
// lines: an item left Active, its quantity changed, or an item was added.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	FindByIdempotencyKey(ctx context.Context, identity, key string) (*Order, error)
}

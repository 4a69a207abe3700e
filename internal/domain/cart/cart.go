// Package cart models shopping carts and the soft-delete lifecycle of their items.
package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("cart not found")
	ErrItemNotFound    = errors.New("cart item not found")
	ErrItemNotActive   = errors.New("cart item is not active")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// InvalidStateError is returned when stored state columns do not describe a
// legal State.
type InvalidStateError struct {
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid cart item state %q", e.Status)
}

// Item is a cart line. PriceAtAdd is captured from the variant when the item
// is added and may be refreshed only while the item is Active.
type Item struct {
	ID         string
	CartID     string
	VariantID  string
	Quantity   int
	PriceAtAdd decimal.Decimal
	State      State
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsActive reports whether the item can still be edited or purchased.
func (i *Item) IsActive() bool {
	_, ok := i.State.(Active)
	return ok
}

// IsDeleted reports whether the item reached any terminal state.
func (i *Item) IsDeleted() bool { return !i.IsActive() }

// DeletedAt returns the terminal transition time.
func (i *Item) DeletedAt() (time.Time, bool) {
	switch s := i.State.(type) {
	case Purchased:
		return s.At, true
	case Removed:
		return s.At, true
	case Expired:
		return s.At, true
	default:
		return time.Time{}, false
	}
}

// DeletionReason returns the reason stamped on the terminal transition.
func (i *Item) DeletionReason() string {
	switch s := i.State.(type) {
	case Purchased:
		return ReasonPurchased
	case Removed:
		return s.Reason
	case Expired:
		return s.Reason
	default:
		return ""
	}
}

// OrderID returns the order a purchased item belongs to.
func (i *Item) OrderID() (string, bool) {
	if s, ok := i.State.(Purchased); ok {
		return s.OrderID, true
	}
	return "", false
}

// SetQuantity changes the quantity of an Active item.
func (i *Item) SetQuantity(qty int, at time.Time) error {
	if !i.IsActive() {
		return ErrItemNotActive
	}
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	i.Quantity = qty
	i.UpdatedAt = at
	return nil
}

// Reprice refreshes the captured price of an Active item.
func (i *Item) Reprice(price decimal.Decimal, at time.Time) error {
	if !i.IsActive() {
		return ErrItemNotActive
	}
	i.PriceAtAdd = price
	i.UpdatedAt = at
	return nil
}

// Transition moves an Active item into a terminal state.
func (i *Item) Transition(to State, at time.Time) error {
	if !i.IsActive() {
		return ErrItemNotActive
	}
	if _, ok := to.(Active); ok {
		return errors.New("cannot transition to active")
	}
	i.State = to
	i.UpdatedAt = at
	return nil
}

// Subtotal returns PriceAtAdd * Quantity.
func (i *Item) Subtotal() decimal.Decimal {
	return i.PriceAtAdd.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart owns its items in insertion order.
type Cart struct {
	ID        string
	Identity  string
	Items     []Item
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActiveItems returns the Active items in insertion order.
func (c *Cart) ActiveItems() []Item {
	var out []Item
	for _, it := range c.Items {
		if it.IsActive() {
			out = append(out, it)
		}
	}
	return out
}

// Item returns a pointer to the item with id.
func (c *Cart) Item(id string) (*Item, error) {
	for i := range c.Items {
		if c.Items[i].ID == id {
			return &c.Items[i], nil
		}
	}
	return nil, ErrItemNotFound
}

// Repository persists carts and their items. Items are never physically
// deleted. UpdateItem writes quantity, price and state of an existing item.
type Repository interface {
	Create(ctx context.Context, c *Cart) error
	Get(ctx context.Context, id string) (*Cart, error)
	AddItem(ctx context.Context, item *Item) error
	UpdateItem(ctx context.Context, item *Item) error
	ListStaleItems(ctx context.Context, idleSince time.Time, limit int) ([]Item, error)
}

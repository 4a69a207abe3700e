// Package memory implements the domain repositories in process memory.
//
// Transactions keep an undo log: writes are applied immediately and reverted
// when the transaction function fails. They are atomic but not isolated.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/usage"
)

// DB holds every table. The repositories of this package share one DB.
type DB struct {
	mu sync.Mutex

	categories map[string]catalog.Category
	products   map[string]catalog.Product
	variants   map[string]catalog.Variant

	discounts map[string]discount.Discount
	holds     map[string]usage.Token
	usages    []usage.Usage

	carts     map[string]cart.Cart
	items     map[string]cart.Item
	cartItems map[string][]string

	orders    map[string]order.Order
	orderKeys map[orderKey]string

	apiKeys map[string]auth.APIKeyInfo

	now func() time.Time
}

type orderKey struct {
	identity string
	key      string
}

// New creates an empty DB.
func New() *DB {
	return &DB{
		categories: map[string]catalog.Category{},
		products:   map[string]catalog.Product{},
		variants:   map[string]catalog.Variant{},
		discounts:  map[string]discount.Discount{},
		holds:      map[string]usage.Token{},
		carts:      map[string]cart.Cart{},
		items:      map[string]cart.Item{},
		cartItems:  map[string][]string{},
		orders:     map[string]order.Order{},
		orderKeys:  map[orderKey]string{},
		apiKeys:    map[string]auth.APIKeyInfo{},
		now:        time.Now,
	}
}

// Ping always succeeds.
func (db *DB) Ping(context.Context) error { return nil }

type txKey struct{}

type tx struct {
	undo []func()
}

// InTx runs fn and reverts its writes if it returns an error. Nested calls
// revert only their own writes.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	parent, _ := ctx.Value(txKey{}).(*tx)
	t := &tx{}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		db.mu.Lock()
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
		db.mu.Unlock()
		return err
	}
	if parent != nil {
		parent.undo = append(parent.undo, t.undo...)
	}
	return nil
}

// onRollback registers undo for the transaction in ctx, if any. Must be
// called with mu held; undo runs with mu held.
func (db *DB) onRollback(ctx context.Context, undo func()) {
	if t, ok := ctx.Value(txKey{}).(*tx); ok {
		t.undo = append(t.undo, undo)
	}
}

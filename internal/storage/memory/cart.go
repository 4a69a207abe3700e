package memory

import (
	"context"
	"slices"
	"time"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository stores carts and items in a DB.
type CartRepository struct {
	db *DB
}

// NewCartRepository returns a CartRepository over db.
func NewCartRepository(db *DB) *CartRepository {
	return &CartRepository{db: db}
}

func (r *CartRepository) Create(ctx context.Context, c *cart.Cart) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	stored := *c
	stored.Items = nil
	r.db.carts[c.ID] = stored
	r.db.onRollback(ctx, func() { delete(r.db.carts, c.ID) })
	return nil
}

func (r *CartRepository) Get(_ context.Context, id string) (*cart.Cart, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	c, ok := r.db.carts[id]
	if !ok {
		return nil, cart.ErrNotFound
	}
	ids := r.db.cartItems[id]
	c.Items = make([]cart.Item, 0, len(ids))
	for _, itemID := range ids {
		c.Items = append(c.Items, r.db.items[itemID])
	}
	return &c, nil
}

func (r *CartRepository) AddItem(ctx context.Context, item *cart.Item) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	c, ok := r.db.carts[item.CartID]
	if !ok {
		return cart.ErrNotFound
	}
	prevUpdated := c.UpdatedAt
	r.db.items[item.ID] = *item
	r.db.cartItems[item.CartID] = append(r.db.cartItems[item.CartID], item.ID)
	c.UpdatedAt = item.UpdatedAt
	r.db.carts[item.CartID] = c

	r.db.onRollback(ctx, func() {
		delete(r.db.items, item.ID)
		r.db.cartItems[item.CartID] = slices.DeleteFunc(r.db.cartItems[item.CartID],
			func(id string) bool { return id == item.ID })
		c := r.db.carts[item.CartID]
		c.UpdatedAt = prevUpdated
		r.db.carts[item.CartID] = c
	})
	return nil
}

func (r *CartRepository) UpdateItem(ctx context.Context, item *cart.Item) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	return r.db.updateItem(ctx, *item)
}

// updateItem overwrites an Active item. Must be called with mu held.
func (db *DB) updateItem(ctx context.Context, item cart.Item) error {
	prev, ok := db.items[item.ID]
	if !ok {
		return cart.ErrItemNotFound
	}
	if !prev.IsActive() {
		return cart.ErrItemNotActive
	}
	db.items[item.ID] = item
	c := db.carts[item.CartID]
	prevUpdated := c.UpdatedAt
	c.UpdatedAt = item.UpdatedAt
	db.carts[item.CartID] = c

	db.onRollback(ctx, func() {
		db.items[prev.ID] = prev
		c := db.carts[prev.CartID]
		c.UpdatedAt = prevUpdated
		db.carts[prev.CartID] = c
	})
	return nil
}

func (r *CartRepository) ListStaleItems(_ context.Context, idleSince time.Time, limit int) ([]cart.Item, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []cart.Item
	for _, it := range r.db.items {
		if it.IsActive() && it.UpdatedAt.Before(idleSince) {
			out = append(out, it)
		}
	}
	slices.SortFunc(out, func(a, b cart.Item) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

package memory

import (
	"context"
	"slices"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/order"
)

var (
	_ order.Repository = (*OrderRepository)(nil)
	_ auth.Repository  = (*APIKeyRepository)(nil)
)

// OrderRepository stores orders in a DB and claims their cart items.
type OrderRepository struct {
	db *DB
}

// NewOrderRepository returns an OrderRepository over db.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func cloneOrder(o order.Order) *order.Order {
	o.Lines = slices.Clone(o.Lines)
	return &o
}

// Create stores o and moves its cart items to Purchased. Nothing is written
// when the cart's Active items differ from the order lines.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	key := orderKey{identity: o.Identity, key: o.IdempotencyKey}
	if o.IdempotencyKey != "" {
		if _, taken := r.db.orderKeys[key]; taken {
			return order.ErrDuplicateKey
		}
	}
	claimed := make(map[string]struct{}, len(o.Lines))
	for _, l := range o.Lines {
		it, ok := r.db.items[l.ItemID]
		if !ok || it.CartID != o.CartID || !it.IsActive() || it.Quantity != l.Quantity {
			return order.ErrCartChanged
		}
		if _, dup := claimed[l.ItemID]; dup {
			return order.ErrCartChanged
		}
		claimed[l.ItemID] = struct{}{}
	}
	var active int
	for _, id := range r.db.cartItems[o.CartID] {
		if it := r.db.items[id]; it.IsActive() {
			active++
		}
	}
	if active != len(o.Lines) {
		return order.ErrCartChanged
	}

	for _, l := range o.Lines {
		it := r.db.items[l.ItemID]
		if err := it.Transition(cart.Purchased{At: o.CreatedAt, OrderID: o.ID}, o.CreatedAt); err != nil {
			return err
		}
		if err := r.db.updateItem(ctx, it); err != nil {
			return err
		}
	}
	r.db.orders[o.ID] = *cloneOrder(*o)
	if o.IdempotencyKey != "" {
		r.db.orderKeys[key] = o.ID
	}

	r.db.onRollback(ctx, func() {
		delete(r.db.orders, o.ID)
		if o.IdempotencyKey != "" {
			delete(r.db.orderKeys, key)
		}
	})
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (*order.Order, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	o, ok := r.db.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *OrderRepository) FindByIdempotencyKey(_ context.Context, identity, key string) (*order.Order, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	id, ok := r.db.orderKeys[orderKey{identity: identity, key: key}]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(r.db.orders[id]), nil
}

// APIKeyRepository stores staff API keys by hash in a DB.
type APIKeyRepository struct {
	db *DB
}

// NewAPIKeyRepository returns an APIKeyRepository over db.
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	info, ok := r.db.apiKeys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	info.Scopes = slices.Clone(info.Scopes)
	return &info, nil
}

func (r *APIKeyRepository) Upsert(_ context.Context, info auth.APIKeyInfo) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	info.Scopes = slices.Clone(info.Scopes)
	r.db.apiKeys[info.KeyHash] = info
	return nil
}

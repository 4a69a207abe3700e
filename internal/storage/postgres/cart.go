package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
)

const (
	insertCartSQL = `INSERT INTO carts (id, identity, created_at, updated_at) VALUES ($1, $2, $3, $4)`

	getCartSQL = `SELECT id, identity, created_at, updated_at FROM carts WHERE id = $1`

	touchCartSQL = `UPDATE carts SET updated_at = $2 WHERE id = $1`

	itemColumns = `id, cart_id, variant_id, quantity, price_at_add,
		status, status_at, deletion_reason, COALESCE(order_id, ''), created_at, updated_at`

	listCartItemsSQL = `SELECT ` + itemColumns + ` FROM cart_items WHERE cart_id = $1 ORDER BY seq`

	insertCartItemSQL = `INSERT INTO cart_items (id, cart_id, variant_id, quantity, price_at_add,
		status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, 'active', $6, $7)`

	// Only Active rows are writable.
	updateCartItemSQL = `UPDATE cart_items SET quantity = $2, price_at_add = $3, status = $4,
		status_at = $5, deletion_reason = $6, order_id = NULLIF($7, ''), updated_at = $8
		WHERE id = $1 AND status = 'active'`

	cartItemExistsSQL = `SELECT EXISTS (SELECT 1 FROM cart_items WHERE id = $1)`

	listStaleItemsSQL = `SELECT ` + itemColumns + ` FROM cart_items
		WHERE status = 'active' AND updated_at < $1 ORDER BY updated_at LIMIT $2`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository stores carts and their items.
type CartRepository struct {
	db *DB
}

// NewCartRepository returns a CartRepository over db.
func NewCartRepository(db *DB) *CartRepository {
	return &CartRepository{db: db}
}

// Create inserts an empty cart.
func (r *CartRepository) Create(ctx context.Context, c *cart.Cart) error {
	if _, err := r.db.q(ctx).Exec(ctx, insertCartSQL, c.ID, c.Identity, c.CreatedAt, c.UpdatedAt); err != nil {
		return fmt.Errorf("creating cart %q: %w", c.ID, err)
	}
	return nil
}

// Get returns the cart with all items, including terminal ones, in insertion order.
func (r *CartRepository) Get(ctx context.Context, id string) (*cart.Cart, error) {
	q := r.db.q(ctx)

	var c cart.Cart
	err := q.QueryRow(ctx, getCartSQL, id).Scan(&c.ID, &c.Identity, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("getting cart %q: %w", id, err)
	}

	rows, err := q.Query(ctx, listCartItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing items of cart %q: %w", id, err)
	}
	c.Items, err = pgx.CollectRows(rows, scanCartItem)
	if err != nil {
		return nil, fmt.Errorf("listing items of cart %q: %w", id, err)
	}
	return &c, nil
}

// AddItem inserts a new Active item. The cart row is touched first so the
// write waits for a settlement holding the cart.
func (r *CartRepository) AddItem(ctx context.Context, item *cart.Item) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		q := r.db.q(ctx)
		if _, err := q.Exec(ctx, touchCartSQL, item.CartID, item.UpdatedAt); err != nil {
			return fmt.Errorf("touching cart %q: %w", item.CartID, err)
		}
		if _, err := q.Exec(ctx, insertCartItemSQL,
			item.ID, item.CartID, item.VariantID, item.Quantity, item.PriceAtAdd,
			item.CreatedAt, item.UpdatedAt,
		); err != nil {
			return fmt.Errorf("adding item to cart %q: %w", item.CartID, err)
		}
		return nil
	})
}

// UpdateItem writes item over a stored Active row. It returns
// cart.ErrItemNotActive when the stored row already left Active.
func (r *CartRepository) UpdateItem(ctx context.Context, item *cart.Item) error {
	status, at, reason, orderID := stateColumns(item.State)
	return r.db.InTx(ctx, func(ctx context.Context) error {
		q := r.db.q(ctx)
		if _, err := q.Exec(ctx, touchCartSQL, item.CartID, item.UpdatedAt); err != nil {
			return fmt.Errorf("touching cart %q: %w", item.CartID, err)
		}
		tag, err := q.Exec(ctx, updateCartItemSQL,
			item.ID, item.Quantity, item.PriceAtAdd, string(status), at, reason, orderID, item.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("updating cart item %q: %w", item.ID, err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := q.QueryRow(ctx, cartItemExistsSQL, item.ID).Scan(&exists); err != nil {
				return fmt.Errorf("checking cart item %q: %w", item.ID, err)
			}
			if !exists {
				return cart.ErrItemNotFound
			}
			return cart.ErrItemNotActive
		}
		return nil
	})
}

// ListStaleItems returns Active items not updated since idleSince, oldest first.
func (r *CartRepository) ListStaleItems(ctx context.Context, idleSince time.Time, limit int) ([]cart.Item, error) {
	rows, err := r.db.q(ctx).Query(ctx, listStaleItemsSQL, idleSince, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale items: %w", err)
	}
	return pgx.CollectRows(rows, scanCartItem)
}

func scanCartItem(row pgx.CollectableRow) (cart.Item, error) {
	var (
		it       cart.Item
		qty      int32
		status   string
		statusAt *time.Time
		reason   string
		orderID  string
	)
	if err := row.Scan(
		&it.ID, &it.CartID, &it.VariantID, &qty, &it.PriceAtAdd,
		&status, &statusAt, &reason, &orderID, &it.CreatedAt, &it.UpdatedAt,
	); err != nil {
		return it, err
	}
	it.Quantity = int(qty)
	state, err := cart.StateFromRow(cart.Status(status), statusAt, reason, orderID)
	if err != nil {
		return it, err
	}
	it.State = state
	return it, nil
}

// stateColumns flattens a State into its storage columns.
func stateColumns(s cart.State) (status cart.Status, at *time.Time, reason, orderID string) {
	switch s := s.(type) {
	case cart.Purchased:
		return cart.StatusPurchased, &s.At, cart.ReasonPurchased, s.OrderID
	case cart.Removed:
		return cart.StatusRemoved, &s.At, s.Reason, ""
	case cart.Expired:
		return cart.StatusExpired, &s.At, s.Reason, ""
	default:
		return cart.StatusActive, nil, "", ""
	}
}

package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, cart_id, identity, subtotal, discount_id, discount_code,
		discount_amount, total, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)`

	insertOrderLineSQL = `INSERT INTO order_lines (order_id, position, item_id, variant_id, product_id,
		quantity, unit_price) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	// Item writes touch the cart row first, so holding it keeps the
	// Active set fixed until commit.
	lockCartSQL = `SELECT id FROM carts WHERE id = $1 FOR UPDATE`

	purchaseCartItemSQL = `UPDATE cart_items SET status = 'purchased', status_at = $3, order_id = $4,
		deletion_reason = $5, updated_at = $3
		WHERE id = $1 AND cart_id = $2 AND status = 'active' AND quantity = $6`

	activeItemsLeftSQL = `SELECT EXISTS (SELECT 1 FROM cart_items WHERE cart_id = $1 AND status = 'active')`

	orderColumns = `id, cart_id, identity, subtotal, COALESCE(discount_id, ''), discount_code,
		discount_amount, total, idempotency_key, created_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByKeySQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE identity = $1 AND idempotency_key = $2 AND idempotency_key <> ''`

	listOrderLinesSQL = `SELECT item_id, variant_id, product_id, quantity, unit_price
		FROM order_lines WHERE order_id = $1 ORDER BY position`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository stores orders and claims their cart items.
type OrderRepository struct {
	db *DB
}

// NewOrderRepository returns an OrderRepository over db.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists o and its lines and moves every line's cart item to
// Purchased in one transaction. The cart must hold no other Active item.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		q := r.db.q(ctx)
		var locked string
		if err := q.QueryRow(ctx, lockCartSQL, o.CartID).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrCartChanged
			}
			return fmt.Errorf("locking cart %q: %w", o.CartID, err)
		}

		_, err := q.Exec(ctx, createOrderSQL,
			o.ID, o.CartID, o.Identity, o.Subtotal, o.DiscountID, o.DiscountCode,
			o.DiscountAmount, o.Total, o.IdempotencyKey, o.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return order.ErrDuplicateKey
			}
			return fmt.Errorf("creating order %q: %w", o.ID, err)
		}

		for i, l := range o.Lines {
			if _, err := q.Exec(ctx, insertOrderLineSQL,
				o.ID, i, l.ItemID, l.VariantID, l.ProductID, l.Quantity, l.UnitPrice,
			); err != nil {
				return fmt.Errorf("inserting line %d of order %q: %w", i, o.ID, err)
			}
			tag, err := q.Exec(ctx, purchaseCartItemSQL,
				l.ItemID, o.CartID, o.CreatedAt, o.ID, cart.ReasonPurchased, l.Quantity,
			)
			if err != nil {
				return fmt.Errorf("purchasing cart item %q: %w", l.ItemID, err)
			}
			if tag.RowsAffected() == 0 {
				return order.ErrCartChanged
			}
		}
		var left bool
		if err := q.QueryRow(ctx, activeItemsLeftSQL, o.CartID).Scan(&left); err != nil {
			return fmt.Errorf("checking cart %q: %w", o.CartID, err)
		}
		if left {
			return order.ErrCartChanged
		}
		if _, err := q.Exec(ctx, touchCartSQL, o.CartID, o.CreatedAt); err != nil {
			return fmt.Errorf("touching cart %q: %w", o.CartID, err)
		}
		return nil
	})
}

// Get returns order.ErrNotFound for unknown ids.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.find(ctx, getOrderSQL, id)
}

// FindByIdempotencyKey returns the order identity created with key.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, identity, key string) (*order.Order, error) {
	return r.find(ctx, getOrderByKeySQL, identity, key)
}

func (r *OrderRepository) find(ctx context.Context, sql string, args ...any) (*order.Order, error) {
	q := r.db.q(ctx)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("finding order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (order.Order, error) {
		var o order.Order
		err := row.Scan(
			&o.ID, &o.CartID, &o.Identity, &o.Subtotal, &o.DiscountID, &o.DiscountCode,
			&o.DiscountAmount, &o.Total, &o.IdempotencyKey, &o.CreatedAt,
		)
		return o, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order: %w", err)
	}

	rows, err = q.Query(ctx, listOrderLinesSQL, o.ID)
	if err != nil {
		return nil, fmt.Errorf("listing lines of order %q: %w", o.ID, err)
	}
	o.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Line, error) {
		var (
			l   order.Line
			qty int32
		)
		err := row.Scan(&l.ItemID, &l.VariantID, &l.ProductID, &qty, &l.UnitPrice)
		l.Quantity = int(qty)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing lines of order %q: %w", o.ID, err)
	}
	return &o, nil
}

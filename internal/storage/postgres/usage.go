package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/domain/usage"
)

const (
	countByIdentitySQL = `SELECT
		(SELECT count(*) FROM discount_usages WHERE discount_id = $1 AND identity = $2) +
		(SELECT count(*) FROM discount_holds WHERE discount_id = $1 AND identity = $2)`

	takeUnitSQL = `UPDATE discounts SET usage_count = usage_count + 1, version = version + 1
		WHERE id = $1 AND version = $2
		AND (max_usage_count IS NULL OR usage_count < max_usage_count)`

	returnUnitSQL = `UPDATE discounts SET usage_count = usage_count - 1, version = version + 1
		WHERE id = $1 AND version = $2 AND usage_count > 0`

	insertHoldSQL = `INSERT INTO discount_holds (id, discount_id, identity, created_at)
		VALUES ($1, $2, $3, $4)`

	deleteHoldSQL = `DELETE FROM discount_holds WHERE id = $1`

	insertUsageSQL = `INSERT INTO discount_usages (id, discount_id, identity, order_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	listStaleHoldsSQL = `SELECT id, discount_id, identity, created_at
		FROM discount_holds WHERE created_at <= $1 ORDER BY created_at LIMIT $2`

	listUsagesByOrderSQL = `SELECT id, discount_id, identity, COALESCE(order_id, ''), amount, created_at
		FROM discount_usages WHERE order_id = $1 ORDER BY created_at`
)

var _ usage.Store = (*UsageStore)(nil)

// errCASMissed rolls back a half-applied compare-and-swap.
var errCASMissed = errors.New("compare-and-swap missed")

// UsageStore keeps the discount usage counter, holds and usage rows.
type UsageStore struct {
	db *DB
}

// NewUsageStore returns a UsageStore over db.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// Discount returns the current row including counter and version.
func (s *UsageStore) Discount(ctx context.Context, discountID string) (*discount.Discount, error) {
	rows, err := s.db.q(ctx).Query(ctx, getDiscountByIDSQL, discountID)
	if err != nil {
		return nil, fmt.Errorf("getting discount %q: %w", discountID, err)
	}
	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("getting discount %q: %w", discountID, err)
	}
	return &d, nil
}

// CountByIdentity counts committed usages and outstanding holds.
func (s *UsageStore) CountByIdentity(ctx context.Context, discountID, identity string) (int, error) {
	var n int64
	if err := s.db.q(ctx).QueryRow(ctx, countByIdentitySQL, discountID, identity).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting usage of %q: %w", discountID, err)
	}
	return int(n), nil
}

// Hold takes one unit and records tok if the row is still at version.
func (s *UsageStore) Hold(ctx context.Context, tok usage.Token, version int64) (bool, error) {
	err := s.db.InTx(ctx, func(ctx context.Context) error {
		q := s.db.q(ctx)
		tag, err := q.Exec(ctx, takeUnitSQL, tok.DiscountID, version)
		if err != nil {
			return fmt.Errorf("taking usage unit: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return errCASMissed
		}
		if _, err := q.Exec(ctx, insertHoldSQL, tok.ID, tok.DiscountID, tok.Identity, tok.CreatedAt); err != nil {
			return fmt.Errorf("inserting hold: %w", err)
		}
		return nil
	})
	if errors.Is(err, errCASMissed) {
		return false, nil
	}
	return err == nil, err
}

// Unhold drops tok and returns its unit if the row is still at version.
func (s *UsageStore) Unhold(ctx context.Context, tok usage.Token, version int64) (bool, error) {
	err := s.db.InTx(ctx, func(ctx context.Context) error {
		q := s.db.q(ctx)
		tag, err := q.Exec(ctx, deleteHoldSQL, tok.ID)
		if err != nil {
			return fmt.Errorf("deleting hold: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return usage.ErrTokenNotFound
		}
		tag, err = q.Exec(ctx, returnUnitSQL, tok.DiscountID, version)
		if err != nil {
			return fmt.Errorf("returning usage unit: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return errCASMissed
		}
		return nil
	})
	if errors.Is(err, errCASMissed) {
		return false, nil
	}
	return err == nil, err
}

// Settle replaces the hold tokenID with the usage row u.
func (s *UsageStore) Settle(ctx context.Context, tokenID string, u usage.Usage) error {
	return s.db.InTx(ctx, func(ctx context.Context) error {
		q := s.db.q(ctx)
		tag, err := q.Exec(ctx, deleteHoldSQL, tokenID)
		if err != nil {
			return fmt.Errorf("deleting hold: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return usage.ErrTokenNotFound
		}
		if _, err := q.Exec(ctx, insertUsageSQL,
			u.ID, u.DiscountID, u.Identity, u.OrderID, u.Amount, u.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting usage: %w", err)
		}
		return nil
	})
}

// ListStaleHolds returns up to limit holds created at or before cutoff. A
// non-positive limit returns all of them.
func (s *UsageStore) ListStaleHolds(ctx context.Context, cutoff time.Time, limit int) ([]usage.Token, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.q(ctx).Query(ctx, listStaleHoldsSQL, cutoff, lim)
	if err != nil {
		return nil, fmt.Errorf("listing stale holds: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (usage.Token, error) {
		var t usage.Token
		err := row.Scan(&t.ID, &t.DiscountID, &t.Identity, &t.CreatedAt)
		return t, err
	})
}

// ListByOrder returns the usages recorded for an order.
func (s *UsageStore) ListByOrder(ctx context.Context, orderID string) ([]usage.Usage, error) {
	rows, err := s.db.q(ctx).Query(ctx, listUsagesByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing usages of order %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (usage.Usage, error) {
		var u usage.Usage
		err := row.Scan(&u.ID, &u.DiscountID, &u.Identity, &u.OrderID, &u.Amount, &u.CreatedAt)
		return u, err
	})
}

// Package usage owns the discount usage counter: reservations (holds) taken
// during checkout and the append-only record of committed usages.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/discount"
)

// ReasonContention is reported when the counter kept changing underneath
// every reservation attempt.
const ReasonContention discount.Reason = "contention"

var (
	// ErrUsageRaceLost matches every *RejectedError via errors.Is.
	ErrUsageRaceLost = errors.New("discount no longer available")
	// ErrTokenNotFound is returned when a token has already been committed or released.
	ErrTokenNotFound = errors.New("usage token not found")
)

// RejectedError reports a reservation refused against the current counts.
type RejectedError struct {
	DiscountID string
	Reason     discount.Reason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("reserve discount %s: %s", e.DiscountID, e.Reason)
}

func (e *RejectedError) Unwrap() error { return ErrUsageRaceLost }

// Token is an outstanding reservation of one usage unit. Holds count toward
// both the global counter and the identity's usage until committed or released.
type Token struct {
	ID         string
	DiscountID string
	Identity   string
	CreatedAt  time.Time
}

// Usage is an immutable record of a discount applied to an order.
type Usage struct {
	ID         string
	DiscountID string
	Identity   string
	OrderID    string
	Amount     decimal.Decimal
	CreatedAt  time.Time
}

// Store persists the counter, holds and usages.
//
// Hold and Unhold are compare-and-swap operations: they apply only when the
// discount row still carries version, bump the version, and report false
// otherwise. Settle converts a hold into a usage without touching the counter.
// ListStaleHolds returns up to limit holds created at or before cutoff,
// oldest first.
type Store interface {
	Discount(ctx context.Context, discountID string) (*discount.Discount, error)
	CountByIdentity(ctx context.Context, discountID, identity string) (int, error)
	Hold(ctx context.Context, tok Token, version int64) (bool, error)
	Unhold(ctx context.Context, tok Token, version int64) (bool, error)
	Settle(ctx context.Context, tokenID string, u Usage) error
	ListStaleHolds(ctx context.Context, cutoff time.Time, limit int) ([]Token, error)
	ListByOrder(ctx context.Context, orderID string) ([]Usage, error)
}

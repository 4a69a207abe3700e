package usage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/discount"
)

// errVersionMoved signals a lost compare-and-swap; the attempt is retried.
var errVersionMoved = errors.New("discount version moved")

// Ledger is the only writer of the discount usage counter.
type Ledger struct {
	store      Store
	maxRetries uint64
	interval   time.Duration
	now        func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMaxRetries bounds how many times a lost compare-and-swap is retried.
func WithMaxRetries(n int) Option {
	return func(l *Ledger) {
		if n >= 0 {
			l.maxRetries = uint64(n)
		}
	}
}

// WithBackoff sets the initial wait between retries.
func WithBackoff(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.interval = d
		}
	}
}

// NewLedger creates a Ledger over store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		maxRetries: 5,
		interval:   5 * time.Millisecond,
		now:        time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.interval
	b.MaxInterval = 50 * l.interval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, l.maxRetries), ctx)
}

// CountByIdentity returns committed usages plus outstanding holds of identity.
func (l *Ledger) CountByIdentity(ctx context.Context, discountID, identity string) (int, error) {
	n, err := l.store.CountByIdentity(ctx, discountID, identity)
	if err != nil {
		return 0, errors.Wrap(err, "count by identity")
	}
	return n, nil
}

// Reserve claims one usage unit of the discount for identity.
//
// Availability and the per-identity cap are re-checked against the current
// row on every attempt. A refusal is returned as *RejectedError; storage
// failures are returned wrapped.
func (l *Ledger) Reserve(ctx context.Context, discountID, identity string) (Token, error) {
	attempt := func() (Token, error) {
		d, err := l.store.Discount(ctx, discountID)
		if errors.Is(err, discount.ErrNotFound) {
			return Token{}, backoff.Permanent(&RejectedError{DiscountID: discountID, Reason: discount.ReasonNotFound})
		}
		if err != nil {
			return Token{}, backoff.Permanent(errors.Wrap(err, "load discount"))
		}

		now := l.now()
		if err := d.Availability(now); err != nil {
			reason, _ := discount.ReasonOf(err)
			return Token{}, backoff.Permanent(&RejectedError{DiscountID: discountID, Reason: reason})
		}
		if d.MaxUsagePerCustomer != nil {
			used, err := l.store.CountByIdentity(ctx, discountID, identity)
			if err != nil {
				return Token{}, backoff.Permanent(errors.Wrap(err, "count by identity"))
			}
			if used >= *d.MaxUsagePerCustomer {
				return Token{}, backoff.Permanent(&RejectedError{
					DiscountID: discountID,
					Reason:     discount.ReasonCustomerLimitReached,
				})
			}
		}

		tok := Token{
			ID:         uuid.New().String(),
			DiscountID: discountID,
			Identity:   identity,
			CreatedAt:  now,
		}
		ok, err := l.store.Hold(ctx, tok, d.Version)
		if err != nil {
			return Token{}, backoff.Permanent(errors.Wrap(err, "hold"))
		}
		if !ok {
			return Token{}, errVersionMoved
		}
		return tok, nil
	}

	tok, err := backoff.RetryWithData(attempt, l.policy(ctx))
	if errors.Is(err, errVersionMoved) {
		return Token{}, &RejectedError{DiscountID: discountID, Reason: ReasonContention}
	}
	if err != nil {
		return Token{}, err
	}
	return tok, nil
}

// Commit records the usage backing tok against orderID and drops the hold.
// The counter is not touched: the unit was already taken by Reserve.
func (l *Ledger) Commit(ctx context.Context, tok Token, orderID string, amount decimal.Decimal) error {
	u := Usage{
		ID:         uuid.New().String(),
		DiscountID: tok.DiscountID,
		Identity:   tok.Identity,
		OrderID:    orderID,
		Amount:     amount,
		CreatedAt:  l.now(),
	}
	if err := l.store.Settle(ctx, tok.ID, u); err != nil {
		return errors.Wrap(err, "settle usage")
	}
	return nil
}

// Release gives the unit held by tok back to the counter without recording a
// usage. Releasing an unknown or already settled token returns ErrTokenNotFound.
func (l *Ledger) Release(ctx context.Context, tok Token) error {
	attempt := func() (struct{}, error) {
		d, err := l.store.Discount(ctx, tok.DiscountID)
		if err != nil {
			return struct{}{}, backoff.Permanent(errors.Wrap(err, "load discount"))
		}
		ok, err := l.store.Unhold(ctx, tok, d.Version)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !ok {
			return struct{}{}, errVersionMoved
		}
		return struct{}{}, nil
	}

	if _, err := backoff.RetryWithData(attempt, l.policy(ctx)); err != nil {
		return errors.Wrapf(err, "release token %s", tok.ID)
	}
	return nil
}

// ReleaseStale releases up to limit holds older than olderThan and returns
// how many it released. A hold outlives its checkout only when the process
// stopped between Reserve and the order transaction.
func (l *Ledger) ReleaseStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	holds, err := l.store.ListStaleHolds(ctx, l.now().Add(-olderThan), limit)
	if err != nil {
		return 0, errors.Wrap(err, "list stale holds")
	}
	var released int
	for _, tok := range holds {
		err := l.Release(ctx, tok)
		switch {
		case err == nil:
			released++
		case errors.Is(err, ErrTokenNotFound):
			// Settled or released since it was listed.
		default:
			return released, err
		}
	}
	return released, nil
}

package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// UsageCounter reports how many times identity has used (or holds a
// reservation for) a discount.
type UsageCounter interface {
	CountByIdentity(ctx context.Context, discountID, identity string) (int, error)
}

// Matcher decides whether a discount applies to a priced cart.
type Matcher struct {
	usage UsageCounter
	now   func() time.Time
}

// NewMatcher creates a Matcher that reads per-identity usage from usage.
func NewMatcher(usage UsageCounter) *Matcher {
	return &Matcher{usage: usage, now: time.Now}
}

// IsApplicable runs the applicability checks in order and stops at the first
// failure, which is returned as a *NotApplicableError. A nil discount is
// reported as ReasonNotFound. Other errors come from the usage lookup.
//
// Order: availability (active flag, window, global cap), minimum order value,
// per-identity cap, scope overlap.
func (m *Matcher) IsApplicable(ctx context.Context, d *Discount, lines []Line, identity string) error {
	if d == nil {
		return &NotApplicableError{Reason: ReasonNotFound}
	}
	if err := d.Availability(m.now()); err != nil {
		return err
	}

	if d.MinimumOrderValue.Valid && Subtotal(lines).LessThan(d.MinimumOrderValue.Decimal) {
		return &NotApplicableError{Code: d.Code, Reason: ReasonBelowMinimum}
	}

	if d.MaxUsagePerCustomer != nil {
		used, err := m.usage.CountByIdentity(ctx, d.ID, identity)
		if err != nil {
			return errors.Wrap(err, "count identity usage")
		}
		if used >= *d.MaxUsagePerCustomer {
			return &NotApplicableError{Code: d.Code, Reason: ReasonCustomerLimitReached}
		}
	}

	if len(MatchingLines(d, lines)) == 0 {
		return &NotApplicableError{Code: d.Code, Reason: ReasonScopeMismatch}
	}
	return nil
}

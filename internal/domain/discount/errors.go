package discount

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Reason is the machine-readable cause of a rejected discount.
type Reason string

const (
	ReasonNotFound             Reason = "not_found"
	ReasonInactive             Reason = "inactive"
	ReasonNotStarted           Reason = "not_started"
	ReasonExpired              Reason = "expired"
	ReasonUsageLimitReached    Reason = "usage_limit_reached"
	ReasonBelowMinimum         Reason = "below_minimum"
	ReasonCustomerLimitReached Reason = "customer_limit_reached"
	ReasonScopeMismatch        Reason = "scope_mismatch"
)

var (
	// ErrNotFound is returned by repositories when no discount has the code.
	ErrNotFound = errors.New("discount not found")
	// ErrNotApplicable matches every *NotApplicableError via errors.Is.
	ErrNotApplicable = errors.New("discount not applicable")
)

// NotApplicableError reports why a discount cannot be applied to a cart.
type NotApplicableError struct {
	Code   string
	Reason Reason
}

func (e *NotApplicableError) Error() string {
	return fmt.Sprintf("discount %q not applicable: %s", e.Code, e.Reason)
}

// Is makes errors.Is(err, ErrNotApplicable) hold for any reason.
func (e *NotApplicableError) Is(target error) bool {
	return target == ErrNotApplicable
}

// ReasonOf extracts the rejection reason from err, if it carries one.
func ReasonOf(err error) (Reason, bool) {
	var na *NotApplicableError
	if errors.As(err, &na) {
		return na.Reason, true
	}
	return "", false
}

package discount

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported reduction strategies.
type Type string

const (
	// TypePercentage takes a percentage off the matching lines.
	TypePercentage Type = "percentage"
	// TypeFixedAmount takes a fixed amount off the matching lines, capped at their subtotal.
	TypeFixedAmount Type = "fixed_amount"
)

// Scope selects which cart lines a discount reduces.
type Scope string

const (
	// ScopeAllProducts matches every line.
	ScopeAllProducts Scope = "all_products"
	// ScopeSpecificProducts matches lines whose product is in ProductIDs.
	ScopeSpecificProducts Scope = "specific_products"
	// ScopeSpecificCategories matches lines whose product category is in CategoryIDs.
	ScopeSpecificCategories Scope = "specific_categories"
)

// Discount is a promotion definition together with its usage counter.
//
// UsageCount and Version belong to the usage ledger: they are read here but
// only ever written through usage.Ledger.
type Discount struct {
	ID          string
	Code        string
	Name        string
	Description string

	Type            Type
	PercentageValue decimal.NullDecimal
	FixedValue      decimal.NullDecimal

	MinimumOrderValue     decimal.NullDecimal
	MaximumDiscountAmount decimal.NullDecimal

	// Valid in [StartDate, EndDate).
	StartDate time.Time
	EndDate   time.Time
	IsActive  bool

	Scope       Scope
	ProductIDs  []string
	CategoryIDs []string

	MaxUsageCount       *int
	MaxUsagePerCustomer *int
	UsageCount          int
	Version             int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeCode returns the canonical (trimmed, upper-case) form of a code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsExpired reports whether now is at or past the end of the validity window.
func (d *Discount) IsExpired(now time.Time) bool {
	return !now.Before(d.EndDate)
}

// IsNotStarted reports whether now is before the start of the validity window.
func (d *Discount) IsNotStarted(now time.Time) bool {
	return now.Before(d.StartDate)
}

// IsCurrentlyActive reports whether the discount is switched on and inside its window.
func (d *Discount) IsCurrentlyActive(now time.Time) bool {
	return d.IsActive && !d.IsExpired(now) && !d.IsNotStarted(now)
}

// IsUsageLimitReached reports whether the global usage cap is exhausted.
func (d *Discount) IsUsageLimitReached() bool {
	return d.MaxUsageCount != nil && d.UsageCount >= *d.MaxUsageCount
}

// CanBeUsed reports whether the discount may be applied at all at now.
func (d *Discount) CanBeUsed(now time.Time) bool {
	return d.IsCurrentlyActive(now) && !d.IsUsageLimitReached()
}

// RemainingUses returns how many more usages the global cap allows. ok is
// false when the discount has no global cap.
func (d *Discount) RemainingUses() (n int, ok bool) {
	if d.MaxUsageCount == nil {
		return 0, false
	}
	return max(*d.MaxUsageCount-d.UsageCount, 0), true
}

// availability returns the reason d cannot be used at now, or "" if it can.
func (d *Discount) availability(now time.Time) Reason {
	switch {
	case !d.IsActive:
		return ReasonInactive
	case d.IsNotStarted(now):
		return ReasonNotStarted
	case d.IsExpired(now):
		return ReasonExpired
	case d.IsUsageLimitReached():
		return ReasonUsageLimitReached
	default:
		return ""
	}
}

// Availability returns a *NotApplicableError when d cannot be used at now.
func (d *Discount) Availability(now time.Time) error {
	if r := d.availability(now); r != "" {
		return &NotApplicableError{Code: d.Code, Reason: r}
	}
	return nil
}

// Targets reports whether line falls inside the discount scope.
func (d *Discount) Targets(line Line) bool {
	switch d.Scope {
	case ScopeAllProducts:
		return true
	case ScopeSpecificProducts:
		return slices.Contains(d.ProductIDs, line.ProductID)
	case ScopeSpecificCategories:
		return slices.Contains(d.CategoryIDs, line.CategoryID)
	default:
		return false
	}
}

// Validate checks the definition invariants. It does not look at the clock.
func (d *Discount) Validate() error {
	if NormalizeCode(d.Code) == "" {
		return errors.New("code is required")
	}
	switch d.Type {
	case TypePercentage:
		if !d.PercentageValue.Valid || d.FixedValue.Valid {
			return errors.New("percentage discount needs a percentage value and no fixed value")
		}
		p := d.PercentageValue.Decimal
		if !p.IsPositive() || p.GreaterThan(decimal.NewFromInt(100)) {
			return errors.Errorf("percentage value %s out of range (0, 100]", p)
		}
	case TypeFixedAmount:
		if !d.FixedValue.Valid || d.PercentageValue.Valid {
			return errors.New("fixed discount needs a fixed value and no percentage value")
		}
		if !d.FixedValue.Decimal.IsPositive() {
			return errors.Errorf("fixed value %s must be positive", d.FixedValue.Decimal)
		}
		if d.MaximumDiscountAmount.Valid {
			return errors.New("maximum discount amount only applies to percentage discounts")
		}
	default:
		return errors.Errorf("unsupported discount type %q", d.Type)
	}
	switch d.Scope {
	case ScopeAllProducts, ScopeSpecificProducts, ScopeSpecificCategories:
	default:
		return errors.Errorf("unsupported discount scope %q", d.Scope)
	}
	if d.Scope != ScopeSpecificProducts && len(d.ProductIDs) > 0 {
		return errors.Errorf("product ids set on %s scope", d.Scope)
	}
	if d.Scope != ScopeSpecificCategories && len(d.CategoryIDs) > 0 {
		return errors.Errorf("category ids set on %s scope", d.Scope)
	}
	if !d.StartDate.Before(d.EndDate) {
		return errors.New("start date must be before end date")
	}
	if d.MinimumOrderValue.Valid && d.MinimumOrderValue.Decimal.IsNegative() {
		return errors.New("minimum order value must not be negative")
	}
	if d.MaximumDiscountAmount.Valid && !d.MaximumDiscountAmount.Decimal.IsPositive() {
		return errors.New("maximum discount amount must be positive")
	}
	if d.UsageCount < 0 {
		return errors.New("usage count must not be negative")
	}
	if d.MaxUsageCount != nil && d.UsageCount > *d.MaxUsageCount {
		return errors.Errorf("usage count %d exceeds max usage count %d", d.UsageCount, *d.MaxUsageCount)
	}
	if d.MaxUsagePerCustomer != nil && *d.MaxUsagePerCustomer <= 0 {
		return errors.New("max usage per customer must be positive")
	}
	return nil
}

// Filter narrows List results. Zero values mean "any". ActiveOnly keeps
// discounts that are switched on and inside their window at query time.
type Filter struct {
	ActiveOnly bool
	Scope      Scope
	CodePrefix string
	Limit      int
}

// Repository provides lookup of discount definitions. Implementations never
// write UsageCount; that is owned by the usage ledger store.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Discount, error)
	List(ctx context.Context, f Filter) ([]Discount, error)
}

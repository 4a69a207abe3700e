package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/discount"
)

// Rule is the discount a code turns into.
type Rule struct {
	Type        discount.Type
	Value       decimal.Decimal
	Name        string
	MaxDiscount decimal.NullDecimal
	// PerCustomer caps uses per identity; 0 means no cap.
	PerCustomer int
}

// KnownRules map codes with a dedicated promotion. Other codes get
// DefaultRule.
var KnownRules = map[string]Rule{
	"BIRTHDAY": {Type: discount.TypePercentage, Value: decimal.NewFromInt(20), Name: "Birthday: 20% off", PerCustomer: 1},
	"FIFTYOFF": {Type: discount.TypePercentage, Value: decimal.NewFromInt(50), Name: "50% off", MaxDiscount: decimal.NewNullDecimal(decimal.NewFromInt(100000))},
	"SIXTYOFF": {Type: discount.TypePercentage, Value: decimal.NewFromInt(60), Name: "60% off", MaxDiscount: decimal.NewNullDecimal(decimal.NewFromInt(100000))},
	"GNULINUX": {Type: discount.TypePercentage, Value: decimal.NewFromInt(15), Name: "Open source discount: 15% off"},
	"OVER9000": {Type: discount.TypeFixedAmount, Value: decimal.NewFromInt(9000), Name: "9,000 off your order"},
	"HAPPYHRS": {Type: discount.TypePercentage, Value: decimal.NewFromInt(18), Name: "Happy Hours: 18% off"},
}

// DefaultRule applies to codes without a dedicated promotion.
var DefaultRule = Rule{
	Type:        discount.TypePercentage,
	Value:       decimal.NewFromInt(10),
	Name:        "Promo code: 10% off",
	PerCustomer: 1,
}

// Discounts builds an all-products discount per code, valid from start for
// validity.
func Discounts(codes []string, start time.Time, validity time.Duration) []discount.Discount {
	out := make([]discount.Discount, 0, len(codes))
	for _, code := range codes {
		code = discount.NormalizeCode(code)
		rule, ok := KnownRules[code]
		if !ok {
			rule = DefaultRule
		}
		d := discount.Discount{
			ID:                    "ingest-" + strings.ToLower(code),
			Code:                  code,
			Name:                  rule.Name,
			Type:                  rule.Type,
			MaximumDiscountAmount: rule.MaxDiscount,
			StartDate:             start,
			EndDate:               start.Add(validity),
			IsActive:              true,
			Scope:                 discount.ScopeAllProducts,
		}
		switch rule.Type {
		case discount.TypePercentage:
			d.PercentageValue = decimal.NewNullDecimal(rule.Value)
		case discount.TypeFixedAmount:
			d.FixedValue = decimal.NewNullDecimal(rule.Value)
		}
		if rule.PerCustomer > 0 {
			n := rule.PerCustomer
			d.MaxUsagePerCustomer = &n
		}
		out = append(out, d)
	}
	return out
}

// Writer stores discount definitions.
type Writer interface {
	Upsert(ctx context.Context, d *discount.Discount) error
}

// Write upserts ds, logging progress every 100 discounts.
func Write(ctx context.Context, w Writer, ds []discount.Discount) error {
	slog.Info("writing discounts", slog.Int("count", len(ds)))
	for i := range ds {
		if err := w.Upsert(ctx, &ds[i]); err != nil {
			return errors.Wrapf(err, "upsert discount %s", ds[i].Code)
		}
		if (i+1)%100 == 0 || i+1 == len(ds) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(ds)))
		}
	}
	return nil
}

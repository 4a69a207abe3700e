// Package seed holds the demo catalog and discounts loaded by seed-db and by
// the in-memory storage driver.
package seed

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
)

// CatalogWriter stores catalog entries.
type CatalogWriter interface {
	UpsertCategory(ctx context.Context, c catalog.Category) error
	UpsertProduct(ctx context.Context, p catalog.Product) error
	UpsertVariant(ctx context.Context, v catalog.Variant) error
}

// DiscountWriter stores discount definitions.
type DiscountWriter interface {
	Upsert(ctx context.Context, d *discount.Discount) error
}

// APIKeyWriter stores staff API keys.
type APIKeyWriter interface {
	Upsert(ctx context.Context, info auth.APIKeyInfo) error
}

// Target is everything a dataset is written to.
type Target struct {
	Catalog   CatalogWriter
	Discounts DiscountWriter
}

// Dataset is a set of catalog entries and discounts.
type Dataset struct {
	Categories []catalog.Category
	Products   []catalog.Product
	Variants   []catalog.Variant
	Discounts  []discount.Discount
}

func price(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func limit(n int) *int { return &n }

// Demo returns the demo dataset. Discount windows run for a year from now.
func Demo(now time.Time) Dataset {
	start := now.Add(-time.Hour).Truncate(time.Second)
	end := start.AddDate(1, 0, 0)

	ds := Dataset{
		Categories: []catalog.Category{
			{ID: "sneakers", Name: "Sneakers"},
			{ID: "boots", Name: "Boots"},
			{ID: "apparel", Name: "Apparel"},
		},
		Products: []catalog.Product{
			{ID: "runner-classic", Name: "Runner Classic", Price: price(30000), CategoryID: "sneakers"},
			{ID: "court-low", Name: "Court Low", Price: price(45000), CategoryID: "sneakers"},
			{ID: "chelsea-boot", Name: "Chelsea Boot", Price: price(100000), CategoryID: "boots"},
			{ID: "trail-boot", Name: "Trail Boot", Price: price(120000), CategoryID: "boots"},
			{ID: "logo-tee", Name: "Logo Tee", Price: price(50000), CategoryID: "apparel"},
		},
		Discounts: []discount.Discount{
			{
				ID:              "save10",
				Code:            "SAVE10",
				Name:            "10% off everything",
				Type:            discount.TypePercentage,
				PercentageValue: decimal.NewNullDecimal(price(10)),
				Scope:           discount.ScopeAllProducts,
			},
			{
				ID:          "flat50k",
				Code:        "FLAT50K",
				Name:        "50,000 off sneakers",
				Type:        discount.TypeFixedAmount,
				FixedValue:  decimal.NewNullDecimal(price(50000)),
				Scope:       discount.ScopeSpecificCategories,
				CategoryIDs: []string{"sneakers"},
			},
			{
				ID:                    "boots25",
				Code:                  "BOOTS25",
				Name:                  "25% off boots, capped",
				Type:                  discount.TypePercentage,
				PercentageValue:       decimal.NewNullDecimal(price(25)),
				MaximumDiscountAmount: decimal.NewNullDecimal(price(40000)),
				MinimumOrderValue:     decimal.NewNullDecimal(price(100000)),
				Scope:                 discount.ScopeSpecificCategories,
				CategoryIDs:           []string{"boots"},
			},
			{
				ID:                  "welcome",
				Code:                "WELCOME",
				Name:                "First order 15%",
				Type:                discount.TypePercentage,
				PercentageValue:     decimal.NewNullDecimal(price(15)),
				Scope:               discount.ScopeAllProducts,
				MaxUsagePerCustomer: limit(1),
			},
			{
				ID:            "tee-drop",
				Code:          "TEEDROP",
				Name:          "Limited tee drop",
				Type:          discount.TypeFixedAmount,
				FixedValue:    decimal.NewNullDecimal(price(10000)),
				Scope:         discount.ScopeSpecificProducts,
				ProductIDs:    []string{"logo-tee"},
				MaxUsageCount: limit(100),
			},
		},
	}
	for _, p := range ds.Products {
		for _, size := range []string{"S", "M", "L"} {
			ds.Variants = append(ds.Variants, catalog.Variant{
				ID:        p.ID + "-" + size,
				ProductID: p.ID,
				Name:      size,
				Price:     p.Price,
				Stock:     50,
			})
		}
	}
	for i := range ds.Discounts {
		ds.Discounts[i].StartDate = start
		ds.Discounts[i].EndDate = end
		ds.Discounts[i].IsActive = true
	}
	return ds
}

// Apply writes ds to t in dependency order.
func Apply(ctx context.Context, t Target, ds Dataset) error {
	for _, c := range ds.Categories {
		if err := t.Catalog.UpsertCategory(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert category %s", c.ID)
		}
	}
	for _, p := range ds.Products {
		if err := t.Catalog.UpsertProduct(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
	}
	for _, v := range ds.Variants {
		if err := t.Catalog.UpsertVariant(ctx, v); err != nil {
			return errors.Wrapf(err, "upsert variant %s", v.ID)
		}
	}
	for i := range ds.Discounts {
		d := ds.Discounts[i]
		if err := t.Discounts.Upsert(ctx, &d); err != nil {
			return errors.Wrapf(err, "upsert discount %s", d.Code)
		}
	}
	return nil
}

// APIKey stores key, hashed with pepper, as the default staff key.
func APIKey(ctx context.Context, w APIKeyWriter, pepper []byte, key string) error {
	if key == "" {
		return errors.New("api key is empty")
	}
	info := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey(pepper, key),
		Name:    "Default staff key",
		Scopes:  []string{auth.ScopeDiscountsRead},
	}
	if err := w.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert default api key")
	}
	return nil
}

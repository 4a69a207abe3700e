package memory

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/domain/order"
)

var testTime = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func seedCart(t *testing.T, db *DB, items ...string) {
	t.Helper()
	seedCartID(t, db, "c1", items...)
}

func seedCartID(t *testing.T, db *DB, cartID string, items ...string) {
	t.Helper()
	ctx := context.Background()
	carts := NewCartRepository(db)
	require.NoError(t, carts.Create(ctx, &cart.Cart{ID: cartID, Identity: "user@x", CreatedAt: testTime, UpdatedAt: testTime}))
	for _, id := range items {
		require.NoError(t, carts.AddItem(ctx, &cart.Item{
			ID: id, CartID: cartID, VariantID: "v1", Quantity: 1,
			PriceAtAdd: decimal.NewFromInt(100), State: cart.Active{},
			CreatedAt: testTime, UpdatedAt: testTime,
		}))
	}
}

func newOrder(id string, items ...string) *order.Order {
	o := &order.Order{ID: id, CartID: "c1", Identity: "user@x", CreatedAt: testTime.Add(time.Minute)}
	for _, it := range items {
		o.Lines = append(o.Lines, order.Line{ItemID: it, VariantID: "v1", Quantity: 1, UnitPrice: decimal.NewFromInt(100)})
	}
	return o
}

func TestDB_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	db := New()
	seedCart(t, db, "i1", "i2")
	orders := NewOrderRepository(db)

	boom := errors.New("boom")
	err := db.InTx(ctx, func(ctx context.Context) error {
		require.NoError(t, orders.Create(ctx, newOrder("o1", "i1", "i2")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = orders.Get(ctx, "o1")
	require.ErrorIs(t, err, order.ErrNotFound)
	c, err := NewCartRepository(db).Get(ctx, "c1")
	require.NoError(t, err)
	for _, it := range c.Items {
		assert.True(t, it.IsActive())
	}
	assert.Equal(t, testTime, c.UpdatedAt)
}

func TestDB_NestedInTx(t *testing.T) {
	ctx := context.Background()
	db := New()
	seedCart(t, db, "i1")
	seedCartID(t, db, "c2", "i2")
	orders := NewOrderRepository(db)
	boom := errors.New("boom")
	inC2 := func(o *order.Order) *order.Order {
		o.CartID = "c2"
		return o
	}

	t.Run("inner failure keeps outer writes", func(t *testing.T) {
		err := db.InTx(ctx, func(ctx context.Context) error {
			require.NoError(t, orders.Create(ctx, newOrder("o1", "i1")))
			inner := db.InTx(ctx, func(ctx context.Context) error {
				require.NoError(t, orders.Create(ctx, inC2(newOrder("o2", "i2"))))
				return boom
			})
			require.ErrorIs(t, inner, boom)
			return nil
		})
		require.NoError(t, err)

		_, err = orders.Get(ctx, "o1")
		require.NoError(t, err)
		_, err = orders.Get(ctx, "o2")
		require.ErrorIs(t, err, order.ErrNotFound)
	})

	t.Run("outer failure reverts committed inner writes", func(t *testing.T) {
		err := db.InTx(ctx, func(ctx context.Context) error {
			require.NoError(t, db.InTx(ctx, func(ctx context.Context) error {
				return orders.Create(ctx, inC2(newOrder("o3", "i2")))
			}))
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = orders.Get(ctx, "o3")
		require.ErrorIs(t, err, order.ErrNotFound)
		c, err := NewCartRepository(db).Get(ctx, "c2")
		require.NoError(t, err)
		it, err := c.Item("i2")
		require.NoError(t, err)
		assert.True(t, it.IsActive())
	})
}

func TestOrderRepository_Create(t *testing.T) {
	ctx := context.Background()
	db := New()
	seedCart(t, db, "i1", "i2")
	orders := NewOrderRepository(db)
	carts := NewCartRepository(db)

	// i2 is still Active and not part of the order.
	require.ErrorIs(t, orders.Create(ctx, newOrder("o0", "i1")), order.ErrCartChanged)
	require.ErrorIs(t, orders.Create(ctx, newOrder("o0", "i1", "i1")), order.ErrCartChanged)

	o := newOrder("o1", "i1", "i2")
	o.IdempotencyKey = "k1"
	require.NoError(t, orders.Create(ctx, o))

	c, err := carts.Get(ctx, "c1")
	require.NoError(t, err)
	i1, err := c.Item("i1")
	require.NoError(t, err)
	orderID, ok := i1.OrderID()
	require.True(t, ok)
	assert.Equal(t, "o1", orderID)

	got, err := orders.FindByIdempotencyKey(ctx, "user@x", "k1")
	require.NoError(t, err)
	assert.Equal(t, "o1", got.ID)

	dup := newOrder("o2", "i2")
	dup.IdempotencyKey = "k1"
	require.ErrorIs(t, orders.Create(ctx, dup), order.ErrDuplicateKey)

	// An already purchased item cannot be claimed again.
	require.ErrorIs(t, orders.Create(ctx, newOrder("o3", "i2", "i1")), order.ErrCartChanged)
	_, err = orders.Get(ctx, "o3")
	require.ErrorIs(t, err, order.ErrNotFound)

	require.NoError(t, carts.AddItem(ctx, &cart.Item{
		ID: "i3", CartID: "c1", VariantID: "v1", Quantity: 2,
		PriceAtAdd: decimal.NewFromInt(100), State: cart.Active{},
		CreatedAt: testTime, UpdatedAt: testTime,
	}))

	// The quantity changed after the order was priced; nothing is written.
	require.ErrorIs(t, orders.Create(ctx, newOrder("o4", "i3")), order.ErrCartChanged)
	c, err = carts.Get(ctx, "c1")
	require.NoError(t, err)
	i3, err := c.Item("i3")
	require.NoError(t, err)
	assert.True(t, i3.IsActive())
	_, err = orders.Get(ctx, "o4")
	require.ErrorIs(t, err, order.ErrNotFound)

	o5 := newOrder("o5", "i3")
	o5.Lines[0].Quantity = 2
	require.NoError(t, orders.Create(ctx, o5))
}

func TestDiscountRepository(t *testing.T) {
	ctx := context.Background()
	db := New()
	db.now = func() time.Time { return testTime }
	repo := NewDiscountRepository(db)

	for _, d := range []*discount.Discount{
		{ID: "d1", Code: " save10 ", Type: discount.TypePercentage, PercentageValue: decimal.NewNullDecimal(decimal.NewFromInt(10)), Scope: discount.ScopeAllProducts},
		{ID: "d2", Code: "SAVE20", Type: discount.TypePercentage, PercentageValue: decimal.NewNullDecimal(decimal.NewFromInt(20)), Scope: discount.ScopeAllProducts},
		{ID: "d3", Code: "FLAT", Type: discount.TypeFixedAmount, FixedValue: decimal.NewNullDecimal(decimal.NewFromInt(5)), Scope: discount.ScopeSpecificCategories, CategoryIDs: []string{"c"}},
	} {
		d.StartDate = testTime.Add(-time.Hour)
		d.EndDate = testTime.Add(time.Hour)
		d.IsActive = d.ID != "d2"
		require.NoError(t, repo.Upsert(ctx, d))
	}

	got, err := repo.FindByCode(ctx, "Save10")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", got.Code)

	_, err = repo.FindByCode(ctx, "missing")
	require.ErrorIs(t, err, discount.ErrNotFound)

	clash := *got
	clash.ID = "other"
	require.Error(t, repo.Upsert(ctx, &clash), "codes are unique case-insensitively")

	list, err := repo.List(ctx, discount.Filter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "FLAT", list[0].Code)

	list, err = repo.List(ctx, discount.Filter{CodePrefix: "save", Limit: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "SAVE10", list[0].Code)

	list, err = repo.List(ctx, discount.Filter{Scope: discount.ScopeSpecificCategories})
	require.NoError(t, err)
	require.Len(t, list, 1)

	// Re-importing a definition keeps its counter.
	db.discounts["d1"] = func() discount.Discount { d := db.discounts["d1"]; d.UsageCount = 3; return d }()
	got.Name = "renamed"
	require.NoError(t, repo.Upsert(ctx, got))
	again, err := repo.FindByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 3, again.UsageCount)
	assert.Equal(t, "renamed", again.Name)
	assert.Greater(t, again.Version, got.Version)
}

func TestDiscountRepository_UpsertChecksStoredCount(t *testing.T) {
	ctx := context.Background()
	db := New()
	db.now = func() time.Time { return testTime }
	repo := NewDiscountRepository(db)

	capped := func(limit int) *discount.Discount {
		return &discount.Discount{
			ID:              "d1",
			Code:            "CAPPED",
			Type:            discount.TypePercentage,
			PercentageValue: decimal.NewNullDecimal(decimal.NewFromInt(10)),
			Scope:           discount.ScopeAllProducts,
			StartDate:       testTime.Add(-time.Hour),
			EndDate:         testTime.Add(time.Hour),
			IsActive:        true,
			MaxUsageCount:   &limit,
		}
	}
	require.NoError(t, repo.Upsert(ctx, capped(2)))
	db.discounts["d1"] = func() discount.Discount { d := db.discounts["d1"]; d.UsageCount = 1; return d }()

	err := repo.Upsert(ctx, capped(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds max usage count")

	got, err := repo.FindByCode(ctx, "CAPPED")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)
	require.NotNil(t, got.MaxUsageCount)
	assert.Equal(t, 2, *got.MaxUsageCount, "rejected definition is not stored")

	require.NoError(t, repo.Upsert(ctx, capped(1)), "a cap equal to the count is allowed")
}

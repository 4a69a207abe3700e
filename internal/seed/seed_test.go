package seed_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/seed"
	"github.com/xenking/storefront-checkout/internal/storage/memory"
)

func TestApply(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	ref := memory.NewCatalogRepository(db)
	discounts := memory.NewDiscountRepository(db)
	ds := seed.Demo(time.Now())

	target := seed.Target{Catalog: ref, Discounts: discounts}
	require.NoError(t, seed.Apply(ctx, target, ds))
	// Re-applying is harmless.
	require.NoError(t, seed.Apply(ctx, target, ds))

	products, err := ref.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, len(ds.Products))

	for _, d := range ds.Discounts {
		got, err := discounts.FindByCode(ctx, d.Code)
		require.NoError(t, err)
		assert.True(t, got.IsCurrentlyActive(time.Now()), d.Code)
	}

	// Every scoped id points at something in the catalog.
	for _, d := range ds.Discounts {
		for _, id := range d.ProductIDs {
			_, err := ref.GetProduct(ctx, id)
			require.NoError(t, err, d.Code)
		}
	}
	active, err := discounts.List(ctx, discount.Filter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, len(ds.Discounts))
}

func TestAPIKey(t *testing.T) {
	ctx := context.Background()
	keys := memory.NewAPIKeyRepository(memory.New())
	pepper := []byte("pepper")

	require.Error(t, seed.APIKey(ctx, keys, pepper, ""))
	require.NoError(t, seed.APIKey(ctx, keys, pepper, "staff-key"))

	info, err := keys.FindByHash(ctx, auth.HashKey(pepper, "staff-key"))
	require.NoError(t, err)
	assert.True(t, info.HasScope(auth.ScopeDiscountsRead))

	_, err = keys.FindByHash(ctx, auth.HashKey([]byte("other"), "staff-key"))
	require.ErrorIs(t, err, auth.ErrKeyNotFound)
}

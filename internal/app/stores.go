package app

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/usage"
	"github.com/xenking/storefront-checkout/internal/seed"
	"github.com/xenking/storefront-checkout/internal/storage/memory"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
	"github.com/xenking/storefront-checkout/internal/storage/rediscache"
	"github.com/xenking/storefront-checkout/pkg/health"
)

// stores is one storage driver's set of repositories.
type stores struct {
	catalog   rediscache.Source
	discounts discount.Repository
	carts     cart.Repository
	orders    order.Repository
	usage     usage.Store
	apikeys   auth.Repository
	tx        checkout.Transactor
	pinger    health.Pinger

	seed         seed.Target
	apikeyWriter seed.APIKeyWriter
	close        func()
}

func openStores(ctx context.Context, cfg *Config) (*stores, error) {
	switch cfg.Storage.Driver {
	case DriverMemory:
		return memoryStores(), nil
	case DriverPostgres:
		return postgresStores(ctx, cfg.DatabaseURL)
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func memoryStores() *stores {
	db := memory.New()
	catalogRepo := memory.NewCatalogRepository(db)
	discounts := memory.NewDiscountRepository(db)
	apikeys := memory.NewAPIKeyRepository(db)
	return &stores{
		catalog:      catalogRepo,
		discounts:    discounts,
		carts:        memory.NewCartRepository(db),
		orders:       memory.NewOrderRepository(db),
		usage:        memory.NewUsageStore(db),
		apikeys:      apikeys,
		tx:           db,
		pinger:       db,
		seed:         seed.Target{Catalog: catalogRepo, Discounts: discounts},
		apikeyWriter: apikeys,
		close:        func() {},
	}
}

func postgresStores(ctx context.Context, databaseURL string) (*stores, error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}

	db := postgres.NewDB(pool)
	catalogRepo := postgres.NewCatalogRepository(db)
	discounts := postgres.NewDiscountRepository(db)
	apikeys := postgres.NewAPIKeyRepository(db)
	return &stores{
		catalog:      catalogRepo,
		discounts:    discounts,
		carts:        postgres.NewCartRepository(db),
		orders:       postgres.NewOrderRepository(db),
		usage:        postgres.NewUsageStore(db),
		apikeys:      apikeys,
		tx:           db,
		pinger:       db,
		seed:         seed.Target{Catalog: catalogRepo, Discounts: discounts},
		apikeyWriter: apikeys,
		close:        pool.Close,
	}, nil
}

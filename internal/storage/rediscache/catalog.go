// Package rediscache puts a Redis read-through cache in front of the catalog.
package rediscache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/catalog"
)

const keyPrefix = "shop:catalog:"

// Source is the catalog the cache reads through to.
type Source interface {
	catalog.Reference
	catalog.Lister
}

var (
	_ catalog.Reference = (*Catalog)(nil)
	_ catalog.Lister    = (*Catalog)(nil)
)

// Catalog caches product and variant lookups. Listings and misses go to the
// source; lookups that fail there are not cached.
//
// Redis errors never fail a lookup: the source is consulted instead.
type Catalog struct {
	rdb  redis.Cmdable
	next Source
	ttl  time.Duration
}

// NewCatalog wraps next with a cache whose entries live for ttl.
func NewCatalog(rdb redis.Cmdable, next Source, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Catalog{rdb: rdb, next: next, ttl: ttl}
}

// Connect creates a client and checks that the server answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return rdb, nil
}

func productKey(id string) string { return keyPrefix + "product:" + id }
func variantKey(id string) string { return keyPrefix + "variant:" + id }

func (c *Catalog) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	return readThrough(ctx, c, productKey(id), decodeProduct, encodeProduct, func() (*catalog.Product, error) {
		return c.next.GetProduct(ctx, id)
	})
}

func (c *Catalog) GetVariant(ctx context.Context, id string) (*catalog.Variant, error) {
	return readThrough(ctx, c, variantKey(id), decodeVariant, encodeVariant, func() (*catalog.Variant, error) {
		return c.next.GetVariant(ctx, id)
	})
}

func (c *Catalog) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	return c.next.ListProducts(ctx)
}

func (c *Catalog) ListVariants(ctx context.Context, productID string) ([]catalog.Variant, error) {
	return c.next.ListVariants(ctx, productID)
}

// Invalidate drops cached entries for the given products and variants.
func (c *Catalog) Invalidate(ctx context.Context, productIDs, variantIDs []string) error {
	keys := make([]string, 0, len(productIDs)+len(variantIDs))
	for _, id := range productIDs {
		keys = append(keys, productKey(id))
	}
	for _, id := range variantIDs {
		keys = append(keys, variantKey(id))
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

func readThrough[T any](
	ctx context.Context,
	c *Catalog,
	key string,
	decode func([]byte) (*T, error),
	encode func(*T) []byte,
	load func() (*T, error),
) (*T, error) {
	lg := zctx.From(ctx)

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		v, err := decode(data)
		if err == nil {
			return v, nil
		}
		lg.Warn("Drop undecodable cache entry", zap.String("key", key), zap.Error(err))
	case !errors.Is(err, redis.Nil):
		lg.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
	}

	v, err := load()
	if err != nil {
		return nil, err
	}
	if err := c.rdb.Set(ctx, key, encode(v), c.ttl).Err(); err != nil {
		lg.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

package rediscache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/catalog"
)

// fakeRedis implements the commands the cache uses over a map.
type fakeRedis struct {
	redis.Cmdable

	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	readErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return redis.NewStringResult("", f.readErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = string(value.([]byte))
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

type mockSource struct {
	products map[string]catalog.Product
	variants map[string]catalog.Variant
	calls    int
}

func (m *mockSource) GetProduct(_ context.Context, id string) (*catalog.Product, error) {
	m.calls++
	p, ok := m.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return &p, nil
}

func (m *mockSource) GetVariant(_ context.Context, id string) (*catalog.Variant, error) {
	m.calls++
	v, ok := m.variants[id]
	if !ok {
		return nil, catalog.ErrVariantNotFound
	}
	return &v, nil
}

func (m *mockSource) ListProducts(context.Context) ([]catalog.Product, error) {
	m.calls++
	return nil, nil
}

func (m *mockSource) ListVariants(context.Context, string) ([]catalog.Variant, error) {
	m.calls++
	return nil, nil
}

func newSource() *mockSource {
	return &mockSource{
		products: map[string]catalog.Product{
			"p1": {ID: "p1", Name: "Runner", Price: decimal.RequireFromString("299.99"), CategoryID: "sneakers"},
		},
		variants: map[string]catalog.Variant{
			"v1": {ID: "v1", ProductID: "p1", Name: "42", Price: decimal.RequireFromString("299.99"), Stock: 7},
		},
	}
}

func TestCatalog_ReadThrough(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	src := newSource()
	c := NewCatalog(rdb, src, 30*time.Second)

	first, err := c.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 30*time.Second, rdb.ttls[productKey("p1")])

	second, err := c.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "served from cache")
	assert.Equal(t, first.Name, second.Name)
	assert.True(t, first.Price.Equal(second.Price))
	assert.Equal(t, "sneakers", second.CategoryID)

	v, err := c.GetVariant(ctx, "v1")
	require.NoError(t, err)
	v, err = c.GetVariant(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, 7, v.Stock)
	assert.Equal(t, "p1", v.ProductID)
}

func TestCatalog_MissesAreNotCached(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	src := newSource()
	c := NewCatalog(rdb, src, time.Minute)

	_, err := c.GetVariant(ctx, "missing")
	require.ErrorIs(t, err, catalog.ErrVariantNotFound)
	_, err = c.GetVariant(ctx, "missing")
	require.ErrorIs(t, err, catalog.ErrVariantNotFound)
	assert.Equal(t, 2, src.calls)
	assert.Empty(t, rdb.data)
}

func TestCatalog_RedisFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	rdb.readErr = errors.New("connection refused")
	src := newSource()
	c := NewCatalog(rdb, src, time.Minute)

	p, err := c.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Runner", p.Name)
	assert.Equal(t, 1, src.calls)
}

func TestCatalog_CorruptEntryIsReloaded(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	rdb.data[variantKey("v1")] = `{"id":`
	src := newSource()
	c := NewCatalog(rdb, src, time.Minute)

	v, err := c.GetVariant(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 7, v.Stock)
	assert.Equal(t, 1, src.calls)

	_, err = decodeVariant([]byte(rdb.data[variantKey("v1")]))
	require.NoError(t, err, "entry rewritten")
}

func TestCatalog_Invalidate(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	src := newSource()
	c := NewCatalog(rdb, src, time.Minute)

	_, err := c.GetProduct(ctx, "p1")
	require.NoError(t, err)
	_, err = c.GetVariant(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, rdb.data, 2)

	require.NoError(t, c.Invalidate(ctx, []string{"p1"}, []string{"v1"}))
	assert.Empty(t, rdb.data)
	require.NoError(t, c.Invalidate(ctx, nil, nil))
}

func TestCodec_KeepsDecimalPrecision(t *testing.T) {
	p := &catalog.Product{ID: "p", Name: "x", Price: decimal.RequireFromString("0.1000000000000000000001"), CategoryID: "c"}
	got, err := decodeProduct(encodeProduct(p))
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(got.Price))

	_, err = decodeProduct([]byte(`{"name":"no id"}`))
	require.Error(t, err)
	_, err = decodeVariant([]byte(`{"id":"v","stock":"many"}`))
	require.Error(t, err)
}

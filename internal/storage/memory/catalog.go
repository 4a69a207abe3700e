package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/xenking/storefront-checkout/internal/domain/catalog"
)

var (
	_ catalog.Reference = (*CatalogRepository)(nil)
	_ catalog.Lister    = (*CatalogRepository)(nil)
)

// CatalogRepository serves products and variants from a DB.
type CatalogRepository struct {
	db *DB
}

// NewCatalogRepository returns a CatalogRepository over db.
func NewCatalogRepository(db *DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) GetProduct(_ context.Context, id string) (*catalog.Product, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	p, ok := r.db.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return &p, nil
}

func (r *CatalogRepository) GetVariant(_ context.Context, id string) (*catalog.Variant, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	v, ok := r.db.variants[id]
	if !ok {
		return nil, catalog.ErrVariantNotFound
	}
	return &v, nil
}

func (r *CatalogRepository) ListProducts(_ context.Context) ([]catalog.Product, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	out := make([]catalog.Product, 0, len(r.db.products))
	for _, p := range r.db.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b catalog.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *CatalogRepository) ListVariants(_ context.Context, productID string) ([]catalog.Variant, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []catalog.Variant
	for _, v := range r.db.variants {
		if v.ProductID == productID {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b catalog.Variant) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *CatalogRepository) UpsertCategory(_ context.Context, c catalog.Category) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.categories[c.ID] = c
	return nil
}

func (r *CatalogRepository) UpsertProduct(_ context.Context, p catalog.Product) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.products[p.ID] = p
	return nil
}

func (r *CatalogRepository) UpsertVariant(_ context.Context, v catalog.Variant) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.variants[v.ID] = v
	return nil
}

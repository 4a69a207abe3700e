package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-checkout/internal/domain/catalog"
)

const (
	getProductSQL = `SELECT id, name, price, category_id FROM products WHERE id = $1`

	listProductsSQL = `SELECT id, name, price, category_id FROM products ORDER BY id`

	getVariantSQL = `SELECT id, product_id, name, price, stock FROM product_variants WHERE id = $1`

	listVariantsSQL = `SELECT id, product_id, name, price, stock
		FROM product_variants WHERE product_id = $1 ORDER BY id`

	upsertCategorySQL = `INSERT INTO categories (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`

	upsertProductSQL = `INSERT INTO products (id, name, price, category_id) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
		category_id = EXCLUDED.category_id`

	upsertVariantSQL = `INSERT INTO product_variants (id, product_id, name, price, stock) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET product_id = EXCLUDED.product_id, name = EXCLUDED.name,
		price = EXCLUDED.price, stock = EXCLUDED.stock`
)

var (
	_ catalog.Reference = (*CatalogRepository)(nil)
	_ catalog.Lister    = (*CatalogRepository)(nil)
)

// CatalogRepository reads products and variants.
type CatalogRepository struct {
	db *DB
}

// NewCatalogRepository returns a CatalogRepository over db.
func NewCatalogRepository(db *DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetProduct returns catalog.ErrProductNotFound for unknown ids.
func (r *CatalogRepository) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	rows, err := r.db.q(ctx).Query(ctx, getProductSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrProductNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetVariant returns catalog.ErrVariantNotFound for unknown ids.
func (r *CatalogRepository) GetVariant(ctx context.Context, id string) (*catalog.Variant, error) {
	rows, err := r.db.q(ctx).Query(ctx, getVariantSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting variant %q: %w", id, err)
	}
	v, err := pgx.CollectExactlyOneRow(rows, scanVariant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrVariantNotFound
		}
		return nil, fmt.Errorf("getting variant %q: %w", id, err)
	}
	return &v, nil
}

// ListProducts returns all products ordered by ID.
func (r *CatalogRepository) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.db.q(ctx).Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// ListVariants returns the variants of a product ordered by ID.
func (r *CatalogRepository) ListVariants(ctx context.Context, productID string) ([]catalog.Variant, error) {
	rows, err := r.db.q(ctx).Query(ctx, listVariantsSQL, productID)
	if err != nil {
		return nil, fmt.Errorf("listing variants of %q: %w", productID, err)
	}
	return pgx.CollectRows(rows, scanVariant)
}

// UpsertCategory inserts or renames a category.
func (r *CatalogRepository) UpsertCategory(ctx context.Context, c catalog.Category) error {
	if _, err := r.db.q(ctx).Exec(ctx, upsertCategorySQL, c.ID, c.Name); err != nil {
		return fmt.Errorf("upserting category %q: %w", c.ID, err)
	}
	return nil
}

// UpsertProduct inserts or replaces a product.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p catalog.Product) error {
	if _, err := r.db.q(ctx).Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price, p.CategoryID); err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

// UpsertVariant inserts or replaces a variant.
func (r *CatalogRepository) UpsertVariant(ctx context.Context, v catalog.Variant) error {
	if _, err := r.db.q(ctx).Exec(ctx, upsertVariantSQL, v.ID, v.ProductID, v.Name, v.Price, v.Stock); err != nil {
		return fmt.Errorf("upserting variant %q: %w", v.ID, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.CategoryID)
	return p, err
}

func scanVariant(row pgx.CollectableRow) (catalog.Variant, error) {
	var (
		v     catalog.Variant
		stock int32
	)
	err := row.Scan(&v.ID, &v.ProductID, &v.Name, &v.Price, &stock)
	v.Stock = int(stock)
	return v, err
}

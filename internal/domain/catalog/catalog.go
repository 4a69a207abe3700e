// Package catalog is the read-only view of products, variants and categories
// that pricing and discount matching resolve cart lines against.
package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrProductNotFound is returned when a requested product does not exist.
	ErrProductNotFound = errors.New("product not found")
	// ErrVariantNotFound is returned when a requested product variant does not exist.
	ErrVariantNotFound = errors.New("variant not found")
)

// OutOfStockError reports a variant that cannot cover the requested quantity.
type OutOfStockError struct {
	VariantID string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("variant %s: requested %d, %d in stock", e.VariantID, e.Requested, e.Available)
}

// Category groups products for category-scoped discounts.
type Category struct {
	ID   string
	Name string
}

// Product is a catalog item. Discounts scope on its ID and CategoryID.
type Product struct {
	ID         string
	Name       string
	Price      decimal.Decimal
	CategoryID string
}

// Variant is the purchasable unit a cart line points at (size, colour, ...).
type Variant struct {
	ID        string
	ProductID string
	Name      string
	Price     decimal.Decimal
	Stock     int
}

// InStock reports whether qty units can be sold from the current stock.
func (v *Variant) InStock(qty int) bool {
	return qty > 0 && v.Stock >= qty
}

// Reference resolves catalog identities by id. Implementations never hold
// references back to discounts.
type Reference interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
	GetVariant(ctx context.Context, id string) (*Variant, error)
}

// Lister enumerates the catalog for the storefront listing.
type Lister interface {
	ListProducts(ctx context.Context) ([]Product, error)
	ListVariants(ctx context.Context, productID string) ([]Variant, error)
}

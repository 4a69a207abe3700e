package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/catalog"
)

// ErrNotOwner is returned when identity does not own the cart.
var ErrNotOwner = errors.New("cart belongs to another identity")

// Service implements cart editing on top of a Repository.
type Service struct {
	carts   Repository
	catalog catalog.Reference
	now     func() time.Time
}

// NewService creates a cart Service.
func NewService(carts Repository, ref catalog.Reference) *Service {
	return &Service{carts: carts, catalog: ref, now: time.Now}
}

// Create opens an empty cart for identity.
func (s *Service) Create(ctx context.Context, identity string) (*Cart, error) {
	if identity == "" {
		return nil, errors.New("identity is required")
	}
	now := s.now()
	c := &Cart{
		ID:        uuid.New().String(),
		Identity:  identity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.carts.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create cart")
	}
	return c, nil
}

// Get returns the cart if identity owns it.
func (s *Service) Get(ctx context.Context, cartID, identity string) (*Cart, error) {
	c, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if c.Identity != identity {
		return nil, ErrNotOwner
	}
	return c, nil
}

// AddItem adds qty units of a variant at its current price. An Active item for
// the same variant is merged into rather than duplicated.
func (s *Service) AddItem(ctx context.Context, cartID, identity, variantID string, qty int) (*Item, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	c, err := s.Get(ctx, cartID, identity)
	if err != nil {
		return nil, err
	}
	v, err := s.catalog.GetVariant(ctx, variantID)
	if err != nil {
		return nil, errors.Wrapf(err, "variant %s", variantID)
	}

	now := s.now()
	for i := range c.Items {
		it := &c.Items[i]
		if it.VariantID != variantID || !it.IsActive() {
			continue
		}
		if !v.InStock(it.Quantity + qty) {
			return nil, &catalog.OutOfStockError{VariantID: variantID, Requested: it.Quantity + qty, Available: v.Stock}
		}
		if err := it.SetQuantity(it.Quantity+qty, now); err != nil {
			return nil, err
		}
		if err := it.Reprice(v.Price, now); err != nil {
			return nil, err
		}
		if err := s.carts.UpdateItem(ctx, it); err != nil {
			return nil, errors.Wrap(err, "update item")
		}
		return it, nil
	}

	if !v.InStock(qty) {
		return nil, &catalog.OutOfStockError{VariantID: variantID, Requested: qty, Available: v.Stock}
	}
	it := &Item{
		ID:         uuid.New().String(),
		CartID:     c.ID,
		VariantID:  variantID,
		Quantity:   qty,
		PriceAtAdd: v.Price,
		State:      Active{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.carts.AddItem(ctx, it); err != nil {
		return nil, errors.Wrap(err, "add item")
	}
	return it, nil
}

// SetQuantity changes the quantity of an Active item and refreshes its price.
func (s *Service) SetQuantity(ctx context.Context, cartID, identity, itemID string, qty int) (*Item, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	c, err := s.Get(ctx, cartID, identity)
	if err != nil {
		return nil, err
	}
	it, err := c.Item(itemID)
	if err != nil {
		return nil, err
	}
	if !it.IsActive() {
		return nil, ErrItemNotActive
	}
	v, err := s.catalog.GetVariant(ctx, it.VariantID)
	if err != nil {
		return nil, errors.Wrapf(err, "variant %s", it.VariantID)
	}
	if !v.InStock(qty) {
		return nil, &catalog.OutOfStockError{VariantID: v.ID, Requested: qty, Available: v.Stock}
	}

	now := s.now()
	if err := it.SetQuantity(qty, now); err != nil {
		return nil, err
	}
	if err := it.Reprice(v.Price, now); err != nil {
		return nil, err
	}
	if err := s.carts.UpdateItem(ctx, it); err != nil {
		return nil, errors.Wrap(err, "update item")
	}
	return it, nil
}

// RemoveItem soft-deletes an Active item.
func (s *Service) RemoveItem(ctx context.Context, cartID, identity, itemID string) error {
	c, err := s.Get(ctx, cartID, identity)
	if err != nil {
		return err
	}
	it, err := c.Item(itemID)
	if err != nil {
		return err
	}
	now := s.now()
	if err := it.Transition(Removed{At: now, Reason: ReasonRemovedByOwner}, now); err != nil {
		return err
	}
	if err := s.carts.UpdateItem(ctx, it); err != nil {
		return errors.Wrap(err, "update item")
	}
	return nil
}

// ExpireStale moves Active items untouched for longer than idle to Expired.
// Items that left Active concurrently are skipped. It returns the number of
// items expired.
func (s *Service) ExpireStale(ctx context.Context, idle time.Duration, limit int) (int, error) {
	now := s.now()
	items, err := s.carts.ListStaleItems(ctx, now.Add(-idle), limit)
	if err != nil {
		return 0, errors.Wrap(err, "list stale items")
	}

	var expired int
	for i := range items {
		it := &items[i]
		if err := it.Transition(Expired{At: now, Reason: ReasonIdleTimeout}, now); err != nil {
			continue
		}
		switch err := s.carts.UpdateItem(ctx, it); {
		case errors.Is(err, ErrItemNotActive):
			continue
		case err != nil:
			return expired, errors.Wrapf(err, "expire item %s", it.ID)
		}
		expired++
	}
	if expired > 0 {
		zctx.From(ctx).Info("Expired idle cart items", zap.Int("count", expired))
	}
	return expired, nil
}

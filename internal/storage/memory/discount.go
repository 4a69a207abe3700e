package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/domain/usage"
)

var (
	_ discount.Repository = (*DiscountRepository)(nil)
	_ usage.Store         = (*UsageStore)(nil)
)

// DiscountRepository serves discount definitions from a DB.
type DiscountRepository struct {
	db *DB
}

// NewDiscountRepository returns a DiscountRepository over db.
func NewDiscountRepository(db *DB) *DiscountRepository {
	return &DiscountRepository{db: db}
}

func cloneDiscount(d discount.Discount) *discount.Discount {
	d.ProductIDs = slices.Clone(d.ProductIDs)
	d.CategoryIDs = slices.Clone(d.CategoryIDs)
	return &d
}

func (r *DiscountRepository) FindByCode(_ context.Context, code string) (*discount.Discount, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	code = discount.NormalizeCode(code)
	for _, d := range r.db.discounts {
		if discount.NormalizeCode(d.Code) == code {
			return cloneDiscount(d), nil
		}
	}
	return nil, discount.ErrNotFound
}

func (r *DiscountRepository) List(_ context.Context, f discount.Filter) ([]discount.Discount, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	now := r.db.now()
	prefix := discount.NormalizeCode(f.CodePrefix)
	var out []discount.Discount
	for _, d := range r.db.discounts {
		if f.ActiveOnly && !d.IsCurrentlyActive(now) {
			continue
		}
		if f.Scope != "" && d.Scope != f.Scope {
			continue
		}
		if prefix != "" && !strings.HasPrefix(discount.NormalizeCode(d.Code), prefix) {
			continue
		}
		out = append(out, *cloneDiscount(d))
	}
	slices.SortFunc(out, func(a, b discount.Discount) int { return cmp.Compare(a.Code, b.Code) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Upsert inserts or replaces a definition, keeping the stored usage count.
// The definition is validated together with that count.
func (r *DiscountRepository) Upsert(_ context.Context, d *discount.Discount) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	code := discount.NormalizeCode(d.Code)
	for id, other := range r.db.discounts {
		if id != d.ID && discount.NormalizeCode(other.Code) == code {
			return errors.Errorf("discount code %q already used by another discount", code)
		}
	}

	now := r.db.now()
	next := *cloneDiscount(*d)
	next.Code = code
	next.UpdatedAt = now
	if prev, ok := r.db.discounts[d.ID]; ok {
		next.UsageCount = prev.UsageCount
		next.Version = prev.Version + 1
		next.CreatedAt = prev.CreatedAt
	} else {
		next.UsageCount = 0
		next.Version = 0
		next.CreatedAt = now
	}
	if err := next.Validate(); err != nil {
		return errors.Wrapf(err, "discount %q", d.Code)
	}
	r.db.discounts[d.ID] = next
	return nil
}

// UsageStore keeps the usage counter, holds and usages in a DB.
type UsageStore struct {
	db *DB
}

// NewUsageStore returns a UsageStore over db.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

func (s *UsageStore) Discount(_ context.Context, discountID string) (*discount.Discount, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	d, ok := s.db.discounts[discountID]
	if !ok {
		return nil, discount.ErrNotFound
	}
	return cloneDiscount(d), nil
}

func (s *UsageStore) CountByIdentity(_ context.Context, discountID, identity string) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var n int
	for _, u := range s.db.usages {
		if u.DiscountID == discountID && u.Identity == identity {
			n++
		}
	}
	for _, h := range s.db.holds {
		if h.DiscountID == discountID && h.Identity == identity {
			n++
		}
	}
	return n, nil
}

func (s *UsageStore) Hold(ctx context.Context, tok usage.Token, version int64) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	d, ok := s.db.discounts[tok.DiscountID]
	if !ok {
		return false, discount.ErrNotFound
	}
	if d.Version != version || d.IsUsageLimitReached() {
		return false, nil
	}
	d.UsageCount++
	d.Version++
	s.db.discounts[tok.DiscountID] = d
	s.db.holds[tok.ID] = tok

	s.db.onRollback(ctx, func() {
		delete(s.db.holds, tok.ID)
		d := s.db.discounts[tok.DiscountID]
		d.UsageCount--
		d.Version++
		s.db.discounts[tok.DiscountID] = d
	})
	return true, nil
}

func (s *UsageStore) Unhold(ctx context.Context, tok usage.Token, version int64) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	held, ok := s.db.holds[tok.ID]
	if !ok {
		return false, usage.ErrTokenNotFound
	}
	d, ok := s.db.discounts[tok.DiscountID]
	if !ok {
		return false, discount.ErrNotFound
	}
	if d.Version != version || d.UsageCount == 0 {
		return false, nil
	}
	d.UsageCount--
	d.Version++
	s.db.discounts[tok.DiscountID] = d
	delete(s.db.holds, tok.ID)

	s.db.onRollback(ctx, func() {
		s.db.holds[held.ID] = held
		d := s.db.discounts[held.DiscountID]
		d.UsageCount++
		d.Version++
		s.db.discounts[held.DiscountID] = d
	})
	return true, nil
}

func (s *UsageStore) Settle(ctx context.Context, tokenID string, u usage.Usage) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	held, ok := s.db.holds[tokenID]
	if !ok {
		return usage.ErrTokenNotFound
	}
	delete(s.db.holds, tokenID)
	s.db.usages = append(s.db.usages, u)

	s.db.onRollback(ctx, func() {
		s.db.holds[tokenID] = held
		s.db.usages = slices.DeleteFunc(s.db.usages, func(x usage.Usage) bool { return x.ID == u.ID })
	})
	return nil
}

func (s *UsageStore) ListStaleHolds(_ context.Context, cutoff time.Time, limit int) ([]usage.Token, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []usage.Token
	for _, h := range s.db.holds {
		if !h.CreatedAt.After(cutoff) {
			out = append(out, h)
		}
	}
	slices.SortFunc(out, func(a, b usage.Token) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *UsageStore) ListByOrder(_ context.Context, orderID string) ([]usage.Usage, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []usage.Usage
	for _, u := range s.db.usages {
		if u.OrderID == orderID {
			out = append(out, u)
		}
	}
	return out, nil
}

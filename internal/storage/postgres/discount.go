package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-checkout/internal/domain/discount"
)

const discountColumns = `d.id, d.code, d.name, d.description, d.type,
	d.percentage_value, d.fixed_value, d.minimum_order_value, d.maximum_discount_amount,
	d.start_date, d.end_date, d.is_active, d.scope,
	d.max_usage_count, d.max_usage_per_customer, d.usage_count, d.version,
	d.created_at, d.updated_at,
	COALESCE((SELECT array_agg(product_id ORDER BY product_id)
		FROM discount_products WHERE discount_id = d.id), '{}'),
	COALESCE((SELECT array_agg(category_id ORDER BY category_id)
		FROM discount_categories WHERE discount_id = d.id), '{}')`

const (
	getDiscountByCodeSQL = `SELECT ` + discountColumns + ` FROM discounts d WHERE UPPER(d.code) = UPPER($1)`

	getDiscountByIDSQL = `SELECT ` + discountColumns + ` FROM discounts d WHERE d.id = $1`

	upsertDiscountSQL = `INSERT INTO discounts (id, code, name, description, type,
		percentage_value, fixed_value, minimum_order_value, maximum_discount_amount,
		start_date, end_date, is_active, scope, max_usage_count, max_usage_per_customer,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code, name = EXCLUDED.name, description = EXCLUDED.description,
			type = EXCLUDED.type, percentage_value = EXCLUDED.percentage_value,
			fixed_value = EXCLUDED.fixed_value, minimum_order_value = EXCLUDED.minimum_order_value,
			maximum_discount_amount = EXCLUDED.maximum_discount_amount,
			start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
			is_active = EXCLUDED.is_active, scope = EXCLUDED.scope,
			max_usage_count = EXCLUDED.max_usage_count,
			max_usage_per_customer = EXCLUDED.max_usage_per_customer,
			version = discounts.version + 1, updated_at = EXCLUDED.updated_at`

	deleteDiscountProductsSQL   = `DELETE FROM discount_products WHERE discount_id = $1`
	deleteDiscountCategoriesSQL = `DELETE FROM discount_categories WHERE discount_id = $1`

	insertDiscountProductsSQL = `INSERT INTO discount_products (discount_id, product_id)
		SELECT $1, unnest($2::text[])`
	insertDiscountCategoriesSQL = `INSERT INTO discount_categories (discount_id, category_id)
		SELECT $1, unnest($2::text[])`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository stores discount definitions and their scope sets.
type DiscountRepository struct {
	db  *DB
	now func() time.Time
}

// NewDiscountRepository returns a DiscountRepository over db.
func NewDiscountRepository(db *DB) *DiscountRepository {
	return &DiscountRepository{db: db, now: time.Now}
}

// FindByCode looks a discount up by code, case-insensitively.
// Returns discount.ErrNotFound when no discount has the code.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Discount, error) {
	rows, err := r.db.q(ctx).Query(ctx, getDiscountByCodeSQL, discount.NormalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}
	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}
	return &d, nil
}

// List returns discounts matching f ordered by code.
func (r *DiscountRepository) List(ctx context.Context, f discount.Filter) ([]discount.Discount, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ActiveOnly {
		now := arg(r.now())
		where = append(where, "d.is_active AND d.start_date <= "+now+" AND d.end_date > "+now)
	}
	if f.Scope != "" {
		where = append(where, "d.scope = "+arg(string(f.Scope)))
	}
	if f.CodePrefix != "" {
		where = append(where, "UPPER(d.code) LIKE "+arg(discount.NormalizeCode(f.CodePrefix)+"%"))
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + discountColumns + ` FROM discounts d`)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY d.code")
	if f.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(f.Limit))
	}

	rows, err := r.db.q(ctx).Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("listing discounts: %w", err)
	}
	return pgx.CollectRows(rows, scanDiscount)
}

// Upsert inserts or replaces a discount definition together with its scope
// sets. UsageCount is never written; the version is bumped on update so
// in-flight reservations re-read the new definition.
func (r *DiscountRepository) Upsert(ctx context.Context, d *discount.Discount) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("discount %q: %w", d.Code, err)
	}
	code := discount.NormalizeCode(d.Code)
	return r.db.InTx(ctx, func(ctx context.Context) error {
		q := r.db.q(ctx)
		_, err := q.Exec(ctx, upsertDiscountSQL,
			d.ID, code, d.Name, d.Description, string(d.Type),
			d.PercentageValue, d.FixedValue, d.MinimumOrderValue, d.MaximumDiscountAmount,
			d.StartDate, d.EndDate, d.IsActive, string(d.Scope),
			d.MaxUsageCount, d.MaxUsagePerCustomer, r.now(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("discount code %q already used by another discount", code)
			}
			if isCheckViolation(err) {
				return fmt.Errorf("discount %q: stored usage count exceeds the new limits: %w", code, err)
			}
			return fmt.Errorf("upserting discount %q: %w", code, err)
		}
		if _, err := q.Exec(ctx, deleteDiscountProductsSQL, d.ID); err != nil {
			return fmt.Errorf("clearing discount products: %w", err)
		}
		if _, err := q.Exec(ctx, deleteDiscountCategoriesSQL, d.ID); err != nil {
			return fmt.Errorf("clearing discount categories: %w", err)
		}
		if len(d.ProductIDs) > 0 {
			if _, err := q.Exec(ctx, insertDiscountProductsSQL, d.ID, d.ProductIDs); err != nil {
				return fmt.Errorf("inserting discount products: %w", err)
			}
		}
		if len(d.CategoryIDs) > 0 {
			if _, err := q.Exec(ctx, insertDiscountCategoriesSQL, d.ID, d.CategoryIDs); err != nil {
				return fmt.Errorf("inserting discount categories: %w", err)
			}
		}
		return nil
	})
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var (
		d          discount.Discount
		typ, scope string
		usageCount int32
	)
	err := row.Scan(
		&d.ID, &d.Code, &d.Name, &d.Description, &typ,
		&d.PercentageValue, &d.FixedValue, &d.MinimumOrderValue, &d.MaximumDiscountAmount,
		&d.StartDate, &d.EndDate, &d.IsActive, &scope,
		&d.MaxUsageCount, &d.MaxUsagePerCustomer, &usageCount, &d.Version,
		&d.CreatedAt, &d.UpdatedAt,
		&d.ProductIDs, &d.CategoryIDs,
	)
	d.Type = discount.Type(typ)
	d.Scope = discount.Scope(scope)
	d.UsageCount = int(usageCount)
	return d, err
}

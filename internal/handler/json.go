package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/domain/order"
)

const maxBodyBytes = 64 << 10

// decodeBody calls field for every top-level key of the JSON object body.
// An empty body is accepted when optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, optional bool, field func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return badRequest("read body: " + err.Error())
	}
	if len(data) == 0 {
		if optional {
			return nil
		}
		return badRequest("request body is required")
	}
	if err := jx.DecodeBytes(data).Obj(field); err != nil {
		return badRequest("decode body: " + err.Error())
	}
	return nil
}

// Amounts are written as JSON numbers with the exact decimal text.
func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.String()))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func moneyField(e *jx.Encoder, name string, d decimal.Decimal) {
	e.Field(name, func(e *jx.Encoder) { encodeMoney(e, d) })
}

func optMoneyField(e *jx.Encoder, name string, d decimal.NullDecimal) {
	if d.Valid {
		moneyField(e, name, d.Decimal)
	}
}

func strField(e *jx.Encoder, name, v string) {
	e.Field(name, func(e *jx.Encoder) { e.Str(v) })
}

func optStrField(e *jx.Encoder, name, v string) {
	if v != "" {
		strField(e, name, v)
	}
}

func intField(e *jx.Encoder, name string, v int) {
	e.Field(name, func(e *jx.Encoder) { e.Int(v) })
}

func boolField(e *jx.Encoder, name string, v bool) {
	e.Field(name, func(e *jx.Encoder) { e.Bool(v) })
}

func strArrField(e *jx.Encoder, name string, vs []string) {
	e.Field(name, func(e *jx.Encoder) {
		e.ArrStart()
		for _, v := range vs {
			e.Str(v)
		}
		e.ArrEnd()
	})
}

func encodeProduct(e *jx.Encoder, p catalog.Product, variants []catalog.Variant) {
	e.Obj(func(e *jx.Encoder) {
		strField(e, "id", p.ID)
		strField(e, "name", p.Name)
		moneyField(e, "price", p.Price)
		strField(e, "category_id", p.CategoryID)
		e.Field("variants", func(e *jx.Encoder) {
			e.ArrStart()
			for _, v := range variants {
				e.Obj(func(e *jx.Encoder) {
					strField(e, "id", v.ID)
					strField(e, "name", v.Name)
					moneyField(e, "price", v.Price)
					intField(e, "stock", v.Stock)
				})
			}
			e.ArrEnd()
		})
	})
}

func encodeItem(e *jx.Encoder, it *cart.Item) {
	e.Obj(func(e *jx.Encoder) {
		strField(e, "id", it.ID)
		strField(e, "variant_id", it.VariantID)
		intField(e, "quantity", it.Quantity)
		moneyField(e, "unit_price", it.PriceAtAdd)
		moneyField(e, "subtotal", it.Subtotal())
		strField(e, "status", string(it.State.Status()))
		if at, ok := it.DeletedAt(); ok {
			e.Field("deleted_at", func(e *jx.Encoder) { encodeTime(e, at) })
			strField(e, "deletion_reason", it.DeletionReason())
		}
		if id, ok := it.OrderID(); ok {
			strField(e, "order_id", id)
		}
		e.Field("updated_at", func(e *jx.Encoder) { encodeTime(e, it.UpdatedAt) })
	})
}

func encodeCart(e *jx.Encoder, c *cart.Cart) {
	subtotal := decimal.Zero
	e.Obj(func(e *jx.Encoder) {
		strField(e, "id", c.ID)
		strField(e, "identity", c.Identity)
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for i := range c.Items {
				it := &c.Items[i]
				encodeItem(e, it)
				if it.IsActive() {
					subtotal = subtotal.Add(it.Subtotal())
				}
			}
			e.ArrEnd()
		})
		moneyField(e, "subtotal", subtotal)
		e.Field("created_at", func(e *jx.Encoder) { encodeTime(e, c.CreatedAt) })
	})
}

func encodeApplicability(e *jx.Encoder, a *checkout.Applicability) {
	e.Obj(func(e *jx.Encoder) {
		strField(e, "code", a.Code)
		boolField(e, "applicable", a.Applicable)
		optStrField(e, "reason", string(a.Reason))
		optStrField(e, "discount_id", a.DiscountID)
		moneyField(e, "subtotal", a.Subtotal)
		moneyField(e, "discount_amount", a.Amount)
		moneyField(e, "total", a.Total)
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		strField(e, "id", o.ID)
		strField(e, "cart_id", o.CartID)
		strField(e, "identity", o.Identity)
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for _, l := range o.Lines {
				e.Obj(func(e *jx.Encoder) {
					strField(e, "item_id", l.ItemID)
					strField(e, "variant_id", l.VariantID)
					strField(e, "product_id", l.ProductID)
					intField(e, "quantity", l.Quantity)
					moneyField(e, "unit_price", l.UnitPrice)
				})
			}
			e.ArrEnd()
		})
		moneyField(e, "subtotal", o.Subtotal)
		if o.HasDiscount() {
			strField(e, "discount_id", o.DiscountID)
			strField(e, "discount_code", o.DiscountCode)
		}
		moneyField(e, "discount_amount", o.DiscountAmount)
		moneyField(e, "total", o.Total)
		e.Field("created_at", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
	})
}

// encodeDiscount writes the definition together with its derived flags at now.
func encodeDiscount(e *jx.Encoder, d *discount.Discount, now time.Time) {
	e.Obj(func(e *jx.Encoder) {
		strField(e, "id", d.ID)
		strField(e, "code", d.Code)
		strField(e, "name", d.Name)
		optStrField(e, "description", d.Description)
		strField(e, "type", string(d.Type))
		optMoneyField(e, "percentage_value", d.PercentageValue)
		optMoneyField(e, "fixed_value", d.FixedValue)
		optMoneyField(e, "minimum_order_value", d.MinimumOrderValue)
		optMoneyField(e, "maximum_discount_amount", d.MaximumDiscountAmount)
		e.Field("start_date", func(e *jx.Encoder) { encodeTime(e, d.StartDate) })
		e.Field("end_date", func(e *jx.Encoder) { encodeTime(e, d.EndDate) })
		boolField(e, "is_active", d.IsActive)
		strField(e, "scope", string(d.Scope))
		if len(d.ProductIDs) > 0 {
			strArrField(e, "product_ids", d.ProductIDs)
		}
		if len(d.CategoryIDs) > 0 {
			strArrField(e, "category_ids", d.CategoryIDs)
		}
		if d.MaxUsageCount != nil {
			intField(e, "max_usage_count", *d.MaxUsageCount)
		}
		if d.MaxUsagePerCustomer != nil {
			intField(e, "max_usage_per_customer", *d.MaxUsagePerCustomer)
		}
		intField(e, "usage_count", d.UsageCount)
		if n, ok := d.RemainingUses(); ok {
			intField(e, "remaining_uses", n)
		}
		boolField(e, "currently_active", d.IsCurrentlyActive(now))
		boolField(e, "expired", d.IsExpired(now))
		boolField(e, "not_started", d.IsNotStarted(now))
		boolField(e, "usage_limit_reached", d.IsUsageLimitReached())
		boolField(e, "can_be_used", d.CanBeUsed(now))
	})
}

// readStr reads a string field, treating null as empty.
func readStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return "", errors.Wrap(err, "string")
	}
	return s, nil
}

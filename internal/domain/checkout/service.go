// Package checkout settles carts into orders, applying at most one discount.
package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/usage"
)

const instrumentationName = "github.com/xenking/storefront-checkout/internal/domain/checkout"

// Transactor runs fn in a storage transaction carried by the context passed
// to fn. Returning an error rolls the transaction back.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Publisher is notified after an order has been committed.
type Publisher interface {
	OrderSettled(ctx context.Context, o *order.Order) error
}

// Deps are the collaborators of Service.
type Deps struct {
	Carts     cart.Repository
	Catalog   catalog.Reference
	Discounts discount.Repository
	Orders    order.Repository
	Ledger    *usage.Ledger
	Tx        Transactor
	Events    Publisher
	// CurrencyPlaces is the number of minor-unit decimals amounts are rounded to.
	CurrencyPlaces int32
}

// Option configures a Service.
type Option func(*Service)

// WithTracerProvider sets the tracer provider used for settlement spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider used for settlement metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter(instrumentationName) }
}

// Service validates discounts against carts and settles carts into orders.
type Service struct {
	carts     cart.Repository
	catalog   catalog.Reference
	discounts discount.Repository
	orders    order.Repository
	ledger    *usage.Ledger
	tx        Transactor
	events    Publisher

	matcher    *discount.Matcher
	calculator *discount.Calculator

	tracer      trace.Tracer
	meter       metric.Meter
	settlements metric.Int64Counter
	discounted  metric.Float64Counter
	now         func() time.Time
}

// NewService creates a checkout Service.
func NewService(d Deps, opts ...Option) (*Service, error) {
	s := &Service{
		carts:      d.Carts,
		catalog:    d.Catalog,
		discounts:  d.Discounts,
		orders:     d.Orders,
		ledger:     d.Ledger,
		tx:         d.Tx,
		events:     d.Events,
		matcher:    discount.NewMatcher(d.Ledger),
		calculator: discount.NewCalculator(d.CurrencyPlaces),
		tracer:     tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meter:      metricnoop.NewMeterProvider().Meter(instrumentationName),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.settlements, err = s.meter.Int64Counter("checkout.settlements",
		metric.WithDescription("Cart settlements by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "settlements counter")
	}
	if s.discounted, err = s.meter.Float64Counter("checkout.discount_amount",
		metric.WithDescription("Total discount granted, in currency minor units"),
	); err != nil {
		return nil, errors.Wrap(err, "discount amount counter")
	}
	return s, nil
}

// Applicability is the outcome of checking a code against a cart.
type Applicability struct {
	Code       string
	DiscountID string
	Applicable bool
	Reason     discount.Reason
	Subtotal   decimal.Decimal
	Amount     decimal.Decimal
	Total      decimal.Decimal
}

// ValidateDiscount previews code against the cart without reserving a usage.
// A rejected code is reported in the result; the error is reserved for cart
// validation and storage failures.
func (s *Service) ValidateDiscount(ctx context.Context, code, cartID, identity string) (*Applicability, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.ValidateDiscount",
		trace.WithAttributes(attribute.String("cart.id", cartID)),
	)
	defer span.End()

	_, lines, err := s.load(ctx, cartID, identity)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	subtotal := discount.Subtotal(lines)
	res := &Applicability{
		Code:     discount.NormalizeCode(code),
		Subtotal: subtotal,
		Amount:   decimal.Zero,
		Total:    subtotal,
	}
	d, amount, err := s.apply(ctx, code, lines, identity)
	if reason, ok := discount.ReasonOf(err); ok {
		res.Reason = reason
		return res, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	res.Applicable = true
	res.DiscountID = d.ID
	res.Amount = amount
	res.Total = subtotal.Sub(amount)
	return res, nil
}

// SettleRequest is the input of SettleCart.
type SettleRequest struct {
	CartID       string
	Identity     string
	DiscountCode string
	// IdempotencyKey, when set, makes repeated requests return the order
	// created by the first one.
	IdempotencyKey string
}

// SettleCart converts the Active items of a cart into an order.
//
// With a discount code the discount must apply, or settlement is aborted with
// the *discount.NotApplicableError. One usage unit is reserved before the
// order is written and committed in the same transaction as the order; if
// that transaction fails the reservation is released and a *PersistenceError
// is returned with the cart left untouched.
func (s *Service) SettleCart(ctx context.Context, req SettleRequest) (_ *order.Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.SettleCart",
		trace.WithAttributes(
			attribute.String("cart.id", req.CartID),
			attribute.Bool("discount.requested", req.DiscountCode != ""),
		),
	)
	defer func() {
		outcome := "settled"
		if rerr != nil {
			outcome = outcomeOf(rerr)
			span.RecordError(rerr)
			span.SetStatus(codes.Error, outcome)
		}
		s.settlements.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		span.End()
	}()

	lg := zctx.From(ctx).With(
		zap.String("cart_id", req.CartID),
		zap.String("identity", req.Identity),
	)

	if req.IdempotencyKey != "" && req.Identity != "" {
		prev, err := s.orders.FindByIdempotencyKey(ctx, req.Identity, req.IdempotencyKey)
		switch {
		case err == nil:
			lg.Info("Returning order for repeated idempotency key", zap.String("order_id", prev.ID))
			return prev, nil
		case !errors.Is(err, order.ErrNotFound):
			return nil, errors.Wrap(err, "find by idempotency key")
		}
	}

	c, lines, err := s.load(ctx, req.CartID, req.Identity)
	if err != nil {
		return nil, err
	}

	var (
		applied  *discount.Discount
		amount   = decimal.Zero
		tok      usage.Token
		reserved bool
	)
	if req.DiscountCode != "" {
		applied, amount, err = s.apply(ctx, req.DiscountCode, lines, req.Identity)
		if err != nil {
			if reason, ok := discount.ReasonOf(err); ok {
				lg.Info("Discount rejected",
					zap.String("discount_code", req.DiscountCode),
					zap.String("reason", string(reason)),
				)
			}
			return nil, err
		}
		tok, err = s.ledger.Reserve(ctx, applied.ID, req.Identity)
		if err != nil {
			return nil, err
		}
		reserved = true
	}

	o := s.buildOrder(c, lines, applied, amount, req)
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		if reserved {
			if err := s.ledger.Commit(ctx, tok, o.ID, amount); err != nil {
				return errors.Wrap(err, "commit usage")
			}
		}
		return nil
	})
	if err != nil {
		if reserved {
			// The caller may have gone away; the unit must still come back.
			if relErr := s.ledger.Release(context.WithoutCancel(ctx), tok); relErr != nil {
				lg.Error("Release usage reservation", zap.Error(relErr), zap.String("token", tok.ID))
			}
		}
		return nil, &PersistenceError{Err: err}
	}

	if applied != nil {
		s.discounted.Add(ctx, amount.InexactFloat64(),
			metric.WithAttributes(attribute.String("discount.code", applied.Code)),
		)
	}
	lg.Info("Cart settled",
		zap.String("order_id", o.ID),
		zap.String("discount_code", o.DiscountCode),
		zap.String("total", o.Total.String()),
	)

	if s.events != nil {
		if err := s.events.OrderSettled(ctx, o); err != nil {
			lg.Warn("Publish order settled", zap.Error(err), zap.String("order_id", o.ID))
		}
	}
	return o, nil
}

// load fetches the cart, checks ownership and prices its Active items.
func (s *Service) load(ctx context.Context, cartID, identity string) (*cart.Cart, []discount.Line, error) {
	if identity == "" {
		return nil, nil, &ValidationError{Code: CodeMissingIdentity}
	}
	c, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "get cart")
	}
	if c.Identity != identity {
		return nil, nil, cart.ErrNotOwner
	}
	items := c.ActiveItems()
	if len(items) == 0 {
		return nil, nil, &ValidationError{Code: CodeEmptyCart}
	}
	lines, err := s.priceLines(ctx, items)
	if err != nil {
		return nil, nil, err
	}
	return c, lines, nil
}

// priceLines resolves every item against the catalog. Prices stay the ones
// captured on the items.
func (s *Service) priceLines(ctx context.Context, items []cart.Item) ([]discount.Line, error) {
	lines := make([]discount.Line, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, &ValidationError{Code: CodeInvalidQuantity, ItemID: it.ID}
		}
		v, err := s.catalog.GetVariant(ctx, it.VariantID)
		if errors.Is(err, catalog.ErrVariantNotFound) {
			return nil, &ValidationError{Code: CodeUnresolvableVariant, ItemID: it.ID, Err: err}
		}
		if err != nil {
			return nil, errors.Wrapf(err, "get variant %s", it.VariantID)
		}
		if !v.InStock(it.Quantity) {
			return nil, &ValidationError{
				Code:   CodeInsufficientStock,
				ItemID: it.ID,
				Err:    &catalog.OutOfStockError{VariantID: v.ID, Requested: it.Quantity, Available: v.Stock},
			}
		}
		p, err := s.catalog.GetProduct(ctx, v.ProductID)
		if errors.Is(err, catalog.ErrProductNotFound) {
			return nil, &ValidationError{Code: CodeUnresolvableVariant, ItemID: it.ID, Err: err}
		}
		if err != nil {
			return nil, errors.Wrapf(err, "get product %s", v.ProductID)
		}
		lines = append(lines, discount.Line{
			ItemID:     it.ID,
			ProductID:  p.ID,
			CategoryID: p.CategoryID,
			UnitPrice:  it.PriceAtAdd,
			Quantity:   it.Quantity,
		})
	}
	return lines, nil
}

// apply looks the code up, runs the matcher and computes the amount.
func (s *Service) apply(ctx context.Context, code string, lines []discount.Line, identity string) (*discount.Discount, decimal.Decimal, error) {
	d, err := s.discounts.FindByCode(ctx, discount.NormalizeCode(code))
	switch {
	case errors.Is(err, discount.ErrNotFound):
		return nil, decimal.Zero, &discount.NotApplicableError{Code: discount.NormalizeCode(code), Reason: discount.ReasonNotFound}
	case err != nil:
		return nil, decimal.Zero, errors.Wrap(err, "find discount")
	}
	if err := s.matcher.IsApplicable(ctx, d, lines, identity); err != nil {
		return nil, decimal.Zero, err
	}
	amount, err := s.calculator.ComputeAmount(d, lines)
	if err != nil {
		return nil, decimal.Zero, errors.Wrap(err, "compute amount")
	}
	return d, amount, nil
}

func (s *Service) buildOrder(c *cart.Cart, lines []discount.Line, applied *discount.Discount, amount decimal.Decimal, req SettleRequest) *order.Order {
	items := c.ActiveItems()
	o := &order.Order{
		ID:             uuid.New().String(),
		CartID:         c.ID,
		Identity:       req.Identity,
		Lines:          make([]order.Line, len(lines)),
		Subtotal:       discount.Subtotal(lines),
		DiscountAmount: amount,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      s.now(),
	}
	for i, l := range lines {
		o.Lines[i] = order.Line{
			ItemID:    l.ItemID,
			VariantID: items[i].VariantID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		}
	}
	if applied != nil {
		o.DiscountID = applied.ID
		o.DiscountCode = applied.Code
	}
	o.Total = o.Subtotal.Sub(amount)
	return o
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "invalid_cart"
	case errors.Is(err, discount.ErrNotApplicable):
		return "discount_not_applicable"
	case errors.Is(err, usage.ErrUsageRaceLost):
		return "usage_race_lost"
	default:
		var pe *PersistenceError
		if errors.As(err, &pe) {
			return "persistence_failure"
		}
		return "error"
	}
}

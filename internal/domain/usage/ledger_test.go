package usage_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/domain/usage"
	"github.com/xenking/storefront-checkout/internal/storage/memory"
)

type fixture struct {
	db     *memory.DB
	store  *memory.UsageStore
	ledger *usage.Ledger
}

func newFixture(t *testing.T, opts ...usage.Option) *fixture {
	t.Helper()
	db := memory.New()
	store := memory.NewUsageStore(db)
	opts = append([]usage.Option{usage.WithBackoff(time.Microsecond)}, opts...)
	return &fixture{db: db, store: store, ledger: usage.NewLedger(store, opts...)}
}

func (f *fixture) addDiscount(t *testing.T, id string, mutate func(d *discount.Discount)) {
	t.Helper()
	now := time.Now()
	d := &discount.Discount{
		ID:              id,
		Code:            id,
		Type:            discount.TypePercentage,
		PercentageValue: decimal.NewNullDecimal(decimal.NewFromInt(10)),
		StartDate:       now.Add(-time.Hour),
		EndDate:         now.Add(time.Hour),
		IsActive:        true,
		Scope:           discount.ScopeAllProducts,
	}
	if mutate != nil {
		mutate(d)
	}
	require.NoError(t, memory.NewDiscountRepository(f.db).Upsert(context.Background(), d))
}

func (f *fixture) usageCount(t *testing.T, id string) int {
	t.Helper()
	d, err := f.store.Discount(context.Background(), id)
	require.NoError(t, err)
	return d.UsageCount
}

func intPtr(v int) *int { return &v }

func TestLedger_ReserveCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDiscount(t, "SAVE10", nil)

	tok, err := f.ledger.Reserve(ctx, "SAVE10", "user@x")
	require.NoError(t, err)
	assert.NotEmpty(t, tok.ID)
	assert.Equal(t, 1, f.usageCount(t, "SAVE10"))

	n, err := f.ledger.CountByIdentity(ctx, "SAVE10", "user@x")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "outstanding hold counts toward identity usage")

	require.NoError(t, f.ledger.Commit(ctx, tok, "order-1", decimal.NewFromInt(20000)))
	assert.Equal(t, 1, f.usageCount(t, "SAVE10"))

	usages, err := f.store.ListByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, usages, 1)
	assert.Equal(t, "user@x", usages[0].Identity)
	assert.True(t, decimal.NewFromInt(20000).Equal(usages[0].Amount))

	n, err = f.ledger.CountByIdentity(ctx, "SAVE10", "user@x")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.ErrorIs(t, f.ledger.Release(ctx, tok), usage.ErrTokenNotFound, "committed token cannot be released")
	assert.Equal(t, 1, f.usageCount(t, "SAVE10"))
}

func TestLedger_ReleaseRestoresCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDiscount(t, "LIMITED", func(d *discount.Discount) { d.MaxUsageCount = intPtr(1) })

	tok, err := f.ledger.Reserve(ctx, "LIMITED", "user@x")
	require.NoError(t, err)
	assert.Equal(t, 1, f.usageCount(t, "LIMITED"))

	_, err = f.ledger.Reserve(ctx, "LIMITED", "other@x")
	require.ErrorIs(t, err, usage.ErrUsageRaceLost)

	require.NoError(t, f.ledger.Release(ctx, tok))
	assert.Equal(t, 0, f.usageCount(t, "LIMITED"))

	n, err := f.ledger.CountByIdentity(ctx, "LIMITED", "user@x")
	require.NoError(t, err)
	assert.Zero(t, n)

	usages, err := f.store.ListByOrder(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, usages, "release writes no usage row")

	_, err = f.ledger.Reserve(ctx, "LIMITED", "other@x")
	require.NoError(t, err, "released unit is available again")
	require.ErrorIs(t, f.ledger.Release(ctx, tok), usage.ErrTokenNotFound)
}

func TestLedger_ReserveRejected(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		mutate func(d *discount.Discount)
		want   discount.Reason
	}{
		{name: "unknown discount", id: "", want: discount.ReasonNotFound},
		{name: "inactive", id: "OFF", mutate: func(d *discount.Discount) { d.IsActive = false }, want: discount.ReasonInactive},
		{name: "expired", id: "OLD", mutate: func(d *discount.Discount) {
			d.StartDate = time.Now().Add(-2 * time.Hour)
			d.EndDate = time.Now().Add(-time.Hour)
		}, want: discount.ReasonExpired},
		{name: "global cap reached", id: "ZERO", mutate: func(d *discount.Discount) {
			d.MaxUsageCount = intPtr(0)
		}, want: discount.ReasonUsageLimitReached},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.id != "" {
				f.addDiscount(t, tt.id, tt.mutate)
			}

			_, err := f.ledger.Reserve(context.Background(), tt.id, "user@x")
			require.ErrorIs(t, err, usage.ErrUsageRaceLost)
			var rej *usage.RejectedError
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, tt.want, rej.Reason)
		})
	}
}

func TestLedger_ReleaseStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDiscount(t, "LAST", func(d *discount.Discount) {
		d.MaxUsageCount = intPtr(1)
		d.MaxUsagePerCustomer = intPtr(1)
	})

	// The token is dropped: no order and no release follow.
	_, err := f.ledger.Reserve(ctx, "LAST", "guest:a")
	require.NoError(t, err)

	_, err = f.ledger.Reserve(ctx, "LAST", "guest:b")
	var rej *usage.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, discount.ReasonUsageLimitReached, rej.Reason)

	n, err := f.ledger.ReleaseStale(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh holds are kept")
	assert.Equal(t, 1, f.usageCount(t, "LAST"))

	n, err = f.ledger.ReleaseStale(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, f.usageCount(t, "LAST"))

	held, err := f.ledger.CountByIdentity(ctx, "LAST", "guest:a")
	require.NoError(t, err)
	assert.Zero(t, held, "the identity cap is freed too")

	_, err = f.ledger.Reserve(ctx, "LAST", "guest:b")
	require.NoError(t, err)

	n, err = f.ledger.ReleaseStale(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLedger_ReleaseStaleSkipsSettled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDiscount(t, "SETTLED", nil)

	tok, err := f.ledger.Reserve(ctx, "SETTLED", "user@x")
	require.NoError(t, err)
	require.NoError(t, f.ledger.Commit(ctx, tok, "order-1", decimal.NewFromInt(10)))

	n, err := f.ledger.ReleaseStale(ctx, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.usageCount(t, "SETTLED"))
}

func TestLedger_CustomerCapIncludesHolds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDiscount(t, "ONCE", func(d *discount.Discount) { d.MaxUsagePerCustomer = intPtr(1) })

	_, err := f.ledger.Reserve(ctx, "ONCE", "user@x")
	require.NoError(t, err)

	_, err = f.ledger.Reserve(ctx, "ONCE", "user@x")
	var rej *usage.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, discount.ReasonCustomerLimitReached, rej.Reason)

	_, err = f.ledger.Reserve(ctx, "ONCE", "someone@else")
	require.NoError(t, err)
}

func TestLedger_LastSlotRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, usage.WithMaxRetries(3))
	f.addDiscount(t, "LAST", func(d *discount.Discount) { d.MaxUsageCount = intPtr(5) })

	for i := range 4 {
		_, err := f.ledger.Reserve(ctx, "LAST", "warmup-"+string(rune('a'+i)))
		require.NoError(t, err)
	}

	const racers = 16
	var (
		wg   sync.WaitGroup
		won  atomic.Int32
		lost atomic.Int32
	)
	start := make(chan struct{})
	for i := range racers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := f.ledger.Reserve(ctx, "LAST", "racer-"+string(rune('a'+i)))
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, usage.ErrUsageRaceLost):
				lost.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, won.Load())
	assert.EqualValues(t, racers-1, lost.Load())
	assert.Equal(t, 5, f.usageCount(t, "LAST"))
}

func TestLedger_ConcurrentReserveNeverOversells(t *testing.T) {
	ctx := context.Background()
	const slots, attempts = 10, 50
	// Every lost swap means another reservation succeeded, so slots retries
	// are enough for no attempt to give up while units remain.
	f := newFixture(t, usage.WithMaxRetries(slots))
	f.addDiscount(t, "TEN", func(d *discount.Discount) { d.MaxUsageCount = intPtr(slots) })

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := range attempts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.ledger.Reserve(ctx, "TEN", "id-"+string(rune('A'+i))); err == nil {
				won.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, slots, won.Load())
	assert.Equal(t, slots, f.usageCount(t, "TEN"))
}

func TestLedger_ConcurrentSameIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, usage.WithMaxRetries(20))
	f.addDiscount(t, "ONCE", func(d *discount.Discount) { d.MaxUsagePerCustomer = intPtr(1) })

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.ledger.Reserve(ctx, "ONCE", "user@x"); err == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, won.Load())
	n, err := f.ledger.CountByIdentity(ctx, "ONCE", "user@x")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLedger_CommitRolledBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDiscount(t, "SAVE10", nil)

	tok, err := f.ledger.Reserve(ctx, "SAVE10", "user@x")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = f.db.InTx(ctx, func(ctx context.Context) error {
		require.NoError(t, f.ledger.Commit(ctx, tok, "order-1", decimal.NewFromInt(1)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	usages, err := f.store.ListByOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Empty(t, usages)

	require.NoError(t, f.ledger.Release(ctx, tok), "hold is back after rollback")
	assert.Equal(t, 0, f.usageCount(t, "SAVE10"))
}

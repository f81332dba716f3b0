package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wasel-ledger/wasel-ledger/internal/shared"
	_ "github.com/wasel-ledger/wasel-ledger/testing"
)

// stubSources feeds fixed repository totals into the summary. calls counts
// how many times the orders source is actually consulted, which proves the
// cache path.
type stubSources struct {
	collected       decimal.Decimal
	commission      decimal.Decimal
	accepted        decimal.Decimal
	managerAccepted decimal.Decimal
	extra           decimal.Decimal
	paid            decimal.Decimal
	delivered       int64
	applied         int64
	calls           int
}

func (s *stubSources) SumCollected(context.Context, int64, string, shared.DateRange) (decimal.Decimal, error) {
	s.calls++
	return s.collected, nil
}

func (s *stubSources) SumCommission(context.Context, int64, string, shared.DateRange) (decimal.Decimal, error) {
	return s.commission, nil
}

func (s *stubSources) CountDelivered(context.Context, int64, string, shared.DateRange) (int64, error) {
	return s.delivered, nil
}

func (s *stubSources) CountApplied(context.Context, int64, string, shared.DateRange) (int64, error) {
	return s.applied, nil
}

func (s *stubSources) SumAccepted(context.Context, int64, string, shared.DateRange) (decimal.Decimal, error) {
	return s.accepted, nil
}

func (s *stubSources) SumManagerAccepted(context.Context, int64, string, shared.DateRange) (decimal.Decimal, error) {
	return s.managerAccepted, nil
}

func (s *stubSources) SumPaid(context.Context, int64) (decimal.Decimal, error) {
	return s.paid, nil
}

func (s *stubSources) ExtraCommission(context.Context, int64) (decimal.Decimal, error) {
	return s.extra, nil
}

func newLedger(src *stubSources, cache *Cache) *Service {
	return NewService(src, src, src, cache, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSummaryDerivation(t *testing.T) {
	src := &stubSources{
		collected:       dec("1500"),
		accepted:        dec("900"),
		managerAccepted: dec("300"),
		commission:      dec("200"),
		extra:           dec("25"),
		paid:            dec("100"),
		delivered:       30,
		applied:         20,
	}
	svc := newLedger(src, NewCache(nil, 0))

	summary, err := svc.GetSummary(context.Background(), Query{DriverID: 5})
	require.NoError(t, err)

	require.Equal(t, "1500.00", shared.MoneyString(summary.Collected))
	require.Equal(t, "900.00", shared.MoneyString(summary.DeliveredToCompany))
	require.Equal(t, "300.00", shared.MoneyString(summary.AwaitingFinalApproval))
	// Manager-accepted cash is shown separately and never folded into
	// deliveredToCompany or subtracted from pendingToCompany.
	require.Equal(t, "600.00", shared.MoneyString(summary.PendingToCompany))
	require.Equal(t, "0.00", shared.MoneyString(summary.OverRemitted))
	require.Equal(t, "225.00", shared.MoneyString(summary.DriverCommission))
	require.Equal(t, "100.00", shared.MoneyString(summary.PaidCommission))
	require.Equal(t, "125.00", shared.MoneyString(summary.PendingCommission))
	require.EqualValues(t, 30, summary.DeliveredOrders)
	require.EqualValues(t, 20, summary.AppliedOrders)
}

func TestSummaryClampsOverRemit(t *testing.T) {
	src := &stubSources{
		collected: dec("400"),
		accepted:  dec("550"),
	}
	svc := newLedger(src, NewCache(nil, 0))

	summary, err := svc.GetSummary(context.Background(), Query{DriverID: 5})
	require.NoError(t, err)
	require.Equal(t, "0.00", shared.MoneyString(summary.PendingToCompany))
	require.Equal(t, "150.00", shared.MoneyString(summary.OverRemitted))
}

func TestSummaryClampsOverpaidCommission(t *testing.T) {
	src := &stubSources{
		commission: dec("50"),
		paid:       dec("80"),
	}
	svc := newLedger(src, NewCache(nil, 0))

	summary, err := svc.GetSummary(context.Background(), Query{DriverID: 5})
	require.NoError(t, err)
	require.Equal(t, "0.00", shared.MoneyString(summary.PendingCommission))
	require.Equal(t, "80.00", shared.MoneyString(summary.PaidCommission))
}

func TestSummaryRequiresDriver(t *testing.T) {
	svc := newLedger(&stubSources{}, NewCache(nil, 0))
	_, err := svc.GetSummary(context.Background(), Query{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPendingToCompanyIgnoresDateRange(t *testing.T) {
	src := &stubSources{collected: dec("700"), accepted: dec("200")}
	svc := newLedger(src, NewCache(nil, 0))

	pending, err := svc.PendingToCompany(context.Background(), 5, "SA")
	require.NoError(t, err)
	require.Equal(t, "500.00", shared.MoneyString(pending))
}

func TestSummaryServedFromCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCache(client, time.Minute)

	src := &stubSources{collected: dec("100")}
	svc := newLedger(src, cache)
	ctx := context.Background()

	first, err := svc.GetSummary(ctx, Query{DriverID: 5})
	require.NoError(t, err)
	require.Equal(t, 1, src.calls)

	// Second read comes from the snapshot even though the source changed.
	src.collected = dec("999")
	second, err := svc.GetSummary(ctx, Query{DriverID: 5})
	require.NoError(t, err)
	require.Equal(t, 1, src.calls)
	require.Equal(t, shared.MoneyString(first.Collected), shared.MoneyString(second.Collected))
}

func TestInvalidateBumpsVersion(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCache(client, time.Minute)

	src := &stubSources{collected: dec("100")}
	svc := newLedger(src, cache)
	ctx := context.Background()

	_, err := svc.GetSummary(ctx, Query{DriverID: 5})
	require.NoError(t, err)
	require.Equal(t, 1, src.calls)

	require.NoError(t, svc.Invalidate(ctx))

	src.collected = dec("250")
	summary, err := svc.GetSummary(ctx, Query{DriverID: 5})
	require.NoError(t, err)
	require.Equal(t, 2, src.calls, "invalidation forces a recompute")
	require.Equal(t, "250.00", shared.MoneyString(summary.Collected))
}

func TestCacheKeySeparatesScopes(t *testing.T) {
	cache := NewCache(nil, 0)
	ctx := context.Background()

	base, err := cache.BuildKey(ctx, Query{DriverID: 5})
	require.NoError(t, err)
	scoped, err := cache.BuildKey(ctx, Query{DriverID: 5, Country: "SA"})
	require.NoError(t, err)
	require.NotEqual(t, base, scoped)

	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	ranged, err := cache.BuildKey(ctx, Query{DriverID: 5, Range: shared.DateRange{From: &from}})
	require.NoError(t, err)
	require.NotEqual(t, base, ranged)
}

package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/wasel-ledger/wasel-ledger/internal/shared"
)

// OrderReader supplies delivered-order facts.
type OrderReader interface {
	SumCollected(ctx context.Context, driverID int64, country string, dateRange shared.DateRange) (decimal.Decimal, error)
	SumCommission(ctx context.Context, driverID int64, country string, dateRange shared.DateRange) (decimal.Decimal, error)
	CountDelivered(ctx context.Context, driverID int64, country string, dateRange shared.DateRange) (int64, error)
	CountApplied(ctx context.Context, driverID int64, country string, dateRange shared.DateRange) (int64, error)
}

// RemittanceReader supplies remitted-cash totals per approval stage.
type RemittanceReader interface {
	SumAccepted(ctx context.Context, payerID int64, country string, dateRange shared.DateRange) (decimal.Decimal, error)
	SumManagerAccepted(ctx context.Context, payerID int64, country string, dateRange shared.DateRange) (decimal.Decimal, error)
}

// CommissionReader supplies paid-out totals and manual adjustments.
type CommissionReader interface {
	SumPaid(ctx context.Context, driverID int64) (decimal.Decimal, error)
	ExtraCommission(ctx context.Context, driverID int64) (decimal.Decimal, error)
}

// Service derives driver balances from the underlying repositories. It owns
// no tables; every figure is recomputable from orders, remittances, and
// commission requests.
type Service struct {
	orders      OrderReader
	remittances RemittanceReader
	commissions CommissionReader
	cache       *Cache
	logger      *slog.Logger
}

// NewService constructs the Service.
func NewService(orders OrderReader, remittances RemittanceReader, commissions CommissionReader, cache *Cache, logger *slog.Logger) *Service {
	return &Service{orders: orders, remittances: remittances, commissions: commissions, cache: cache, logger: logger}
}

// GetSummary returns the derived cash position for one driver, served from
// the snapshot cache when fresh.
func (s *Service) GetSummary(ctx context.Context, q Query) (Summary, error) {
	if q.DriverID <= 0 {
		return Summary{}, fmt.Errorf("%w: driver id required", shared.ErrValidation)
	}
	key, err := s.cache.BuildKey(ctx, q)
	if err != nil {
		// A broken cache must not take summaries down with it.
		s.logger.Warn("build summary cache key", slog.Any("error", err))
		return s.summarize(ctx, q)
	}
	var summary Summary
	err = s.cache.FetchJSON(ctx, key, &summary, func(ctx context.Context) (interface{}, error) {
		return s.summarize(ctx, q)
	})
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}

func (s *Service) summarize(ctx context.Context, q Query) (Summary, error) {
	collected, err := s.orders.SumCollected(ctx, q.DriverID, q.Country, q.Range)
	if err != nil {
		return Summary{}, err
	}
	accepted, err := s.remittances.SumAccepted(ctx, q.DriverID, q.Country, q.Range)
	if err != nil {
		return Summary{}, err
	}
	managerAccepted, err := s.remittances.SumManagerAccepted(ctx, q.DriverID, q.Country, q.Range)
	if err != nil {
		return Summary{}, err
	}
	annotated, err := s.orders.SumCommission(ctx, q.DriverID, q.Country, q.Range)
	if err != nil {
		return Summary{}, err
	}
	extra, err := s.commissions.ExtraCommission(ctx, q.DriverID)
	if err != nil {
		return Summary{}, err
	}
	paid, err := s.commissions.SumPaid(ctx, q.DriverID)
	if err != nil {
		return Summary{}, err
	}
	delivered, err := s.orders.CountDelivered(ctx, q.DriverID, q.Country, q.Range)
	if err != nil {
		return Summary{}, err
	}
	applied, err := s.orders.CountApplied(ctx, q.DriverID, q.Country, q.Range)
	if err != nil {
		return Summary{}, err
	}

	overRemitted := accepted.Sub(collected)
	earned := annotated.Add(extra)
	return Summary{
		DriverID:              q.DriverID,
		Country:               q.Country,
		Collected:             shared.Round2(collected),
		DeliveredToCompany:    shared.Round2(accepted),
		AwaitingFinalApproval: shared.Round2(managerAccepted),
		PendingToCompany:      shared.ClampZero(collected.Sub(accepted)),
		OverRemitted:          shared.ClampZero(overRemitted),
		DriverCommission:      shared.Round2(earned),
		PaidCommission:        shared.Round2(paid),
		PendingCommission:     shared.ClampZero(earned.Sub(paid)),
		DeliveredOrders:       delivered,
		AppliedOrders:         applied,
	}, nil
}

// PendingToCompany reports the driver's current outstanding balance. The
// remittance service consults it for the advisory over-remit check.
func (s *Service) PendingToCompany(ctx context.Context, payerID int64, country string) (decimal.Decimal, error) {
	collected, err := s.orders.SumCollected(ctx, payerID, country, shared.DateRange{})
	if err != nil {
		return decimal.Zero, err
	}
	accepted, err := s.remittances.SumAccepted(ctx, payerID, country, shared.DateRange{})
	if err != nil {
		return decimal.Zero, err
	}
	return shared.ClampZero(collected.Sub(accepted)), nil
}

// Invalidate drops every cached summary. Transition services call it after
// a balance-moving write.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wasel-ledger/wasel-ledger/internal/events"
	"github.com/wasel-ledger/wasel-ledger/internal/shared"
)

// FactStore is the slice of Repository the ingestion service needs.
type FactStore interface {
	RecordDelivered(ctx context.Context, fact DeliveredFact) (Order, error)
	Get(ctx context.Context, id int64) (Order, error)
	ListDelivered(ctx context.Context, driverID int64, country string, dateRange shared.DateRange) ([]Order, error)
}

// DupChecker guards ingestion against replays of the same order id.
type DupChecker interface {
	CheckAndInsert(ctx context.Context, key, module string) error
}

// Service ingests delivered-order facts from the order subsystem.
type Service struct {
	store   FactStore
	dup     DupChecker
	emitter events.Emitter
	logger  *slog.Logger
}

// NewService constructs the ingestion service.
func NewService(store FactStore, dup DupChecker, emitter events.Emitter, logger *slog.Logger) *Service {
	if emitter == nil {
		emitter = events.Noop{}
	}
	return &Service{store: store, dup: dup, emitter: emitter, logger: logger}
}

// IngestDelivered records one delivered-order fact. The order id doubles as
// the idempotency key: a replayed delivery notification returns the stored
// order without re-applying anything.
func (s *Service) IngestDelivered(ctx context.Context, fact DeliveredFact) (Order, error) {
	if fact.OrderID <= 0 {
		return Order{}, fmt.Errorf("%w: order id required", shared.ErrValidation)
	}
	if fact.DriverID <= 0 {
		return Order{}, fmt.Errorf("%w: driver id required", shared.ErrValidation)
	}
	if fact.CollectedAmount.IsNegative() {
		return Order{}, fmt.Errorf("%w: collected amount cannot be negative", shared.ErrValidation)
	}
	if fact.Currency == "" || fact.Country == "" {
		return Order{}, fmt.Errorf("%w: currency and country required", shared.ErrValidation)
	}
	if fact.DeliveredAt.IsZero() {
		return Order{}, fmt.Errorf("%w: delivered timestamp required", shared.ErrValidation)
	}

	if s.dup != nil {
		key := fmt.Sprintf("order:%d", fact.OrderID)
		if err := s.dup.CheckAndInsert(ctx, key, "orders"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return s.store.Get(ctx, fact.OrderID)
			}
			return Order{}, err
		}
	}

	order, err := s.store.RecordDelivered(ctx, fact)
	if err != nil {
		return Order{}, err
	}

	event := events.New(events.TypeOrderDelivered, events.Payload{
		RecordID: fmt.Sprintf("%d", order.ID),
		DriverID: order.DriverID,
		Status:   string(order.ShipmentStatus),
		Amount:   shared.MoneyString(order.CollectedAmount),
		Currency: order.Currency,
		Country:  order.Country,
	})
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.logger.Warn("emit order delivered", slog.Int64("order_id", order.ID), slog.Any("error", err))
	}
	return order, nil
}

// ListDelivered exposes delivered orders for driver views.
func (s *Service) ListDelivered(ctx context.Context, driverID int64, country string, dateRange shared.DateRange) ([]Order, error) {
	return s.store.ListDelivered(ctx, driverID, country, dateRange)
}

package orders

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wasel-ledger/wasel-ledger/internal/events"
	"github.com/wasel-ledger/wasel-ledger/internal/shared"
)

type memoryStore struct {
	mu     sync.Mutex
	orders map[int64]Order
}

func newMemoryStore() *memoryStore {
	return &memoryStore{orders: make(map[int64]Order)}
}

func (s *memoryStore) RecordDelivered(_ context.Context, fact DeliveredFact) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deliveredAt := fact.DeliveredAt
	order := Order{
		ID:              fact.OrderID,
		DriverID:        fact.DriverID,
		ShipmentStatus:  StatusDelivered,
		CollectedAmount: shared.Round2(fact.CollectedAmount),
		Currency:        fact.Currency,
		Country:         fact.Country,
		DeliveredAt:     &deliveredAt,
		CreatedAt:       time.Now().UTC(),
	}
	s.orders[order.ID] = order
	return order, nil
}

func (s *memoryStore) Get(_ context.Context, id int64) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: order %d", shared.ErrNotFound, id)
	}
	return order, nil
}

func (s *memoryStore) ListDelivered(_ context.Context, driverID int64, country string, _ shared.DateRange) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, order := range s.orders {
		if order.DriverID != driverID {
			continue
		}
		if country != "" && order.Country != country {
			continue
		}
		out = append(out, order)
	}
	return out, nil
}

type memoryDup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryDup() *memoryDup {
	return &memoryDup{seen: make(map[string]bool)}
}

func (d *memoryDup) CheckAndInsert(_ context.Context, key, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[key] {
		return fmt.Errorf("%w: %s", shared.ErrIdempotencyConflict, key)
	}
	d.seen[key] = true
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validFact() DeliveredFact {
	return DeliveredFact{
		OrderID:         101,
		DriverID:        5,
		CollectedAmount: decimal.RequireFromString("150.505"),
		Currency:        "SAR",
		Country:         "SA",
		DeliveredAt:     time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC),
	}
}

func TestIngestDeliveredValidation(t *testing.T) {
	svc := NewService(newMemoryStore(), newMemoryDup(), nil, discardLogger())
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*DeliveredFact)
	}{
		{"missing order id", func(f *DeliveredFact) { f.OrderID = 0 }},
		{"missing driver", func(f *DeliveredFact) { f.DriverID = 0 }},
		{"negative amount", func(f *DeliveredFact) { f.CollectedAmount = decimal.NewFromInt(-1) }},
		{"missing currency", func(f *DeliveredFact) { f.Currency = "" }},
		{"missing country", func(f *DeliveredFact) { f.Country = "" }},
		{"zero timestamp", func(f *DeliveredFact) { f.DeliveredAt = time.Time{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fact := validFact()
			tc.mutate(&fact)
			_, err := svc.IngestDelivered(ctx, fact)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestIngestDeliveredRoundsAndEmits(t *testing.T) {
	emitter := events.NewMemoryEmitter()
	svc := NewService(newMemoryStore(), newMemoryDup(), emitter, discardLogger())

	order, err := svc.IngestDelivered(context.Background(), validFact())
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, order.ShipmentStatus)
	require.Equal(t, "150.51", shared.MoneyString(order.CollectedAmount))
	require.False(t, order.CommissionApplied)

	require.Equal(t, []string{events.TypeOrderDelivered}, emitter.Types())
	require.Equal(t, "101", emitter.Events()[0].Payload.RecordID)
}

func TestIngestDeliveredReplayReturnsStoredOrder(t *testing.T) {
	emitter := events.NewMemoryEmitter()
	svc := NewService(newMemoryStore(), newMemoryDup(), emitter, discardLogger())
	ctx := context.Background()

	first, err := svc.IngestDelivered(ctx, validFact())
	require.NoError(t, err)

	// A replayed notification with drifted figures changes nothing.
	replay := validFact()
	replay.CollectedAmount = decimal.NewFromInt(9999)
	second, err := svc.IngestDelivered(ctx, replay)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, shared.MoneyString(first.CollectedAmount), shared.MoneyString(second.CollectedAmount))

	require.Len(t, emitter.Events(), 1, "replays do not re-emit")
}

func TestIngestDeliveredZeroAmountAllowed(t *testing.T) {
	// Fully prepaid orders arrive with zero collected cash.
	svc := NewService(newMemoryStore(), newMemoryDup(), nil, discardLogger())
	fact := validFact()
	fact.CollectedAmount = decimal.Zero

	order, err := svc.IngestDelivered(context.Background(), fact)
	require.NoError(t, err)
	require.Equal(t, "0.00", shared.MoneyString(order.CollectedAmount))
}

func TestListDeliveredFiltersByCountry(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, newMemoryDup(), nil, discardLogger())
	ctx := context.Background()

	sa := validFact()
	_, err := svc.IngestDelivered(ctx, sa)
	require.NoError(t, err)

	ae := validFact()
	ae.OrderID = 102
	ae.Country = "AE"
	_, err = svc.IngestDelivered(ctx, ae)
	require.NoError(t, err)

	all, err := svc.ListDelivered(ctx, 5, "", shared.DateRange{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	scoped, err := svc.ListDelivered(ctx, 5, "AE", shared.DateRange{})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	require.EqualValues(t, 102, scoped[0].ID)
}

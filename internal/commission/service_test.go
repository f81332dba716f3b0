package commission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wasel-ledger/wasel-ledger/internal/events"
	"github.com/wasel-ledger/wasel-ledger/internal/shared"
)

type memoryRepo struct {
	mu       sync.Mutex
	profiles map[int64]Profile
	requests map[uuid.UUID]Request
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		profiles: make(map[int64]Profile),
		requests: make(map[uuid.UUID]Request),
	}
}

func (r *memoryRepo) GetProfile(_ context.Context, driverID int64) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[driverID]
	if !ok {
		return Profile{}, fmt.Errorf("%w: commission profile for driver %d", shared.ErrNotFound, driverID)
	}
	return p, nil
}

func (r *memoryRepo) UpsertProfile(_ context.Context, driverID int64, rate decimal.Decimal, currency string) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[driverID]
	if !ok {
		p = Profile{DriverID: driverID, ExtraCommission: decimal.Zero, CreatedAt: time.Now().UTC()}
	}
	p.CommissionPerOrder = rate
	p.Currency = currency
	p.UpdatedAt = time.Now().UTC()
	r.profiles[driverID] = p
	return p, nil
}

func (r *memoryRepo) SetPaused(_ context.Context, driverID int64, paused bool) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[driverID]
	if !ok {
		return Profile{}, fmt.Errorf("%w: commission profile for driver %d", shared.ErrNotFound, driverID)
	}
	p.IsPaused = paused
	r.profiles[driverID] = p
	return p, nil
}

func (r *memoryRepo) AddExtra(_ context.Context, driverID int64, delta decimal.Decimal) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[driverID]
	if !ok {
		return Profile{}, fmt.Errorf("%w: commission profile for driver %d", shared.ErrNotFound, driverID)
	}
	p.ExtraCommission = p.ExtraCommission.Add(delta)
	r.profiles[driverID] = p
	return p, nil
}

func (r *memoryRepo) CreateRequest(_ context.Context, req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.ID] = req
	return nil
}

func (r *memoryRepo) GetRequest(_ context.Context, id uuid.UUID) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: commission request %s", shared.ErrNotFound, id)
	}
	return req, nil
}

func (r *memoryRepo) match(driverID int64, statuses []RequestStatus) []Request {
	var out []Request
	for _, req := range r.requests {
		if driverID != 0 && req.DriverID != driverID {
			continue
		}
		if len(statuses) > 0 {
			found := false
			for _, s := range statuses {
				if req.Status == s {
					found = true
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *memoryRepo) ListRequests(_ context.Context, driverID int64, statuses []RequestStatus, limit, offset int) ([]Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.match(driverID, statuses)
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) CountRequests(_ context.Context, driverID int64, statuses []RequestStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.match(driverID, statuses)), nil
}

func (r *memoryRepo) transition(id uuid.UUID, from []RequestStatus, apply func(*Request)) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: commission request %s", shared.ErrNotFound, id)
	}
	allowed := false
	for _, s := range from {
		if req.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return Request{}, fmt.Errorf("%w: commission request %s is already %s", shared.ErrConflict, id, req.Status)
	}
	apply(&req)
	req.UpdatedAt = time.Now().UTC()
	r.requests[id] = req
	return req, nil
}

func (r *memoryRepo) MarkApproved(_ context.Context, id uuid.UUID, actorID int64, at time.Time) (Request, error) {
	return r.transition(id, []RequestStatus{RequestPending}, func(req *Request) {
		req.Status = RequestApproved
		req.ApprovedAt = &at
		req.ApprovedBy = &actorID
	})
}

func (r *memoryRepo) MarkRejected(_ context.Context, id uuid.UUID, reason string) (Request, error) {
	return r.transition(id, openStatuses(), func(req *Request) {
		req.Status = RequestRejected
		req.RejectReason = reason
	})
}

func (r *memoryRepo) MarkPaid(_ context.Context, id uuid.UUID, actorID int64, at time.Time) (Request, error) {
	return r.transition(id, openStatuses(), func(req *Request) {
		req.Status = RequestPaid
		req.PaidAt = &at
		req.PaidBy = &actorID
	})
}

func (r *memoryRepo) SumPaid(_ context.Context, driverID int64) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, req := range r.requests {
		if req.DriverID == driverID && req.Status == RequestPaid {
			total = total.Add(req.Amount)
		}
	}
	return total, nil
}

func (r *memoryRepo) ExtraCommission(_ context.Context, driverID int64) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[driverID]
	if !ok {
		return decimal.Zero, nil
	}
	return p.ExtraCommission, nil
}

// memoryOrders holds per-order applied state so repeated backfills can prove
// they touch each order at most once.
type memoryOrders struct {
	mu      sync.Mutex
	orders  map[int64]bool // id -> commission applied
	byOwner map[int64][]int64
}

func newMemoryOrders(driverID int64, ids ...int64) *memoryOrders {
	m := &memoryOrders{orders: make(map[int64]bool), byOwner: make(map[int64][]int64)}
	for _, id := range ids {
		m.orders[id] = false
		m.byOwner[driverID] = append(m.byOwner[driverID], id)
	}
	return m
}

func (m *memoryOrders) ListUnappliedIDs(_ context.Context, driverID int64, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for _, id := range m.byOwner[driverID] {
		if !m.orders[id] {
			out = append(out, id)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryOrders) MarkApplied(_ context.Context, ids []int64, _ decimal.Decimal) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var affected int64
	for _, id := range ids {
		if applied, ok := m.orders[id]; ok && !applied {
			m.orders[id] = true
			affected++
		}
	}
	return affected, nil
}

type countingMetrics struct {
	mu          sync.Mutex
	transitions map[string]int
	conflicts   int
	backfilled  int64
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{transitions: make(map[string]int)}
}

func (m *countingMetrics) ObserveTransition(_ string, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[to]++
}

func (m *countingMetrics) ObserveConflict(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

func (m *countingMetrics) ObserveBackfill(orders int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backfilled += orders
}

type recordingAuditor struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAuditor) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func newTestService(repo Repository, cfg ServiceConfig) *Service {
	return NewService(repo, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func seedProfile(t *testing.T, svc *Service, driverID int64, rate string) Profile {
	t.Helper()
	profile, err := svc.SetProfile(context.Background(), driverID, decimal.RequireFromString(rate), "SAR")
	require.NoError(t, err)
	return profile
}

func TestSetProfileValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo(), ServiceConfig{})
	ctx := context.Background()

	_, err := svc.SetProfile(ctx, 0, decimal.NewFromInt(10), "SAR")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.SetProfile(ctx, 1, decimal.NewFromInt(-1), "SAR")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.SetProfile(ctx, 1, decimal.NewFromInt(10), "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestBackfillAppliesEachOrderOnce(t *testing.T) {
	repo := newMemoryRepo()
	ids := make([]int64, 20)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	orders := newMemoryOrders(5, ids...)
	emitter := events.NewMemoryEmitter()
	metrics := newCountingMetrics()
	svc := newTestService(repo, ServiceConfig{Orders: orders, Emitter: emitter, Metrics: metrics, BackfillChunk: 6})
	seedProfile(t, svc, 5, "10")
	ctx := context.Background()

	result, err := svc.ApplyToDelivered(ctx, 5, decimal.NewFromInt(10), BackfillScope{})
	require.NoError(t, err)
	require.EqualValues(t, 20, result.OrdersAffected)
	require.Equal(t, "200.00", shared.MoneyString(result.AmountApplied))

	// Repeating the backfill finds nothing left to annotate.
	result, err = svc.ApplyToDelivered(ctx, 5, decimal.NewFromInt(10), BackfillScope{})
	require.NoError(t, err)
	require.EqualValues(t, 0, result.OrdersAffected)
	require.True(t, result.AmountApplied.IsZero())

	// Only the first run emits; a no-op pass stays silent.
	require.Equal(t, []string{events.TypeCommissionBackfilled}, emitter.Types())
	require.EqualValues(t, 20, metrics.backfilled, "only applied orders feed the backfill counter")
}

func TestBackfillScopedToExplicitOrders(t *testing.T) {
	repo := newMemoryRepo()
	orders := newMemoryOrders(5, 1, 2, 3, 4)
	svc := newTestService(repo, ServiceConfig{Orders: orders})
	seedProfile(t, svc, 5, "7.5")

	result, err := svc.ApplyToDelivered(context.Background(), 5, decimal.RequireFromString("7.5"), BackfillScope{OrderIDs: []int64{1, 3}})
	require.NoError(t, err)
	require.EqualValues(t, 2, result.OrdersAffected)
	require.Equal(t, "15.00", shared.MoneyString(result.AmountApplied))

	remaining, err := orders.ListUnappliedIDs(context.Background(), 5, 10)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{2, 4}, remaining)
}

func TestBackfillSkipsPausedDriver(t *testing.T) {
	repo := newMemoryRepo()
	orders := newMemoryOrders(5, 1, 2, 3)
	svc := newTestService(repo, ServiceConfig{Orders: orders})
	seedProfile(t, svc, 5, "10")
	ctx := context.Background()

	_, err := svc.Pause(ctx, 5)
	require.NoError(t, err)

	result, err := svc.ApplyToDelivered(ctx, 5, decimal.NewFromInt(10), BackfillScope{})
	require.NoError(t, err)
	require.EqualValues(t, 0, result.OrdersAffected)

	// Resuming makes the same orders eligible again.
	_, err = svc.Resume(ctx, 5)
	require.NoError(t, err)
	result, err = svc.ApplyToDelivered(ctx, 5, decimal.NewFromInt(10), BackfillScope{})
	require.NoError(t, err)
	require.EqualValues(t, 3, result.OrdersAffected)
}

func TestBackfillRequiresProfile(t *testing.T) {
	svc := newTestService(newMemoryRepo(), ServiceConfig{Orders: newMemoryOrders(5, 1)})
	_, err := svc.ApplyToDelivered(context.Background(), 5, decimal.NewFromInt(10), BackfillScope{})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAddExtraRejectsZeroDelta(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	seedProfile(t, svc, 5, "10")

	_, err := svc.AddExtra(context.Background(), 5, decimal.Zero, 42, "noop")
	require.ErrorIs(t, err, shared.ErrValidation)

	profile, err := svc.AddExtra(context.Background(), 5, decimal.NewFromInt(25), 42, "ramadan bonus")
	require.NoError(t, err)
	require.Equal(t, "25.00", shared.MoneyString(profile.ExtraCommission))

	// Negative deltas claw back previously granted extra.
	profile, err = svc.AddExtra(context.Background(), 5, decimal.NewFromInt(-10), 42, "correction")
	require.NoError(t, err)
	require.Equal(t, "15.00", shared.MoneyString(profile.ExtraCommission))
}

func TestRequestLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	emitter := events.NewMemoryEmitter()
	auditor := &recordingAuditor{}
	metrics := newCountingMetrics()
	svc := newTestService(repo, ServiceConfig{Emitter: emitter, Audit: auditor, Metrics: metrics})
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, CreateRequestInput{
		DriverID:   5,
		Amount:     decimal.NewFromInt(200),
		Currency:   "SAR",
		Rate:       decimal.NewFromInt(10),
		OrderCount: 20,
	})
	require.NoError(t, err)
	require.Equal(t, RequestPending, req.Status)

	req, err = svc.Approve(ctx, req.ID, 99)
	require.NoError(t, err)
	require.Equal(t, RequestApproved, req.Status)

	req, err = svc.Pay(ctx, req.ID, 99)
	require.NoError(t, err)
	require.Equal(t, RequestPaid, req.Status)

	paid, err := repo.SumPaid(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, "200.00", shared.MoneyString(paid))

	require.Equal(t, []string{
		events.TypeCommissionRequested,
		events.TypeCommissionApproved,
		events.TypeCommissionPaid,
	}, emitter.Types())

	require.Len(t, auditor.logs, 3)
	for _, log := range auditor.logs {
		require.False(t, log.At.IsZero(), "audit rows carry the transition time")
	}

	require.Equal(t, 1, metrics.transitions[string(RequestPending)])
	require.Equal(t, 1, metrics.transitions[string(RequestApproved)])
	require.Equal(t, 1, metrics.transitions[string(RequestPaid)])
	require.Equal(t, 0, metrics.conflicts)
}

func TestCreateRequestValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo(), ServiceConfig{})
	ctx := context.Background()

	_, err := svc.CreateRequest(ctx, CreateRequestInput{DriverID: 0, Amount: decimal.NewFromInt(10), Currency: "SAR"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.CreateRequest(ctx, CreateRequestInput{DriverID: 5, Amount: decimal.Zero, Currency: "SAR"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.CreateRequest(ctx, CreateRequestInput{DriverID: 5, Amount: decimal.NewFromInt(10), Currency: ""})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.CreateRequest(ctx, CreateRequestInput{DriverID: 5, Amount: decimal.NewFromInt(10), Currency: "SAR", OrderCount: -1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPayHasExactlyOneWinner(t *testing.T) {
	repo := newMemoryRepo()
	metrics := newCountingMetrics()
	svc := newTestService(repo, ServiceConfig{Metrics: metrics})
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, CreateRequestInput{
		DriverID: 5,
		Amount:   decimal.NewFromInt(150),
		Currency: "SAR",
	})
	require.NoError(t, err)

	const attempts = 12
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(actor int64) {
			defer wg.Done()
			_, err := svc.Pay(ctx, req.ID, actor)
			errs <- err
		}(int64(i + 1))
	}
	wg.Wait()
	close(errs)

	winners := 0
	for err := range errs {
		if err == nil {
			winners++
		} else {
			require.True(t, errors.Is(err, shared.ErrConflict))
		}
	}
	require.Equal(t, 1, winners)

	paid, err := repo.SumPaid(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, "150.00", shared.MoneyString(paid), "paid total grows exactly once")

	require.Equal(t, 1, metrics.transitions[string(RequestPaid)])
	require.Equal(t, attempts-1, metrics.conflicts)
}

func TestListRequestsPaginates(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		req, err := svc.CreateRequest(ctx, CreateRequestInput{DriverID: 5, Amount: decimal.NewFromInt(10), Currency: "SAR"})
		require.NoError(t, err)
		// spread creation times so ordering is deterministic
		stored := repo.requests[req.ID]
		stored.CreatedAt = stored.CreatedAt.Add(time.Duration(i) * time.Minute)
		repo.requests[req.ID] = stored
	}

	page1, meta, err := svc.ListRequests(ctx, 5, nil, shared.PageRequest{Page: 1, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.Equal(t, 5, meta.Total)
	require.Equal(t, 3, meta.TotalPages)

	page3, meta, err := svc.ListRequests(ctx, 5, nil, shared.PageRequest{Page: 3, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, page3, 1)
	require.Equal(t, 3, meta.TotalPages)
	require.NotEqual(t, page1[0].ID, page3[0].ID)
}

func TestRejectedRequestStaysRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, CreateRequestInput{DriverID: 5, Amount: decimal.NewFromInt(80), Currency: "SAR"})
	require.NoError(t, err)

	req, err = svc.Reject(ctx, req.ID, 99, "duplicate request")
	require.NoError(t, err)
	require.Equal(t, RequestRejected, req.Status)
	require.Equal(t, "duplicate request", req.RejectReason)

	_, err = svc.Pay(ctx, req.ID, 99)
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = svc.Approve(ctx, req.ID, 99)
	require.ErrorIs(t, err, shared.ErrConflict)

	paid, err := repo.SumPaid(ctx, 5)
	require.NoError(t, err)
	require.True(t, paid.IsZero())
}

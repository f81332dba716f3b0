package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wasel-ledger/wasel-ledger/internal/events"
	"github.com/wasel-ledger/wasel-ledger/internal/shared"
)

const approvalModule = "commission"

// DefaultBackfillChunk bounds how many orders one backfill transaction
// touches, so bulk recomputation never blocks concurrent transitions on
// unrelated records.
const DefaultBackfillChunk = 200

// OrderAnnotator is the slice of the orders repository the backfill needs.
type OrderAnnotator interface {
	ListUnappliedIDs(ctx context.Context, driverID int64, limit int) ([]int64, error)
	MarkApplied(ctx context.Context, ids []int64, rate decimal.Decimal) (int64, error)
}

// CacheInvalidator drops derived-balance snapshots after a transition.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Auditor persists the auditable trail for each transition.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalWriter persists approval history rows.
type ApprovalWriter interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// MetricsObserver feeds the transition and backfill counters behind /metrics.
type MetricsObserver interface {
	ObserveTransition(module, to string)
	ObserveConflict(module string)
	ObserveBackfill(orders int64)
}

// Service drives commission profiles, payout requests, and the backfill.
type Service struct {
	repo      Repository
	orders    OrderAnnotator
	cache     CacheInvalidator
	audit     Auditor
	approvals ApprovalWriter
	emitter   events.Emitter
	metrics   MetricsObserver
	logger    *slog.Logger
	chunkSize int
	now       func() time.Time
}

// ServiceConfig groups optional collaborators and tuning.
type ServiceConfig struct {
	Orders        OrderAnnotator
	Cache         CacheInvalidator
	Audit         Auditor
	Approvals     ApprovalWriter
	Emitter       events.Emitter
	Metrics       MetricsObserver
	BackfillChunk int
}

// NewService constructs the Service.
func NewService(repo Repository, cfg ServiceConfig, logger *slog.Logger) *Service {
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.Noop{}
	}
	chunk := cfg.BackfillChunk
	if chunk <= 0 {
		chunk = DefaultBackfillChunk
	}
	return &Service{
		repo:      repo,
		orders:    cfg.Orders,
		cache:     cfg.Cache,
		audit:     cfg.Audit,
		approvals: cfg.Approvals,
		emitter:   emitter,
		metrics:   cfg.Metrics,
		logger:    logger,
		chunkSize: chunk,
		now:       time.Now,
	}
}

// SetProfile sets a driver's per-order rate, creating the profile when
// missing.
func (s *Service) SetProfile(ctx context.Context, driverID int64, rate decimal.Decimal, currency string) (Profile, error) {
	if driverID <= 0 {
		return Profile{}, fmt.Errorf("%w: driver id required", shared.ErrValidation)
	}
	if rate.IsNegative() {
		return Profile{}, fmt.Errorf("%w: commission rate cannot be negative", shared.ErrValidation)
	}
	if currency == "" {
		return Profile{}, fmt.Errorf("%w: currency required", shared.ErrValidation)
	}
	profile, err := s.repo.UpsertProfile(ctx, driverID, shared.Round2(rate), currency)
	if err != nil {
		return Profile{}, err
	}
	s.invalidate(ctx)
	return profile, nil
}

// GetProfile returns a driver's profile.
func (s *Service) GetProfile(ctx context.Context, driverID int64) (Profile, error) {
	return s.repo.GetProfile(ctx, driverID)
}

// Pause stops new commission from accruing for the driver. Already accrued
// pending commission remains payable.
func (s *Service) Pause(ctx context.Context, driverID int64) (Profile, error) {
	profile, err := s.repo.SetPaused(ctx, driverID, true)
	if err != nil {
		return Profile{}, err
	}
	s.invalidate(ctx)
	return profile, nil
}

// Resume re-enables commission accrual.
func (s *Service) Resume(ctx context.Context, driverID int64) (Profile, error) {
	profile, err := s.repo.SetPaused(ctx, driverID, false)
	if err != nil {
		return Profile{}, err
	}
	s.invalidate(ctx)
	return profile, nil
}

// AddExtra applies a manual commission adjustment.
func (s *Service) AddExtra(ctx context.Context, driverID int64, delta decimal.Decimal, actorID int64, note string) (Profile, error) {
	if delta.IsZero() {
		return Profile{}, fmt.Errorf("%w: adjustment cannot be zero", shared.ErrValidation)
	}
	profile, err := s.repo.AddExtra(ctx, driverID, shared.Round2(delta))
	if err != nil {
		return Profile{}, err
	}
	s.recordAudit(ctx, actorID, "commission.extra", fmt.Sprintf("driver:%d", driverID), map[string]any{
		"delta": shared.MoneyString(delta),
		"note":  note,
	})
	s.invalidate(ctx)
	return profile, nil
}

// ApplyToDelivered is the backfill: it annotates delivered orders with the
// rate, chunk by chunk, skipping orders already applied. The settings screen
// calls this after every rate change, so it must stay safe to repeat: a
// second run over the same orders reports zero affected.
func (s *Service) ApplyToDelivered(ctx context.Context, driverID int64, rate decimal.Decimal, scope BackfillScope) (BackfillResult, error) {
	result := BackfillResult{AmountApplied: decimal.Zero}
	if driverID <= 0 {
		return result, fmt.Errorf("%w: driver id required", shared.ErrValidation)
	}
	if rate.IsNegative() {
		return result, fmt.Errorf("%w: commission rate cannot be negative", shared.ErrValidation)
	}

	profile, err := s.repo.GetProfile(ctx, driverID)
	if err != nil {
		return result, err
	}
	if profile.IsPaused {
		// Paused drivers accrue nothing; existing pending commission stays payable.
		return result, nil
	}

	rate = shared.Round2(rate)

	if len(scope.OrderIDs) > 0 {
		affected, err := s.orders.MarkApplied(ctx, scope.OrderIDs, rate)
		result.OrdersAffected = affected
		result.AmountApplied = rate.Mul(decimal.NewFromInt(affected))
		if err != nil {
			return result, err
		}
		s.finishBackfill(ctx, driverID, rate, result)
		return result, nil
	}

	for {
		ids, err := s.orders.ListUnappliedIDs(ctx, driverID, s.chunkSize)
		if err != nil {
			// Partial progress already committed stays reported.
			return result, err
		}
		if len(ids) == 0 {
			break
		}
		affected, err := s.orders.MarkApplied(ctx, ids, rate)
		result.OrdersAffected += affected
		result.AmountApplied = result.AmountApplied.Add(rate.Mul(decimal.NewFromInt(affected)))
		if err != nil {
			return result, err
		}
		if len(ids) < s.chunkSize {
			break
		}
	}
	s.finishBackfill(ctx, driverID, rate, result)
	return result, nil
}

func (s *Service) finishBackfill(ctx context.Context, driverID int64, rate decimal.Decimal, result BackfillResult) {
	if result.OrdersAffected == 0 {
		return
	}
	s.recordAudit(ctx, 0, "commission.backfill", fmt.Sprintf("driver:%d", driverID), map[string]any{
		"rate":           shared.MoneyString(rate),
		"ordersAffected": result.OrdersAffected,
		"amountApplied":  shared.MoneyString(result.AmountApplied),
	})
	if s.metrics != nil {
		s.metrics.ObserveBackfill(result.OrdersAffected)
	}
	s.invalidate(ctx)
	event := events.New(events.TypeCommissionBackfilled, events.Payload{
		RecordID: fmt.Sprintf("driver:%d", driverID),
		DriverID: driverID,
		Amount:   shared.MoneyString(result.AmountApplied),
	})
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.logger.Warn("emit backfill event", slog.Int64("driver_id", driverID), slog.Any("error", err))
	}
}

// CreateRequest submits a payout request for accrued commission.
func (s *Service) CreateRequest(ctx context.Context, input CreateRequestInput) (Request, error) {
	if input.DriverID <= 0 {
		return Request{}, fmt.Errorf("%w: driver id required", shared.ErrValidation)
	}
	if !input.Amount.IsPositive() {
		return Request{}, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	if input.OrderCount < 0 {
		return Request{}, fmt.Errorf("%w: order count cannot be negative", shared.ErrValidation)
	}
	if input.Currency == "" {
		return Request{}, fmt.Errorf("%w: currency required", shared.ErrValidation)
	}

	req := Request{
		ID:         uuid.New(),
		DriverID:   input.DriverID,
		Amount:     shared.Round2(input.Amount),
		Currency:   input.Currency,
		Rate:       shared.Round2(input.Rate),
		OrderCount: input.OrderCount,
		Status:     RequestPending,
		Note:       input.Note,
		CreatedAt:  s.now().UTC(),
	}
	req.UpdatedAt = req.CreatedAt
	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return Request{}, err
	}
	s.recordApproval(ctx, req.ID, input.DriverID, shared.ApprovalSubmit, input.Note)
	s.recordAudit(ctx, input.DriverID, "commission.request", req.ID.String(), map[string]any{
		"amount": shared.MoneyString(req.Amount),
	})
	s.observeTransition(RequestPending)
	s.emit(ctx, events.TypeCommissionRequested, req)
	return req, nil
}

// Approve moves a pending request to approved.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, actorID int64) (Request, error) {
	req, err := s.repo.MarkApproved(ctx, id, actorID, s.now().UTC())
	if err != nil {
		s.observeConflict(err)
		return Request{}, err
	}
	s.recordApproval(ctx, id, actorID, shared.ApprovalApprove, "")
	s.recordAudit(ctx, actorID, "commission.approve", id.String(), nil)
	s.observeTransition(RequestApproved)
	s.emit(ctx, events.TypeCommissionApproved, req)
	return req, nil
}

// Reject terminates a request.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actorID int64, reason string) (Request, error) {
	req, err := s.repo.MarkRejected(ctx, id, reason)
	if err != nil {
		s.observeConflict(err)
		return Request{}, err
	}
	s.recordApproval(ctx, id, actorID, shared.ApprovalReject, reason)
	s.recordAudit(ctx, actorID, "commission.reject", id.String(), map[string]any{"reason": reason})
	s.observeTransition(RequestRejected)
	s.emit(ctx, events.TypeCommissionRejected, req)
	return req, nil
}

// Pay settles a request. The CAS in the repository makes sure paidAmount
// grows by this request's amount exactly once, no matter how many
// concurrent Pay calls race.
func (s *Service) Pay(ctx context.Context, id uuid.UUID, actorID int64) (Request, error) {
	req, err := s.repo.MarkPaid(ctx, id, actorID, s.now().UTC())
	if err != nil {
		s.observeConflict(err)
		return Request{}, err
	}
	s.recordApproval(ctx, id, actorID, shared.ApprovalPay, "")
	s.recordAudit(ctx, actorID, "commission.pay", id.String(), map[string]any{
		"amount": shared.MoneyString(req.Amount),
	})
	s.observeTransition(RequestPaid)
	s.invalidate(ctx)
	s.emit(ctx, events.TypeCommissionPaid, req)
	return req, nil
}

// GetRequest returns a single request.
func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (Request, error) {
	return s.repo.GetRequest(ctx, id)
}

// ListRequests returns one page of requests for a driver, newest first.
func (s *Service) ListRequests(ctx context.Context, driverID int64, statuses []RequestStatus, page shared.PageRequest) ([]Request, shared.Pagination, error) {
	total, err := s.repo.CountRequests(ctx, driverID, statuses)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	list, err := s.repo.ListRequests(ctx, driverID, statuses, page.Limit(), page.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, page.Meta(total), nil
}

func (s *Service) recordApproval(ctx context.Context, ref uuid.UUID, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{Module: approvalModule, RefID: ref, ActorID: actorID, Action: action, Note: note, At: s.now().UTC()}); err != nil {
		s.logger.Warn("record approval", slog.String("request_id", ref.String()), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "commission",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now().UTC(),
	}); err != nil {
		s.logger.Warn("record audit", slog.String("entity_id", entityID), slog.Any("error", err))
	}
}

func (s *Service) observeTransition(to RequestStatus) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveTransition(approvalModule, string(to))
}

func (s *Service) observeConflict(err error) {
	if s.metrics == nil || !errors.Is(err, shared.ErrConflict) {
		return
	}
	s.metrics.ObserveConflict(approvalModule)
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("invalidate ledger cache", slog.Any("error", err))
	}
}

func (s *Service) emit(ctx context.Context, eventType string, req Request) {
	event := events.New(eventType, events.Payload{
		RecordID: req.ID.String(),
		DriverID: req.DriverID,
		Status:   string(req.Status),
		Amount:   shared.MoneyString(req.Amount),
		Currency: req.Currency,
	})
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.logger.Warn("emit commission event", slog.String("type", eventType), slog.Any("error", err))
	}
}

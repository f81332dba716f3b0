package remittance

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

const approvalModule = "remittance"

// BalanceReader supplies the payer's current pending balance. The check on
// Create is advisory only: balances are derived, not reserved, so a slightly
// stale figure must never hard-block a submission.
type BalanceReader interface {
	PendingToCompany(ctx context.Context, payerID int64, country string) (decimal.Decimal, error)
}

// SettlementIssuer produces the opaque settlement document reference stamped
// on final acceptance. The reference is derived before the transition
// commits; the document renders only for the committed record.
type SettlementIssuer interface {
	SettlementRef(rec Record) string
	RenderSettlement(ctx context.Context, rec Record) error
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

// TransitionObserver feeds the transition counters behind /metrics.
type TransitionObserver interface {
	ObserveTransition(module, to string)
	ObserveConflict(module string)
}

// Service drives the remittance state machine.
type Service struct {
	repo        Repository
	balances    BalanceReader
	settlements SettlementIssuer
	cache       CacheInvalidator
	audit       Auditor
	approvals   ApprovalWriter
	emitter     events.Emitter
	metrics     TransitionObserver
	logger      *slog.Logger
	now         func() time.Time
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Balances    BalanceReader
	Settlements SettlementIssuer
	Cache       CacheInvalidator
	Audit       Auditor
	Approvals   ApprovalWriter
	Emitter     events.Emitter
	Metrics     TransitionObserver
}

// NewService constructs the Service.
func NewService(repo Repository, cfg ServiceConfig, logger *slog.Logger) *Service {
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.Noop{}
	}
	return &Service{
		repo:        repo,
		balances:    cfg.Balances,
		settlements: cfg.Settlements,
		cache:       cfg.Cache,
		audit:       cfg.Audit,
		approvals:   cfg.Approvals,
		emitter:     emitter,
		metrics:     cfg.Metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Create submits a new remittance in pending state.
func (s *Service) Create(ctx context.Context, input CreateInput) (Record, error) {
	if !input.Amount.IsPositive() {
		return Record{}, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	if input.PayerID <= 0 {
		return Record{}, fmt.Errorf("%w: payer id required", shared.ErrValidation)
	}
	if input.PayerRole != PayerDriver && input.PayerRole != PayerManager {
		return Record{}, fmt.Errorf("%w: payer role must be driver or manager", shared.ErrValidation)
	}
	if input.Method != MethodHand && input.Method != MethodTransfer {
		return Record{}, fmt.Errorf("%w: method must be hand or transfer", shared.ErrValidation)
	}
	if input.Method == MethodTransfer && input.ProofRef == "" {
		return Record{}, fmt.Errorf("%w: transfer remittance requires a proof reference", shared.ErrValidation)
	}
	if input.Currency == "" || input.Country == "" {
		return Record{}, fmt.Errorf("%w: currency and country required", shared.ErrValidation)
	}

	// Advisory only: record when the submitted amount exceeds the derived
	// pending balance, but do not block. See the audit meta for review.
	exceedsPending := false
	if s.balances != nil && input.PayerRole == PayerDriver {
		pending, err := s.balances.PendingToCompany(ctx, input.PayerID, input.Country)
		if err != nil {
			s.logger.Warn("read pending balance", slog.Int64("payer_id", input.PayerID), slog.Any("error", err))
		} else if input.Amount.GreaterThan(pending) {
			exceedsPending = true
		}
	}

	rec := Record{
		ID:        uuid.New(),
		PayerID:   input.PayerID,
		PayerRole: input.PayerRole,
		PayeeID:   input.PayeeID,
		Amount:    shared.Round2(input.Amount),
		Currency:  input.Currency,
		Country:   input.Country,
		Method:    input.Method,
		Note:      input.Note,
		ProofRef:  input.ProofRef,
		Status:    StatusPending,
		CreatedAt: s.now().UTC(),
	}
	rec.UpdatedAt = rec.CreatedAt
	if err := s.repo.Create(ctx, rec); err != nil {
		return Record{}, err
	}

	s.recordApproval(ctx, rec.ID, input.PayerID, shared.ApprovalSubmit, input.Note)
	s.recordAudit(ctx, input.PayerID, "remittance.create", rec, map[string]any{
		"proofRef":       rec.ProofRef,
		"method":         string(rec.Method),
		"exceedsPending": exceedsPending,
	})
	s.observeTransition(StatusPending)
	s.emit(ctx, events.TypeRemittanceCreated, rec)
	return rec, nil
}

// ManagerAccept applies the intermediate manager-tier approval. Valid only
// for driver-submitted records still pending. The amount is NOT counted as
// received yet; the record merely surfaces to the owner queue.
func (s *Service) ManagerAccept(ctx context.Context, id uuid.UUID, actorID int64) (Record, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if current.PayerRole != PayerDriver {
		return Record{}, fmt.Errorf("%w: manager approval applies to driver remittances only", shared.ErrConflict)
	}
	rec, err := s.repo.MarkManagerAccepted(ctx, id, actorID, s.now().UTC())
	if err != nil {
		s.observeConflict(err)
		return Record{}, err
	}
	s.recordApproval(ctx, id, actorID, shared.ApprovalManagerApprove, "")
	s.recordAudit(ctx, actorID, "remittance.manager_accept", rec, nil)
	s.observeTransition(StatusManagerAccepted)
	s.invalidate(ctx)
	s.emit(ctx, events.TypeRemittanceManagerAccepted, rec)
	return rec, nil
}

// Accept applies the final company-tier approval. This is the only
// transition that makes the amount count toward deliveredToCompany, and the
// CAS in the repository guarantees it succeeds at most once per record.
func (s *Service) Accept(ctx context.Context, id uuid.UUID, actorID int64) (Record, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}

	// The reference is cheap to derive; the document renders only after the
	// CAS commits, so a losing Accept never produces an orphan receipt.
	rec, err := s.repo.MarkAccepted(ctx, id, actorID, s.now().UTC(), s.settlementRef(current))
	if err != nil {
		s.observeConflict(err)
		return Record{}, err
	}
	s.renderSettlement(ctx, rec)
	s.recordApproval(ctx, id, actorID, shared.ApprovalApprove, "")
	s.recordAudit(ctx, actorID, "remittance.accept", rec, map[string]any{
		"settlementRef": rec.SettlementRef,
	})
	s.observeTransition(StatusAccepted)
	s.invalidate(ctx)
	s.emit(ctx, events.TypeRemittanceAccepted, rec)
	return rec, nil
}

// Reject terminates the record. Rejected amounts are excluded from all sums.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actorID int64, reason string) (Record, error) {
	rec, err := s.repo.MarkRejected(ctx, id, reason)
	if err != nil {
		s.observeConflict(err)
		return Record{}, err
	}
	s.recordApproval(ctx, id, actorID, shared.ApprovalReject, reason)
	s.recordAudit(ctx, actorID, "remittance.reject", rec, map[string]any{"reason": reason})
	s.observeTransition(StatusRejected)
	s.invalidate(ctx)
	s.emit(ctx, events.TypeRemittanceRejected, rec)
	return rec, nil
}

// Get returns a single record.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	return s.repo.Get(ctx, id)
}

// List returns records matching the filter, manager-accepted first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	return s.repo.List(ctx, filter)
}

// Count returns how many records match the filter, ignoring paging.
func (s *Service) Count(ctx context.Context, filter ListFilter) (int, error) {
	return s.repo.Count(ctx, filter)
}

func (s *Service) settlementRef(rec Record) string {
	if s.settlements == nil {
		return fmt.Sprintf("stl-%s", uuid.NewString())
	}
	return s.settlements.SettlementRef(rec)
}

func (s *Service) renderSettlement(ctx context.Context, rec Record) {
	if s.settlements == nil {
		return
	}
	if err := s.settlements.RenderSettlement(ctx, rec); err != nil {
		// The reference is authoritative, the document is not. Rendering
		// failures are retried by the worker.
		s.logger.Warn("render settlement document", slog.String("remittance_id", rec.ID.String()), slog.Any("error", err))
	}
}

func (s *Service) recordApproval(ctx context.Context, ref uuid.UUID, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{Module: approvalModule, RefID: ref, ActorID: actorID, Action: action, Note: note, At: s.now().UTC()}); err != nil {
		s.logger.Warn("record approval", slog.String("remittance_id", ref.String()), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, rec Record, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["status"] = string(rec.Status)
	meta["amount"] = shared.MoneyString(rec.Amount)
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "remittance",
		EntityID: rec.ID.String(),
		Meta:     meta,
		At:       s.now().UTC(),
	}); err != nil {
		s.logger.Warn("record audit", slog.String("remittance_id", rec.ID.String()), slog.Any("error", err))
	}
}

func (s *Service) observeTransition(to Status) {
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

func (s *Service) emit(ctx context.Context, eventType string, rec Record) {
	event := events.New(eventType, events.Payload{
		RecordID: rec.ID.String(),
		DriverID: rec.PayerID,
		Status:   string(rec.Status),
		Amount:   shared.MoneyString(rec.Amount),
		Currency: rec.Currency,
		Country:  rec.Country,
	})
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.logger.Warn("emit remittance event", slog.String("type", eventType), slog.Any("error", err))
	}
}

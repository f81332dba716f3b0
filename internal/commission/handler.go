package commission

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wasel-ledger/wasel-ledger/internal/platform/httpx"
	"github.com/wasel-ledger/wasel-ledger/internal/shared"
)

// Handler wires HTTP endpoints for commission profiles and payout requests.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	enqueuer  BackfillEnqueuer
	validator *validator.Validate
}

// BackfillEnqueuer hands large backfills to the background worker.
type BackfillEnqueuer interface {
	EnqueueBackfill(ctx context.Context, driverID int64, rate string) error
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, enqueuer BackfillEnqueuer) *Handler {
	return &Handler{logger: logger, service: service, enqueuer: enqueuer, validator: validator.New()}
}

// MountRoutes registers commission routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Put("/profiles/{driverId}", h.handleSetProfile)
	r.Get("/profiles/{driverId}", h.handleGetProfile)
	r.Post("/profiles/{driverId}/pause", h.handlePause)
	r.Post("/profiles/{driverId}/resume", h.handleResume)
	r.Post("/profiles/{driverId}/extra", h.handleAddExtra)
	r.Post("/profiles/{driverId}/backfill", h.handleBackfill)

	r.Post("/requests", h.handleCreateRequest)
	r.Get("/requests", h.handleListRequests)
	r.Get("/requests/{id}", h.handleGetRequest)
	r.Post("/requests/{id}/approve", h.handleApprove)
	r.Post("/requests/{id}/reject", h.handleReject)
	r.Post("/requests/{id}/pay", h.handlePay)
}

type setProfileRequest struct {
	CommissionPerOrder string `json:"commissionPerOrder" validate:"required"`
	Currency           string `json:"currency" validate:"required,len=3"`
	ApplyToPrevious    bool   `json:"applyToPrevious,omitempty"`
}

type extraRequest struct {
	Delta string `json:"delta" validate:"required"`
	Note  string `json:"note,omitempty"`
}

type backfillRequest struct {
	Rate     string  `json:"rate" validate:"required"`
	OrderIDs []int64 `json:"orderIds,omitempty"`
	Async    bool    `json:"async,omitempty"`
}

type createCommissionRequest struct {
	DriverID   int64  `json:"driverId" validate:"required,gt=0"`
	Amount     string `json:"amount" validate:"required"`
	Currency   string `json:"currency" validate:"required,len=3"`
	Rate       string `json:"rate,omitempty"`
	OrderCount int64  `json:"orderCount" validate:"gte=0"`
	Note       string `json:"note,omitempty"`
}

type rejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

type profileResponse struct {
	DriverID           int64  `json:"driverId"`
	CommissionPerOrder string `json:"commissionPerOrder"`
	Currency           string `json:"currency"`
	IsPaused           bool   `json:"isPaused"`
	ExtraCommission    string `json:"extraCommission"`
}

type requestResponse struct {
	ID           string  `json:"id"`
	DriverID     int64   `json:"driverId"`
	Amount       string  `json:"amount"`
	Currency     string  `json:"currency"`
	Rate         string  `json:"rate"`
	OrderCount   int64   `json:"orderCount"`
	Status       string  `json:"status"`
	Note         string  `json:"note,omitempty"`
	RejectReason string  `json:"rejectReason,omitempty"`
	ApprovedAt   *string `json:"approvedAt,omitempty"`
	PaidAt       *string `json:"paidAt,omitempty"`
	CreatedAt    string  `json:"createdAt"`
}

func toProfileResponse(p Profile) profileResponse {
	return profileResponse{
		DriverID:           p.DriverID,
		CommissionPerOrder: shared.MoneyString(p.CommissionPerOrder),
		Currency:           p.Currency,
		IsPaused:           p.IsPaused,
		ExtraCommission:    shared.MoneyString(p.ExtraCommission),
	}
}

func toRequestResponse(req Request) requestResponse {
	resp := requestResponse{
		ID:           req.ID.String(),
		DriverID:     req.DriverID,
		Amount:       shared.MoneyString(req.Amount),
		Currency:     req.Currency,
		Rate:         shared.MoneyString(req.Rate),
		OrderCount:   req.OrderCount,
		Status:       string(req.Status),
		Note:         req.Note,
		RejectReason: req.RejectReason,
		CreatedAt:    req.CreatedAt.Format(time.RFC3339),
	}
	if req.ApprovedAt != nil {
		v := req.ApprovedAt.Format(time.RFC3339)
		resp.ApprovedAt = &v
	}
	if req.PaidAt != nil {
		v := req.PaidAt.Format(time.RFC3339)
		resp.PaidAt = &v
	}
	return resp
}

func (h *Handler) handleSetProfile(w http.ResponseWriter, r *http.Request) {
	driverID, err := parseDriverID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req setProfileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid json body", shared.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err.Error()))
		return
	}
	rate, err := shared.ParseMoney(req.CommissionPerOrder)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	profile, err := h.service.SetProfile(r.Context(), driverID, rate, req.Currency)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	// The settings screen re-applies the rate to historical orders after
	// every save. The backfill is idempotent so this is safe to repeat.
	if req.ApplyToPrevious {
		if _, err := h.service.ApplyToDelivered(r.Context(), driverID, rate, BackfillScope{}); err != nil {
			h.logger.Warn("apply rate to previous orders", slog.Int64("driver_id", driverID), slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusOK, toProfileResponse(profile))
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	driverID, err := parseDriverID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	profile, err := h.service.GetProfile(r.Context(), driverID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProfileResponse(profile))
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	h.handleToggle(w, r, h.service.Pause)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	h.handleToggle(w, r, h.service.Resume)
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, driverID int64) (Profile, error)) {
	driverID, err := parseDriverID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	profile, err := fn(r.Context(), driverID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProfileResponse(profile))
}

func (h *Handler) handleAddExtra(w http.ResponseWriter, r *http.Request) {
	driverID, err := parseDriverID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	var req extraRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid json body", shared.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err.Error()))
		return
	}
	delta, err := shared.ParseMoney(req.Delta)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	profile, err := h.service.AddExtra(r.Context(), driverID, delta, actor.ID, req.Note)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProfileResponse(profile))
}

func (h *Handler) handleBackfill(w http.ResponseWriter, r *http.Request) {
	driverID, err := parseDriverID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req backfillRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid json body", shared.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err.Error()))
		return
	}
	rate, err := shared.ParseMoney(req.Rate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.Async && h.enqueuer != nil {
		if err := h.enqueuer.EnqueueBackfill(r.Context(), driverID, shared.MoneyString(rate)); err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]any{"enqueued": true})
		return
	}
	result, err := h.service.ApplyToDelivered(r.Context(), driverID, rate, BackfillScope{OrderIDs: req.OrderIDs})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"ordersAffected": result.OrdersAffected,
		"amountApplied":  shared.MoneyString(result.AmountApplied),
	})
}

func (h *Handler) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var req createCommissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid json body", shared.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err.Error()))
		return
	}
	amount, err := shared.ParseMoney(req.Amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rate := decimal.Zero
	if req.Rate != "" {
		if rate, err = shared.ParseMoney(req.Rate); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	created, err := h.service.CreateRequest(r.Context(), CreateRequestInput{
		DriverID:   req.DriverID,
		Amount:     amount,
		Currency:   req.Currency,
		Rate:       rate,
		OrderCount: req.OrderCount,
		Note:       req.Note,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRequestResponse(created))
}

func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	var driverID int64
	if raw := r.URL.Query().Get("driverId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: driverId must be an integer", shared.ErrValidation))
			return
		}
		driverID = id
	}
	var statuses []RequestStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses = []RequestStatus{RequestStatus(raw)}
	}
	page, err := shared.ParsePageRequest(r.URL.Query())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, meta, err := h.service.ListRequests(r.Context(), driverID, statuses, page)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]requestResponse, 0, len(list))
	for _, req := range list {
		resp = append(resp, toRequestResponse(req))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requests": resp, "pagination": meta})
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := parseRequestID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.handleRequestTransition(w, r, func(ctx context.Context, id uuid.UUID, actorID int64) (Request, error) {
		return h.service.Approve(ctx, id, actorID)
	})
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	_ = httpx.DecodeJSON(r, &req)
	h.handleRequestTransition(w, r, func(ctx context.Context, id uuid.UUID, actorID int64) (Request, error) {
		return h.service.Reject(ctx, id, actorID, req.Reason)
	})
}

func (h *Handler) handlePay(w http.ResponseWriter, r *http.Request) {
	h.handleRequestTransition(w, r, func(ctx context.Context, id uuid.UUID, actorID int64) (Request, error) {
		return h.service.Pay(ctx, id, actorID)
	})
}

func (h *Handler) handleRequestTransition(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID, int64) (Request, error)) {
	id, err := parseRequestID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	req, err := fn(r.Context(), id, actor.ID)
	if err != nil {
		h.logger.Warn("commission transition", slog.String("request_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRequestResponse(req))
}

func parseDriverID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "driverId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid driver id %q", shared.ErrValidation, raw)
	}
	return id, nil
}

func parseRequestID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid request id %q", shared.ErrValidation, raw)
	}
	return id, nil
}

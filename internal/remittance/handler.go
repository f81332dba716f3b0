package remittance

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wasel-ledger/wasel-ledger/internal/platform/httpx"
	"github.com/wasel-ledger/wasel-ledger/internal/shared"
)

// Handler wires HTTP endpoints for the remittance workflow.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers remittance routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/manager-accept", h.handleManagerAccept)
	r.Post("/{id}/accept", h.handleAccept)
	r.Post("/{id}/reject", h.handleReject)
}

type createRequest struct {
	PayerID   int64  `json:"payerId" validate:"required,gt=0"`
	PayerRole string `json:"payerRole" validate:"required,oneof=driver manager"`
	PayeeID   *int64 `json:"payeeId,omitempty"`
	Amount    string `json:"amount" validate:"required"`
	Currency  string `json:"currency" validate:"required,len=3"`
	Country   string `json:"country" validate:"required"`
	Method    string `json:"method" validate:"required,oneof=hand transfer"`
	Note      string `json:"note,omitempty"`
	ProofRef  string `json:"proofRef,omitempty"`
}

type rejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

type recordResponse struct {
	ID                string  `json:"id"`
	PayerID           int64   `json:"payerId"`
	PayerRole         string  `json:"payerRole"`
	PayeeID           *int64  `json:"payeeId,omitempty"`
	Amount            string  `json:"amount"`
	Currency          string  `json:"currency"`
	Country           string  `json:"country"`
	Method            string  `json:"method"`
	Note              string  `json:"note,omitempty"`
	ProofRef          string  `json:"proofRef,omitempty"`
	Status            string  `json:"status"`
	RejectReason      string  `json:"rejectReason,omitempty"`
	ManagerAcceptedAt *string `json:"managerAcceptedAt,omitempty"`
	ManagerAcceptedBy *int64  `json:"managerAcceptedBy,omitempty"`
	AcceptedAt        *string `json:"acceptedAt,omitempty"`
	AcceptedBy        *int64  `json:"acceptedBy,omitempty"`
	SettlementRef     string  `json:"settlementRef,omitempty"`
	CreatedAt         string  `json:"createdAt"`
}

func toRecordResponse(rec Record) recordResponse {
	resp := recordResponse{
		ID:                rec.ID.String(),
		PayerID:           rec.PayerID,
		PayerRole:         string(rec.PayerRole),
		PayeeID:           rec.PayeeID,
		Amount:            shared.MoneyString(rec.Amount),
		Currency:          rec.Currency,
		Country:           rec.Country,
		Method:            string(rec.Method),
		Note:              rec.Note,
		ProofRef:          rec.ProofRef,
		Status:            string(rec.Status),
		RejectReason:      rec.RejectReason,
		ManagerAcceptedBy: rec.ManagerAcceptedBy,
		AcceptedBy:        rec.AcceptedBy,
		SettlementRef:     rec.SettlementRef,
		CreatedAt:         rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.ManagerAcceptedAt != nil {
		v := rec.ManagerAcceptedAt.Format(time.RFC3339)
		resp.ManagerAcceptedAt = &v
	}
	if rec.AcceptedAt != nil {
		v := rec.AcceptedAt.Format(time.RFC3339)
		resp.AcceptedAt = &v
	}
	return resp
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
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
	rec, err := h.service.Create(r.Context(), CreateInput{
		PayerID:   req.PayerID,
		PayerRole: PayerRole(req.PayerRole),
		PayeeID:   req.PayeeID,
		Amount:    amount,
		Currency:  req.Currency,
		Country:   req.Country,
		Method:    Method(req.Method),
		Note:      req.Note,
		ProofRef:  req.ProofRef,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRecordResponse(rec))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{}
	if raw := r.URL.Query().Get("payerId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: payerId must be an integer", shared.ErrValidation))
			return
		}
		filter.PayerID = id
	}
	filter.Country = r.URL.Query().Get("country")
	if raw := r.URL.Query().Get("status"); raw != "" {
		filter.Statuses = []Status{Status(raw)}
	}
	page, err := shared.ParsePageRequest(r.URL.Query())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	total, err := h.service.Count(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Limit = page.Limit()
	filter.Offset = page.Offset()
	records, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toRecordResponse(rec))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"remittances": resp, "pagination": page.Meta(total)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleManagerAccept(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, func(ctx *http.Request, id uuid.UUID, actor shared.Actor) (Record, error) {
		return h.service.ManagerAccept(ctx.Context(), id, actor.ID)
	})
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, func(ctx *http.Request, id uuid.UUID, actor shared.Actor) (Record, error) {
		return h.service.Accept(ctx.Context(), id, actor.ID)
	})
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	// Body is optional for rejects.
	_ = httpx.DecodeJSON(r, &req)
	h.handleTransition(w, r, func(ctx *http.Request, id uuid.UUID, actor shared.Actor) (Record, error) {
		return h.service.Reject(ctx.Context(), id, actor.ID, req.Reason)
	})
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, fn func(*http.Request, uuid.UUID, shared.Actor) (Record, error)) {
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	rec, err := fn(r, id, actor)
	if err != nil {
		h.logger.Warn("remittance transition", slog.String("remittance_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func parseID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid remittance id %q", shared.ErrValidation, raw)
	}
	return id, nil
}

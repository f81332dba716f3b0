package orders

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wasel-ledger/wasel-ledger/internal/platform/httpx"
	"github.com/wasel-ledger/wasel-ledger/internal/shared"
)

// Handler wires HTTP endpoints for delivered-order ingestion.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers order routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/delivered", h.handleIngestDelivered)
	r.Get("/delivered", h.handleListDelivered)
}

type deliveredRequest struct {
	OrderID         int64  `json:"orderId" validate:"required,gt=0"`
	DriverID        int64  `json:"driverId" validate:"required,gt=0"`
	CollectedAmount string `json:"collectedAmount" validate:"required"`
	Currency        string `json:"currency" validate:"required,len=3"`
	Country         string `json:"country" validate:"required"`
	DeliveredAt     string `json:"deliveredAt" validate:"required"`
}

type orderResponse struct {
	ID                int64   `json:"id"`
	DriverID          int64   `json:"driverId"`
	ShipmentStatus    string  `json:"shipmentStatus"`
	CollectedAmount   string  `json:"collectedAmount"`
	Currency          string  `json:"currency"`
	Country           string  `json:"country"`
	DeliveredAt       *string `json:"deliveredAt,omitempty"`
	CommissionApplied bool    `json:"commissionApplied"`
	CommissionAmount  *string `json:"commissionAmount,omitempty"`
}

func toOrderResponse(o Order) orderResponse {
	resp := orderResponse{
		ID:                o.ID,
		DriverID:          o.DriverID,
		ShipmentStatus:    string(o.ShipmentStatus),
		CollectedAmount:   shared.MoneyString(o.CollectedAmount),
		Currency:          o.Currency,
		Country:           o.Country,
		CommissionApplied: o.CommissionApplied,
	}
	if o.DeliveredAt != nil {
		v := o.DeliveredAt.Format(time.RFC3339)
		resp.DeliveredAt = &v
	}
	if o.CommissionAmount != nil {
		v := shared.MoneyString(*o.CommissionAmount)
		resp.CommissionAmount = &v
	}
	return resp
}

func (h *Handler) handleIngestDelivered(w http.ResponseWriter, r *http.Request) {
	var req deliveredRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid json body", shared.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, err.Error()))
		return
	}
	amount, err := shared.ParseMoney(req.CollectedAmount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	deliveredAt, err := time.Parse(time.RFC3339, req.DeliveredAt)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: deliveredAt must be RFC3339", shared.ErrValidation))
		return
	}
	order, err := h.service.IngestDelivered(r.Context(), DeliveredFact{
		OrderID:         req.OrderID,
		DriverID:        req.DriverID,
		CollectedAmount: amount,
		Currency:        req.Currency,
		Country:         req.Country,
		DeliveredAt:     deliveredAt,
	})
	if err != nil {
		h.logger.Warn("ingest delivered order", slog.Int64("order_id", req.OrderID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) handleListDelivered(w http.ResponseWriter, r *http.Request) {
	driverID, err := strconv.ParseInt(r.URL.Query().Get("driverId"), 10, 64)
	if err != nil || driverID <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: driverId query parameter required", shared.ErrValidation))
		return
	}
	country := r.URL.Query().Get("country")
	if country == "" {
		httpx.RespondError(w, fmt.Errorf("%w: country query parameter required", shared.ErrValidation))
		return
	}
	dateRange, err := parseDateRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListDelivered(r.Context(), driverID, country, dateRange)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]orderResponse, 0, len(list))
	for _, o := range list {
		resp = append(resp, toOrderResponse(o))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": resp})
}

func parseDateRange(from, to string) (shared.DateRange, error) {
	var dr shared.DateRange
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return dr, fmt.Errorf("%w: from must be RFC3339", shared.ErrValidation)
		}
		dr.From = &t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return dr, fmt.Errorf("%w: to must be RFC3339", shared.ErrValidation)
		}
		dr.To = &t
	}
	return dr, nil
}
